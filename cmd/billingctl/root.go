package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/tierbill/pkg/app"
	"github.com/platinummonkey/tierbill/pkg/config"
	"github.com/platinummonkey/tierbill/pkg/observability"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Operator CLI for the tierbill billing engine",
		Long: `billingctl runs billing jobs by hand, applies database migrations,
inspects the tier catalog and exports reconciliation reports.

Configuration is read from BILLING_* environment variables and an optional
.env file in the working directory.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	root.AddCommand(
		newRunJobCmd(),
		newMigrateCmd(),
		newTiersCmd(),
		newReconcileCmd(),
	)
	return root
}

// session is a connected billing engine for one command.
type session struct {
	cfg   *config.Config
	infra *app.Infra
	app   *app.App
}

func (s *session) Close() error { return s.infra.Close() }

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	// The CLI never migrates implicitly; use `billingctl migrate`.
	cfg.Database.AutoMigrate = false

	logger := observability.NewLogger(observability.WarnLevel, nil)
	infra, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, infra, app.Options{Logger: logger})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("failed to assemble billing engine: %w", err)
	}
	return &session{cfg: cfg, infra: infra, app: a}, nil
}
