package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tierbill/pkg/config"
	"github.com/platinummonkey/tierbill/pkg/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			db, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if !statusOnly {
				if err := postgres.Migrate(cmd.Context(), db); err != nil {
					return err
				}
			}
			version, err := postgres.SchemaVersion(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "Print the schema version without migrating")
	return cmd
}
