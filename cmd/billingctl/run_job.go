package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/tierbill/pkg/jobs"
)

func newRunJobCmd() *cobra.Command {
	names := make([]string, 0, len(jobs.Names()))
	for _, n := range jobs.Names() {
		names = append(names, string(n))
	}

	return &cobra.Command{
		Use:       "run-job <name>",
		Short:     "Run a scheduled job immediately",
		Long:      fmt.Sprintf("Run one of the scheduled billing jobs now: %s.", strings.Join(names, ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			logger := logrus.New()
			logger.SetOutput(cmd.ErrOrStderr())
			result, err := s.app.Runner(logger).RunJobManually(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
