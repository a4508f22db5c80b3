package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tierbill/pkg/billing"
	"github.com/platinummonkey/tierbill/pkg/reconciliation"
)

func newReconcileCmd() *cobra.Command {
	var (
		start, end, format, out string
		archive                 bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Export invoices and payments for accounting",
		Long: `Export invoices and payments between two dates (inclusive) as CSV or
XLSX. Without dates the previous calendar month is exported. --archive
uploads the month's workbook to the configured S3 bucket instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			from, to, err := reconcileRange(start, end, time.Now(), s.app.Location)
			if err != nil {
				return err
			}

			if archive {
				if s.app.Archiver == nil {
					return fmt.Errorf("--archive requires BILLING_S3_BUCKET")
				}
				key, err := s.app.Archiver.ArchiveMonth(cmd.Context(), from, to)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "archived s3://%s/%s\n", s.cfg.S3.Bucket, key)
				return nil
			}

			f, err := reconciliation.ParseFormat(format)
			if err != nil {
				return err
			}
			rows, err := s.app.Reconciler.Build(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			body, err := reconciliation.Render(rows, f)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if err := os.WriteFile(out, body, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", len(rows), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "Last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&out, "output", "o", "", "File to write; stdout when empty")
	cmd.Flags().BoolVar(&archive, "archive", false, "Upload the workbook to S3")
	return cmd
}

// reconcileRange resolves the export range. Missing bounds default to the
// calendar month before now.
func reconcileRange(start, end string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	from, to := billing.PreviousMonth(now, loc)
	var err error
	if start != "" {
		if from, err = time.ParseInLocation("2006-01-02", start, loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start %q (want YYYY-MM-DD)", start)
		}
	}
	if end != "" {
		if to, err = time.ParseInLocation("2006-01-02", end, loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end %q (want YYYY-MM-DD)", end)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	return from, to, nil
}
