package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"studyhub/internal/service/attachment"
)

func (c *cli) cleanupAttachmentsCmd() *cobra.Command {
	var (
		dryRun    bool
		days      int
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "cleanup-attachments",
		Short: "Delete chat attachments older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return errors.New("--days must be positive")
			}
			report, err := c.app.Attachments.Sweep(cmd.Context(), attachment.SweepOptions{
				OlderThan: time.Duration(days) * 24 * time.Hour,
				DryRun:    dryRun,
				BatchSize: batchSize,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cutoff: %s\n", report.Cutoff.Format(time.RFC3339))
			if report.DryRun {
				for _, cand := range report.Candidates {
					fmt.Fprintf(out, "  %s  user=%d  created=%s  %s\n",
						cand.ID, cand.OwnerID, cand.CreatedAt.Format(time.RFC3339), cand.StoragePath)
				}
				fmt.Fprintf(out, "would delete %d attachments (dry run)\n", len(report.Candidates))
				return nil
			}
			fmt.Fprintf(out, "deleted %d of %d attachments\n", report.Deleted, len(report.Candidates))
			for _, e := range report.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e)
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d attachments could not be deleted", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report candidates without deleting anything")
	cmd.Flags().IntVar(&days, "days", int(attachment.DefaultRetention/(24*time.Hour)), "retention window in days")
	cmd.Flags().IntVar(&batchSize, "batch-size", attachment.DefaultSweepBatch, "attachments deleted per storage call")
	return cmd
}
