// File: cmd/status.go
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dmage20/linkedin-job-agent/internal/observability"
	"github.com/dmage20/linkedin-job-agent/internal/store"
)

// newStatusCmd creates the `status` command: safety state plus the most
// recent applications from the audit trail.
func newStatusCmd() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Shows safety state and recent application activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			limit, _ := cmd.Flags().GetInt("limit")

			stopActive := false
			if cfg.Safety.EmergencyStopFile != "" {
				if _, err := os.Stat(cfg.Safety.EmergencyStopFile); err == nil {
					stopActive = true
				}
			}
			fmt.Fprintf(out, "Emergency stop: %s\n", onOff(stopActive))
			fmt.Fprintf(out, "Volume caps:    %d/hour, %d/day\n",
				cfg.Safety.ApplicationsPerHour, cfg.Safety.ApplicationsPerDay)

			if cfg.Database.URL == "" {
				fmt.Fprintln(out, "\nNo database configured; application history unavailable.")
				return nil
			}

			dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer dbPool.Close()

			dbStore, err := store.New(ctx, dbPool, observability.GetLogger())
			if err != nil {
				return err
			}

			now := time.Now()
			hourly, err := dbStore.CountApplicationsSince(ctx, now.Add(-time.Hour))
			if err != nil {
				return err
			}
			daily, err := dbStore.CountApplicationsSince(ctx, now.Add(-24*time.Hour))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Submitted:      %d in the last hour, %d in the last day\n", hourly, daily)

			recs, err := dbStore.ListRecentApplications(ctx, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "\nNo applications recorded yet.")
				return nil
			}

			fmt.Fprintf(out, "\n%-10s  %-19s  %-30s  %s\n", "STATUS", "UPDATED", "COMPANY / TITLE", "JOB URL")
			for _, rec := range recs {
				title := rec.Company
				if rec.JobTitle != "" {
					if title != "" {
						title += " / "
					}
					title += rec.JobTitle
				}
				fmt.Fprintf(out, "%-10s  %-19s  %-30s  %s\n",
					rec.Status, rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
					truncate(title, 30), rec.JobURL)
			}
			return nil
		},
	}

	statusCmd.Flags().Int("limit", 20, "How many recent applications to list.")
	return statusCmd
}

func onOff(b bool) string {
	if b {
		return "ACTIVE"
	}
	return "inactive"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
