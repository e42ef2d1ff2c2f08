package main

import (
	"fmt"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs",
	}
	cmd.AddCommand(newRunsListCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}

			q := conn.Model(&models.Run{}).Order("created_at DESC").Limit(limit)
			if status != "" {
				if _, err := station.ParseRunStatus(status); err != nil {
					return fmt.Errorf("sbx: %w", err)
				}
				q = q.Where("status = ?", status)
			}

			var runs []models.Run
			if err := q.Find(&runs).Error; err != nil {
				return fmt.Errorf("sbx: list runs: %w", err)
			}
			for _, r := range runs {
				current := "-"
				if r.CurrentStation != nil {
					current = *r.CurrentStation
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t#%d\t%s\t%s\n", r.ID, r.IssueNumber, r.Status, current)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by run status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
