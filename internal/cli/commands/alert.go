package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/projectpulse/internal/api/client"
	"github.com/projectpulse/internal/models"
)

func NewAlertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert management commands",
		Aliases: []string{"alerts", "a"},
	}

	cmd.AddCommand(newAlertListCommand())
	cmd.AddCommand(newAlertAcknowledgeCommand())
	cmd.AddCommand(newAlertSummaryCommand())

	return cmd
}

func newAlertListCommand() *cobra.Command {
	var (
		status  string
		asJSON  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:     "list [project_id]",
		Short:   "List alerts for a project",
		Aliases: []string{"ls"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			alerts, err := c.ListAlerts(args[0], status)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), alerts)
			}

			tw := newTable(cmd.OutOrStdout(), table.Row{"ID", "Rule", "Severity", "Status", "Occurrences", "First seen", "Last seen"})
			for _, a := range alerts {
				tw.AppendRow(table.Row{
					a.ID,
					a.RuleName,
					a.Severity,
					a.Status,
					a.Occurrences,
					a.FirstSeen.Format(time.RFC3339),
					a.LastSeen.Format(time.RFC3339),
				})
				if verbose && a.Recommendation != nil {
					tw.AppendRow(table.Row{"", a.Recommendation.Text})
				}
			}
			tw.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "open", "Filter by alert status (open/resolved/all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show recommendations")

	return cmd
}

func newAlertAcknowledgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "acknowledge [alert_id]",
		Short:   "Acknowledge an alert",
		Aliases: []string{"ack"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			a, err := c.AcknowledgeAlert(args[0])
			if err != nil {
				return fmt.Errorf("failed to acknowledge alert: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s acknowledged by %s\n", a.ID, a.AcknowledgedBy)
			return nil
		},
	}
}

func newAlertSummaryCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count alerts across all projects (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			s, err := c.AlertSummary(status)
			if err != nil {
				return fmt.Errorf("failed to load alert summary: %w", err)
			}

			tw := newTable(cmd.OutOrStdout(), table.Row{"Group", "Value", "Count"})
			for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityWarning, models.SeverityInfo} {
				tw.AppendRow(table.Row{"severity", sev, s.BySeverity[sev]})
			}
			for _, st := range []models.AlertStatus{models.AlertStatusOpen, models.AlertStatusAcknowledged, models.AlertStatusResolved} {
				tw.AppendRow(table.Row{"status", st, s.ByStatus[st]})
			}
			tw.AppendFooter(table.Row{"", "total", s.Total})
			tw.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "all", "Alert status filter (open/resolved/all)")
	return cmd
}
