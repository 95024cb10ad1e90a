package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/projectpulse/internal/api/client"
)

func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Portfolio reports (admin)",
	}

	cmd.AddCommand(newReportShowCommand())
	cmd.AddCommand(newReportExportCommand())

	return cmd
}

func newReportShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the portfolio summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			p, err := c.Portfolio()
			if err != nil {
				return fmt.Errorf("failed to load portfolio: %w", err)
			}

			tw := newTable(cmd.OutOrStdout(), table.Row{"Project", "Title", "Score", "Risk", "Open alerts", "Highest"})
			for _, s := range p.Projects {
				score := "-"
				if s.Composite != nil {
					score = fmt.Sprintf("%.1f", *s.Composite)
				}
				tw.AppendRow(table.Row{s.ProjectID, s.Title, score, orDash(string(s.RiskLevel)), s.OpenAlerts, orDash(string(s.HighestSeverity))})
			}
			tw.AppendFooter(table.Row{"", "", "", "", p.AlertSummary.TotalAlerts, ""})
			tw.Render()
			return nil
		},
	}
}

func newReportExportCommand() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the portfolio report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "xlsx" {
				return fmt.Errorf("unsupported format %q (json or xlsx)", format)
			}
			if output == "" {
				output = "portfolio." + format
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			if err := c.ExportPortfolio(format, output); err != nil {
				return fmt.Errorf("failed to export report: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "xlsx", "Output format (json/xlsx)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default portfolio.<format>)")
	return cmd
}
