package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/projectpulse/internal/api/client"
	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/visibility"
)

func NewScoreCommand() *cobra.Command {
	var (
		history int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "score [project_id]",
		Short: "Show a project's latest score or score history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			out := cmd.OutOrStdout()

			if history > 0 {
				views, err := c.GetScoreHistory(args[0], history)
				if err != nil {
					return fmt.Errorf("failed to get score history: %w", err)
				}
				if asJSON {
					return printJSON(out, views)
				}
				tw := newTable(out, table.Row{"Evaluated at", "Score", "Risk", "Model"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.EvaluatedAt.Format(time.RFC3339), fmt.Sprintf("%.1f", v.Composite), v.RiskLevel, v.ModelVersion})
				}
				tw.Render()
				return nil
			}

			v, err := c.GetScore(args[0])
			if err != nil {
				return fmt.Errorf("failed to get score: %w", err)
			}
			if asJSON {
				return printJSON(out, v)
			}
			if v == nil {
				fmt.Fprintln(out, "No score available")
				return nil
			}
			renderScore(out, v)
			return nil
		},
	}

	cmd.Flags().IntVar(&history, "history", 0, "Show the last N scores instead of the latest")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func renderScore(out io.Writer, v *visibility.ScoreView) {
	fmt.Fprintf(out, "Project %s: %.1f (%s risk), model %s, evaluated %s\n",
		v.ProjectID, v.Composite, v.RiskLevel, v.ModelVersion, v.EvaluatedAt.Format(time.RFC3339))
	if len(v.Breakdown) == 0 {
		return
	}
	tw := newTable(out, table.Row{"Metric", "Value", "Contribution"})
	for _, name := range models.KnownMetrics {
		value := "n/a"
		if v.Metrics != nil {
			if m, ok := v.Metrics.Value(name); ok {
				value = fmt.Sprintf("%.2f", m)
			}
		}
		contribution := "-"
		if c, ok := v.Breakdown[name]; ok {
			contribution = fmt.Sprintf("%.1f", c)
		}
		tw.AppendRow(table.Row{name, value, contribution})
	}
	tw.Render()
}
