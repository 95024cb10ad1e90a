package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/projectpulse/internal/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "ProjectPulse CLI - research project health and alerts",
	Long: `pulse talks to a ProjectPulse server. It triggers evaluations, shows
scores and alerts, manages the evaluation policy and exports portfolio reports.

Set PULSE_API_URL and PULSE_TOKEN before use.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(commands.NewEvaluateCommand())
	rootCmd.AddCommand(commands.NewEvaluationCommand())
	rootCmd.AddCommand(commands.NewScoreCommand())
	rootCmd.AddCommand(commands.NewAlertCommand())
	rootCmd.AddCommand(commands.NewPolicyCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewProjectCommand())
	rootCmd.AddCommand(commands.NewTokenCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
