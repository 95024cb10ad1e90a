package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/projectpulse/internal/alert"
	"github.com/projectpulse/internal/api/client"
)

func NewPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Evaluation policy commands",
	}

	cmd.AddCommand(newPolicyValidateCommand())
	cmd.AddCommand(newPolicyReloadCommand())

	return cmd
}

// The validate command runs offline so policy files can be checked before
// they are deployed.
func newPolicyValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a policy file without contacting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := alert.LoadPolicyFile(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			model := p.Model()
			fmt.Fprintf(out, "Policy %s is valid (scoring model %s)\n", p.Version, model.Version)
			tw := newTable(out, table.Row{"Rule", "Name", "Severity", "Tiers", "Debounce", "Enabled"})
			for _, r := range p.Rules {
				tw.AppendRow(table.Row{r.ID, r.Name, r.Severity, len(r.Tiers), r.Debounce.String(), r.IsEnabled()})
			}
			tw.Render()
			return nil
		},
	}
}

func newPolicyReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the server to reload its policy file (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			info, err := c.ReloadPolicy()
			if err != nil {
				return fmt.Errorf("failed to reload policy: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Policy %s loaded with %d rules\n", info.Version, info.Rules)
			return nil
		},
	}
}
