package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectpulse/internal/api/client"
	"github.com/projectpulse/internal/scheduler"
)

func NewEvaluateCommand() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "evaluate [project_id]",
		Short: "Evaluate a project now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			h, err := c.TriggerEvaluation(args[0])
			if err != nil {
				return fmt.Errorf("failed to trigger evaluation: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Evaluation %s %s\n", h.ID, h.Status)
			if !wait {
				return nil
			}

			deadline := time.Now().Add(timeout)
			for h.Status == scheduler.StatusPending || h.Status == scheduler.StatusRunning {
				if time.Now().After(deadline) {
					return fmt.Errorf("evaluation %s still %s after %s", h.ID, h.Status, timeout)
				}
				time.Sleep(500 * time.Millisecond)
				if h, err = c.GetEvaluation(h.ID); err != nil {
					return fmt.Errorf("failed to poll evaluation: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Evaluation %s %s\n", h.ID, h.Status)
			if h.Status == scheduler.StatusFailed {
				return fmt.Errorf("evaluation failed: %s", h.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the evaluation to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long to wait with --wait")
	return cmd
}

func NewEvaluationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluation [handle]",
		Short: "Show the status of an evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			h, err := c.GetEvaluation(args[0])
			if err != nil {
				return fmt.Errorf("failed to get evaluation: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}
}
