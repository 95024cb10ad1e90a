package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectpulse/internal/auth"
	"github.com/projectpulse/internal/models"
)

// NewTokenCommand mints bearer tokens for local development. In production
// tokens come from the platform's auth service.
func NewTokenCommand() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
		secret string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("PULSE_AUTH_JWT_SECRET")
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set PULSE_AUTH_JWT_SECRET")
			}
			r := models.Role(role)
			if r != models.RoleAdmin && !r.IsAuthenticatedUser() {
				return fmt.Errorf("unknown role %q (admin, investigator, community)", role)
			}

			tok, err := auth.GenerateToken(secret, userID, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID to put in the token")
	cmd.Flags().StringVar(&role, "role", string(models.RoleInvestigator), "Role (admin/investigator/community)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (default $PULSE_AUTH_JWT_SECRET)")
	cmd.MarkFlagRequired("user")
	return cmd
}
