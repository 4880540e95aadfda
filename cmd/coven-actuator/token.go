// ABOUTME: token command: issues a requester JWT signed with the configured secret
// ABOUTME: Used by clients when auth.jwt_secret is set

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-actuator/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token REQUESTER_ID",
		Short: "Issue a bearer token for a requester",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("jwt_secret not configured in %s", configPath)
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating JWT verifier: %w", err)
			}
			token, err := verifier.Generate(args[0], ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
