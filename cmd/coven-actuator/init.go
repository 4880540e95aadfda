// ABOUTME: init command: writes a starter configuration file
// ABOUTME: Optionally generates a random JWT secret

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-actuator/internal/config"
)

func newInitCmd() *cobra.Command {
	var force, withSecret bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := getConfigPath()
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}

			dataPath := getDataPath()
			content := config.Template(filepath.Join(dataPath, "actuator.db"))
			if withSecret {
				secret, err := generateSecret()
				if err != nil {
					return err
				}
				content = strings.Replace(content, `"${COVEN_ACTUATOR_JWT_SECRET}"`, `"`+secret+`"`, 1)
			}

			if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.MkdirAll(dataPath, 0755); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}
			if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", configPath)
			fmt.Println()
			color.New(color.FgYellow).Println("  Ready to go:")
			fmt.Println("    coven-actuator serve")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&withSecret, "with-secret", false, "embed a freshly generated jwt_secret")
	return cmd
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
