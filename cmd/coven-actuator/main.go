// ABOUTME: Entry point for the coven-actuator device reservation service
// ABOUTME: Builds the cobra command tree and resolves config and data paths

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/coven-actuator/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                 _               _
  ___ _____   _____ _ __        __ _  ___| |_ _   _  __ _| |_ ___  _ __
 / __/ _ \ \ / / _ \ '_ \ _____/ _' |/ __| __| | | |/ _' | __/ _ \| '__|
| (_| (_) \ V /  __/ | | |_____| (_| | (__| |_| |_| | (_| | || (_) | |
 \___\___/ \_/ \___|_| |_|      \__,_|\___|\__|\__,_|\__,_|\__\___/|_|
`

var flagConfig string

// getConfigPath returns the path to the actuator config file.
// Priority: --config flag > COVEN_ACTUATOR_CONFIG env var > XDG_CONFIG_HOME/coven/actuator.yaml > ~/.config/coven/actuator.yaml
func getConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if envPath := os.Getenv("COVEN_ACTUATOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "actuator.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "actuator.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coven-actuator",
		Short:         "Device reservation scheduler",
		Long:          "coven-actuator grants exclusive, time-bounded device reservations with priority preemption and heartbeat liveness.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (or COVEN_ACTUATOR_CONFIG env)")

	root.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newTokenCmd(),
		newScheduleCmd(),
		newHealthCmd(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
