// ABOUTME: serve command: prints the startup banner and runs the gateway
// ABOUTME: Blocks until SIGINT or SIGTERM

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-actuator/internal/gateway"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reservation service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cyan := color.New(color.FgCyan)
			cyan.Print(banner)

			gray := color.New(color.FgHiBlack)
			gray.Printf("    version: %s\n\n", version)

			cfg, configPath, err := loadConfig()
			if err != nil {
				return err
			}

			logger, err := setupLogger(cfg.Logging)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", configPath)
			green.Print("    ▶ ")
			fmt.Printf("Database:  %s\n", cfg.Database.Path)
			if cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("Tailscale: ")
				cyan.Print(cfg.Tailscale.Hostname)
				if cfg.Tailscale.Ephemeral {
					gray.Print(" (ephemeral)")
				}
				fmt.Println()
			} else {
				green.Print("    ▶ ")
				fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
			}
			green.Print("    ▶ ")
			fmt.Printf("Grace:     %s   Heartbeat: %s (miss threshold %d)\n",
				cfg.Scheduler.PreemptGraceTime, cfg.Scheduler.HeartbeatInterval, cfg.Scheduler.HeartbeatMissThreshold)
			if cfg.Auth.JWTSecret == "" {
				yellow.Println("    ! auth disabled: requests are trusted by X-Requester-ID")
			}
			fmt.Println()

			logger.Info("starting coven-actuator",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"tailscale", cfg.Tailscale.Enabled,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}
