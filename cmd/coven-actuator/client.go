// ABOUTME: Client commands that talk to a running service: schedule and health
// ABOUTME: Resolve the server URL from --server or the config file

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-actuator/internal/api"
	"github.com/2389/coven-actuator/internal/auth"
)

type clientFlags struct {
	server    string
	token     string
	requester string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "service URL (defaults to server.http_addr from config)")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("COVEN_ACTUATOR_TOKEN"), "bearer token (or COVEN_ACTUATOR_TOKEN env)")
	cmd.Flags().StringVar(&f.requester, "requester", "cli", "requester ID sent in anonymous mode")
}

func (f *clientFlags) baseURL() (string, error) {
	if f.server != "" {
		return f.server, nil
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Tailscale.Enabled {
		return "http://" + cfg.Tailscale.Hostname, nil
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}

func (f *clientFlags) get(ctx context.Context, path string) (*http.Response, error) {
	base, err := f.baseURL()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	} else {
		req.Header.Set(auth.RequesterHeader, f.requester)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func newScheduleCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "schedule DEVICE_ID",
		Short: "Show the reservations held for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := flags.get(cmd.Context(), "/api/devices/"+url.PathEscape(args[0])+"/schedule")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("status %d: %s", resp.StatusCode, body)
			}

			var list api.ReservationListResponse
			if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}

			if len(list.Reservations) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no reservations for %s\n", args[0])
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREQUESTER\tTASK\tSTART\tEND\tPRIO\tSTATE\tLIVENESS")
			for _, r := range list.Reservations {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.RequesterID, r.TaskID,
					r.Start.Local().Format(time.DateTime), r.End.Local().Format(time.DateTime),
					r.Priority, colorState(r.State), r.Liveness)
			}
			return tw.Flush()
		},
	}
	flags.register(cmd)
	return cmd
}

func colorState(state string) string {
	switch state {
	case "ACTIVE":
		return color.GreenString(state)
	case "PREEMPTING":
		return color.YellowString(state)
	default:
		return state
	}
}

func newHealthCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check service health and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range []string{"/health", "/health/ready"} {
				resp, err := flags.get(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("health check failed: %w", err)
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("unhealthy: %s status %d: %s", path, resp.StatusCode, body)
				}
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
