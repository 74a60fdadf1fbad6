package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show Pavilion gateway status",
		Action: func(_ context.Context, _ *cli.Command) error {
			hbPath := filepath.Join(config.PavilionPath(), "heartbeat.json")
			status, hb, err := heartbeat.Check(hbPath, 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Gateway: ALIVE (PID %d, uptime %s, plugins %d/%d loaded)\n",
					hb.PID, hb.Uptime, hb.PluginsLoaded, hb.PluginsKnown)
				for _, p := range hb.Plugins {
					if p.LoadError != "" {
						fmt.Printf("  %s: load failed: %s\n", p.ID, p.LoadError)
					} else if !p.Enabled {
						fmt.Printf("  %s: disabled\n", p.ID)
					}
				}
			case heartbeat.StatusStale:
				fmt.Printf("Gateway: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Gateway: NOT RUNNING")
			}
			return nil
		},
	}
}
