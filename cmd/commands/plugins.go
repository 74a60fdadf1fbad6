package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/pavilion-host/pavilion/internal/store"
)

// NewPluginsCommand returns the plugins subcommand group.
func NewPluginsCommand() *cli.Command {
	return &cli.Command{
		Name:  "plugins",
		Usage: "Inspect and manage the plugin registry",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List registered plugins",
				Action: runPluginsList,
			},
			{
				Name:      "enable",
				Usage:     "Enable a plugin by id",
				ArgsUsage: "<plugin-id>",
				Action:    setEnabledAction(true),
			},
			{
				Name:      "disable",
				Usage:     "Disable a plugin by id",
				ArgsUsage: "<plugin-id>",
				Action:    setEnabledAction(false),
			},
		},
	}
}

func runPluginsList(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	rows, err := db.ListPlugins(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("no plugins registered")
		return nil
	}

	fmt.Printf("%-24s %-16s %-10s %-8s %s\n", "ID", "NAMESPACE", "VERSION", "TYPE", "ENABLED")
	for _, row := range rows {
		enabled := "unset"
		if row.Enabled != nil {
			enabled = fmt.Sprintf("%t", *row.Enabled)
		}
		flags := ""
		if row.CorePlugin {
			flags += " [core]"
		}
		if row.DevOnly {
			flags += " [dev]"
		}
		fmt.Printf("%-24s %-16s %-10s %-8s %s%s\n",
			row.PluginID, row.Namespace, row.Version, row.Type, enabled, flags)
	}
	return nil
}

func setEnabledAction(enabled bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		pluginID := cmd.Args().First()
		if pluginID == "" {
			return fmt.Errorf("plugin id is required")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		if err := db.SetPluginEnabled(ctx, pluginID, enabled); err != nil {
			return err
		}
		verb := "enabled"
		if !enabled {
			verb = "disabled"
		}
		fmt.Printf("%s %s; a running gateway applies it on its next reconcile\n", verb, pluginID)
		return nil
	}
}
