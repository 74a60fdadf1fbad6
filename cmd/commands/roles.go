package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/pavilion-host/pavilion/internal/rbac"
)

// NewRolesCommand returns the roles subcommand.
func NewRolesCommand() *cli.Command {
	return &cli.Command{
		Name:      "roles",
		Usage:     "Show effective capabilities for a set of roles",
		ArgsUsage: "[role ...]",
		Action:    runRoles,
	}
}

func runRoles(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defined, err := rbac.LoadRoles(cfg.RBAC.RolesFile)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}

	assigned := cmd.Args().Slice()
	if len(assigned) == 0 {
		if len(defined) == 0 {
			fmt.Println("no roles defined")
			return nil
		}
		names := make([]string, 0, len(defined))
		for name := range defined {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("defined roles:")
		for _, name := range names {
			fmt.Printf("  %s (%d capabilities)\n", name, len(defined[name].Capabilities))
		}
		return nil
	}

	effective := rbac.EffectiveCapabilities(rbac.Resolve(defined, assigned))
	if len(effective) == 0 {
		fmt.Println("no capabilities granted")
		return nil
	}
	keys := make([]string, 0, len(effective))
	for key := range effective {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%-32s %s\n", key, effective[key])
	}
	return nil
}
