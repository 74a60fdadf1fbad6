package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/events"
	"github.com/pavilion-host/pavilion/internal/gateway"
	"github.com/pavilion-host/pavilion/internal/gitops"
	"github.com/pavilion-host/pavilion/internal/heartbeat"
	"github.com/pavilion-host/pavilion/internal/mailer"
	"github.com/pavilion-host/pavilion/internal/plugins"
	"github.com/pavilion-host/pavilion/internal/rbac"
	"github.com/pavilion-host/pavilion/internal/secrets"
	"github.com/pavilion-host/pavilion/internal/store"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Pavilion gateway and extension host",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Audit log: security events, one JSONL file per plugin namespace.
	audit := store.NewAuditLogger(filepath.Join(config.PavilionPath(), "audit"), bus)
	defer audit.Close()

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	// Secrets: create the age identity on first boot, then load the bag.
	identity, err := secrets.EnsureIdentity(cfg.Secrets.KeyPath)
	if err != nil {
		return fmt.Errorf("age identity: %w", err)
	}
	bag, err := secrets.LoadBag(cfg.Secrets.File, identity)
	if err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}

	if err := os.MkdirAll(cfg.Git.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create git work dir: %w", err)
	}

	var smtp *mailer.Client
	if cfg.Mailer.Host != "" {
		smtp = mailer.NewClient(cfg.Mailer.Host, cfg.Mailer.Port, cfg.Mailer.From,
			cfg.Mailer.Username, cfg.Mailer.Password)
	}

	deps := plugins.ResolveDeps{
		Secrets: bag,
		Mailer:  smtp,
		Git:     gitops.NewClient(cfg.Git.WorkDir, cfg.Git.Timeout.Duration()),
		Bus:     bus,
		DataDir: filepath.Join(config.PavilionPath(), "data"),
		RefreshEnvCache: func() {
			if err := config.LoadDotenv(config.DotenvPath()); err != nil {
				slog.Warn("env cache refresh failed", "error", err)
			}
		},
	}

	host := plugins.NewExtensionHost(cfg, db, bus, deps, slog.Default())
	if err := host.Init(ctx); err != nil {
		return fmt.Errorf("init extension host: %w", err)
	}

	roles, err := rbac.LoadRoles(cfg.RBAC.RolesFile)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}

	hb := heartbeat.NewWriter(filepath.Join(config.PavilionPath(), "heartbeat.json"),
		func() []heartbeat.PluginBeat {
			loaded := host.Loaded()
			beats := make([]heartbeat.PluginBeat, 0, len(loaded))
			for _, lp := range loaded {
				beats = append(beats, heartbeat.PluginBeat{
					ID:        lp.Record.PluginID,
					Enabled:   host.State().IsEnabled(lp.Record.Namespace),
					Loaded:    lp.Runtime != nil,
					LoadError: lp.LoadError,
				})
			}
			return beats
		})
	hb.Start()
	defer hb.Stop()

	srv := gateway.NewServer(cfg, bus, host, roles)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		host.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown", "error", err)
		}
	}()

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
