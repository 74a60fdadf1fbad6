// Package gateway is Pavilion's HTTP front: health and introspection
// endpoints, the live event feed, and the mounted plugin routes.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/pavilion-host/pavilion/internal/caperr"
	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/events"
	"github.com/pavilion-host/pavilion/internal/gateway/ws"
	"github.com/pavilion-host/pavilion/internal/plugins"
	"github.com/pavilion-host/pavilion/internal/rbac"
)

// Server is the Pavilion gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	host       *plugins.ExtensionHost
	cfg        *config.Config
	cron       *cron.Cron
}

// NewServer wires the router: ambient middleware, the auth token check, role
// resolution, the host's plugin mounts, and the API endpoints.
func NewServer(cfg *config.Config, bus *events.Bus, host *plugins.ExtensionHost, roles map[string]rbac.Role) *Server {
	s := &Server{
		hub:  ws.NewHub(bus),
		bus:  bus,
		host: host,
		cfg:  cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.authToken)
	r.Use(rbac.Resolver(roles))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/events/ws", s.hub.ServeWS)
	r.Get("/api/plugins", s.handlePlugins)

	r.Group(func(admin chi.Router) {
		admin.Use(rbac.RequireCapability("plugins.manage"))
		admin.Post("/api/plugins/{pluginID}/enable", s.handleSetEnabled(true))
		admin.Post("/api/plugins/{pluginID}/disable", s.handleSetEnabled(false))
	})

	host.Mount(r)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler: r,
	}
	return s
}

// Start begins listening and, when configured, schedules the periodic
// registry reconcile. It blocks until the server is stopped.
func (s *Server) Start() error {
	if expr := s.cfg.Plugins.ReconcileCron; expr != "" {
		s.cron = cron.New()
		_, err := s.cron.AddFunc(expr, func() {
			if err := s.host.Reconcile(context.Background()); err != nil {
				slog.Error("scheduled reconcile failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule reconcile %q: %w", expr, err)
		}
		s.cron.Start()
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("pavilion gateway listening", "addr", ln.Addr().String())
	s.bus.Publish(events.NewEvent(events.EventHostStarted, events.SourceGateway,
		map[string]any{"addr": ln.Addr().String()}))
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server, the cron schedule, and the ws hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.hub.Close()
	s.bus.Publish(events.NewEvent(events.EventHostStopped, events.SourceGateway, nil))
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// authToken enforces the shared bearer token when one is configured. Health
// stays reachable for probes either way.
func (s *Server) authToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Gateway.AuthToken
		if token == "" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if header != "Bearer "+token {
			caperr.WriteHTTP(w, caperr.New(http.StatusUnauthorized, "unauthorized",
				"missing or invalid bearer token", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.bus.History(limit))
}

// pluginInfo is the public listing shape for one plugin.
type pluginInfo struct {
	ID        string   `json:"id"`
	Namespace string   `json:"namespace"`
	Version   string   `json:"version"`
	Type      string   `json:"type"`
	Enabled   bool     `json:"enabled"`
	Loaded    bool     `json:"loaded"`
	Kind      string   `json:"kind,omitempty"`
	Granted   []string `json:"granted,omitempty"`
	LoadError string   `json:"loadError,omitempty"`
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	state := s.host.State()
	var out []pluginInfo
	for _, lp := range s.host.Loaded() {
		info := pluginInfo{
			ID:        lp.Record.PluginID,
			Namespace: lp.Record.Namespace,
			Version:   lp.Record.Version,
			Type:      lp.Record.Type,
			Enabled:   state.IsEnabled(lp.Record.Namespace),
			Loaded:    lp.Runtime != nil,
			LoadError: lp.LoadError,
		}
		if lp.Runtime != nil {
			info.Kind = lp.Runtime.Kind().String()
			info.Granted = lp.Runtime.Granted()
		}
		out = append(out, info)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pluginID := strings.TrimSpace(chi.URLParam(r, "pluginID"))
		if pluginID == "" {
			caperr.WriteHTTP(w, caperr.New(http.StatusBadRequest, "bad_request",
				"plugin id is required", nil))
			return
		}
		if err := s.host.SetEnabled(r.Context(), pluginID, enabled); err != nil {
			caperr.WriteHTTP(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": pluginID, "enabled": enabled})
	}
}
