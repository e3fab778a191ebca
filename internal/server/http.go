package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/decentraland/Pulse/internal/config"
	"github.com/decentraland/Pulse/internal/router"
)

// HTTPServer provides the monitoring and management API.
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	core     *router.Core
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the monitoring API server.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, core *router.Core, gatherer prometheus.Gatherer) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		core:      core,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/config", h.handleConfig)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h
}

// Start begins serving in a background goroutine.
func (h *HTTPServer) Start() error {
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()
	h.logger.Info("HTTP API server started", slog.String("address", h.server.Addr))
	return nil
}

// Stop shuts the server down gracefully.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("stopping HTTP API server")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.core.GetStatistics())
}

func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	claims := h.core.Claims().Snapshot()
	h.writeJSON(w, map[string]any{
		"count":    len(claims),
		"sessions": claims,
	})
}

// handleConfig reports the effective configuration. Nothing here is secret,
// but the shape mirrors the YAML so operators can diff against their file.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"server": map[string]any{
			"listen_port":       h.config.Server.ListenPort,
			"bind_address":      h.config.Server.BindAddress,
			"max_peers":         h.config.Server.MaxPeers,
			"poll_timeout_ms":   h.config.Server.PollTimeoutMs,
			"peer_idle_timeout": h.config.Server.PeerIdleTimeout,
		},
		"router": map[string]any{
			"lanes": h.config.Router.LaneCount(),
		},
		"auth": map[string]any{
			"server_id":         h.config.Auth.ServerID,
			"handshake_timeout": h.config.Auth.HandshakeTimeout,
			"max_clock_skew":    h.config.Auth.MaxClockSkew,
		},
	})
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
