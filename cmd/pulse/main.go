package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/decentraland/Pulse/internal/config"
	"github.com/decentraland/Pulse/internal/metrics"
	"github.com/decentraland/Pulse/internal/protocol"
	"github.com/decentraland/Pulse/internal/router"
	"github.com/decentraland/Pulse/internal/server"
	"github.com/decentraland/Pulse/internal/session"
	"github.com/decentraland/Pulse/internal/wallet"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "pulse"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("service starting",
		slog.String("service", serviceName),
		slog.String("config_path", *configPath),
	)
	logger.Info("configuration loaded",
		slog.Int("listen_port", cfg.Server.ListenPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_peers", cfg.Server.MaxPeers),
		slog.Int("lanes", cfg.Router.LaneCount()),
		slog.String("server_id", cfg.Auth.ServerID),
		slog.Duration("handshake_timeout", cfg.Auth.GetHandshakeTimeout()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(registry)

	verifier := &wallet.Verifier{
		ServerID: cfg.Auth.ServerID,
		MaxSkew:  cfg.Auth.GetMaxClockSkew(),
	}

	core := router.New(router.Options{
		Lanes:       cfg.Router.LaneCount(),
		Logger:      logger,
		Metrics:     appMetrics,
		Verifier:    verifier,
		AuthTimeout: cfg.Auth.GetHandshakeTimeout(),
		Dispatcher:  loggingDispatcher(logger),
	})
	core.Start(ctx)

	transport := server.NewUDPTransport(&cfg.Server, logger, core)
	if err := transport.Start(); err != nil {
		logger.Error("failed to start transport", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, core, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("service started",
		slog.String("udp_address", transport.LocalAddr()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("starting graceful shutdown")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	// Transport first so no new packets enter the pipeline, then the core
	// drains what is already queued.
	if err := transport.Stop(); err != nil {
		logger.Error("error stopping transport", slog.String("error", err.Error()))
	}
	core.Stop()

	stats := core.GetStatistics()
	logger.Info("final statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Int("authenticated_sessions", stats.AuthenticatedSessions),
	)
	logger.Info("service stopped")
}

// loggingDispatcher is the default game-message sink: it records the
// dispatch and does nothing else. Real game logic plugs in here.
func loggingDispatcher(logger *slog.Logger) session.Dispatcher {
	return session.DispatcherFunc(func(peer protocol.PeerID, addr wallet.Address, msg *protocol.GameMessage) error {
		logger.Debug("game message",
			slog.String("peer", peer.String()),
			slog.String("wallet", addr.String()),
			slog.Int("kind", int(msg.Kind)),
			slog.Int("size", len(msg.Body)),
		)
		return nil
	})
}

// initLogger creates the structured logger from configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	output := os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}
