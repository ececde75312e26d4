// qms-listener holds a realtime session with the QMS backend and fans received
// updates out to the log, an optional Postgres archive and an optional Redis relay.
//
// Usage: qms-listener --config configs/listener.yaml [--env-file .env]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qmsportal/qms-realtime/internal/api"
	"github.com/qmsportal/qms-realtime/internal/archive"
	"github.com/qmsportal/qms-realtime/internal/config"
	"github.com/qmsportal/qms-realtime/internal/database"
	"github.com/qmsportal/qms-realtime/internal/realtime"
	"github.com/qmsportal/qms-realtime/internal/relay"
	"github.com/qmsportal/qms-realtime/internal/version"
)

// errSessionEnded is returned when the session reaches Closed, either because
// the server ended it or reconnect attempts ran out.
var errSessionEnded = errors.New("realtime session ended")

func main() {
	configPath := flag.String("config", "configs/listener.yaml", "path to config file")
	envFile := flag.String("env-file", "", "env file to load before config (default: .env beside config)")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile, *configPath); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting qms-listener",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("listener stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("listener stopped")
}

func run(ctx context.Context, cfg *config.ListenerConfig, logger *slog.Logger) error {
	if cfg.API.RestURL != "" {
		if err := preflight(ctx, cfg, logger); err != nil {
			return err
		}
	}

	registry := realtime.NewRegistry(logger)
	manager := realtime.NewManager(cfg.ManagerConfig(), registry, logger)
	subscribeLogging(registry, logger)

	deps := healthDeps{
		session:      manager,
		departmentID: cfg.Session.DepartmentID,
	}

	// Archive
	if cfg.Archive.Enabled {
		db := cfg.Archive.Database
		logger.Info("connecting to archive database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer := archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger.With("component", "archive"))
		writer.Subscribe(registry)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start archive writer: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			writer.Stop(stopCtx)
		}()

		deps.archive = writer
		deps.archivePing = pool.Ping
	}

	// Relay
	if cfg.Relay.Enabled {
		logger.Info("connecting to redis", "addr", cfg.Relay.Addr, "db", cfg.Relay.DB)
		ps, err := relay.NewPubSub(ctx, cfg.Relay.Addr, cfg.Relay.Password, cfg.Relay.DB)
		if err != nil {
			return fmt.Errorf("connect relay: %w", err)
		}
		defer ps.Close()

		rl := relay.New(ps, cfg.Relay.ChannelPrefix, logger.With("component", "relay"))
		rl.Subscribe(registry)
		rl.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			rl.Stop(stopCtx)
		}()

		deps.relay = rl
		deps.relayPing = ps.Ping
	}

	ended, observe := closedSignal()
	manager.OnStateChange(observe)

	g, gctx := errgroup.WithContext(ctx)

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           newHealthRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := manager.Connect(gctx, cfg.Session.UserID, cfg.Session.DepartmentID); err != nil {
			return err
		}
		logger.Info("listener running",
			"session_id", manager.SessionID(),
			"user_id", cfg.Session.UserID,
			"department_id", cfg.Session.DepartmentID,
		)

		select {
		case <-gctx.Done():
			return nil
		case <-ended:
			return errSessionEnded
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("session shutdown incomplete", "error", err)
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// preflight checks backend health before opening the socket. An unreachable
// backend is fatal; a degraded one is only logged.
func preflight(ctx context.Context, cfg *config.ListenerConfig, logger *slog.Logger) error {
	client := api.NewClient(
		cfg.API.RestURL,
		cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	logger.Info("checking qms backend health", "api_url", cfg.API.RestURL)
	health, err := client.GetSystemHealth(ctx)
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}

	if !health.Healthy() {
		logger.Warn("qms backend not healthy",
			"status", health.Status,
			"degraded", health.Degraded(),
		)
		return nil
	}
	logger.Info("qms backend healthy",
		"backend_version", health.Version,
		"degraded", health.Degraded(),
	)
	return nil
}

// subscribeLogging logs every update at debug and alerts at warn.
func subscribeLogging(registry *realtime.Registry, logger *slog.Logger) {
	registry.Subscribe(realtime.AnyUpdate, func(u realtime.Update) error {
		logger.Debug("update received",
			"type", u.Type,
			"department_id", u.DepartmentID,
			"user_id", u.UserID,
			"latency", latency(u),
		)
		return nil
	})

	realtime.On(registry, func(u realtime.Update, a realtime.Alert) error {
		logger.Warn("qms alert",
			"severity", a.Severity,
			"title", a.Title,
			"source", a.Source,
			"department_id", u.DepartmentID,
		)
		return nil
	})
}

// latency is receive time minus server send time, or zero if either is unknown.
func latency(u realtime.Update) time.Duration {
	if u.Timestamp.IsZero() || u.ReceivedAt.IsZero() {
		return 0
	}
	return u.ReceivedAt.Sub(u.Timestamp)
}

// closedSignal returns a channel closed the first time observe sees the session
// reach PhaseClosed.
func closedSignal() (<-chan struct{}, func(realtime.Status)) {
	ended := make(chan struct{})
	var once sync.Once
	return ended, func(s realtime.Status) {
		if s.Phase == realtime.PhaseClosed {
			once.Do(func() { close(ended) })
		}
	}
}
