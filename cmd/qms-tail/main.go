// qms-tail connects to the QMS realtime socket and prints updates to the console.
// Usage: go run ./cmd/qms-tail --config configs/listener.yaml [--types alert,metric_update] [--verbose]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/qmsportal/qms-realtime/internal/config"
	"github.com/qmsportal/qms-realtime/internal/realtime"
)

func main() {
	configPath := flag.String("config", "configs/listener.yaml", "path to config file")
	types := flag.String("types", "", "comma-separated update types to print (default: all)")
	user := flag.String("user", "", "override session.user_id")
	dept := flag.String("department", "", "override session.department_id")
	verbose := flag.Bool("verbose", false, "print full update JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := config.LoadEnvFile("", *configPath); err != nil {
		logger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *user != "" {
		cfg.Session.UserID = *user
	}
	if *dept != "" {
		cfg.Session.DepartmentID = *dept
	}

	filter, err := parseTypes(*types)
	if err != nil {
		logger.Error("invalid --types", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := realtime.NewRegistry(logger)
	for _, t := range filter {
		registry.Subscribe(t, printer(os.Stdout, *verbose))
	}

	manager := realtime.NewManager(cfg.ManagerConfig(), registry, logger)
	manager.OnStateChange(func(s realtime.Status) {
		logger.Info("session state", "phase", s.Phase, "attempt", s.Attempt)
		if s.Phase == realtime.PhaseClosed {
			stop()
		}
	})

	if err := manager.Connect(ctx, cfg.Session.UserID, cfg.Session.DepartmentID); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := manager.Stats()
				logger.Info("stats",
					"phase", s.Phase,
					"received", s.Received,
					"dispatched", s.Dispatched,
					"malformed", s.Malformed,
					"handler_failures", s.HandlerFailures,
					"reconnects", s.Reconnects,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

// parseTypes turns a comma list into update types. Empty means all.
func parseTypes(s string) ([]realtime.UpdateType, error) {
	if strings.TrimSpace(s) == "" {
		return []realtime.UpdateType{realtime.AnyUpdate}, nil
	}

	var out []realtime.UpdateType
	for _, part := range strings.Split(s, ",") {
		t := realtime.UpdateType(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if t != realtime.AnyUpdate && !t.Valid() {
			return nil, fmt.Errorf("unknown update type %q", t)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no update types in %q", s)
	}
	return out, nil
}

func printer(w io.Writer, verbose bool) realtime.Handler {
	return func(u realtime.Update) error {
		_, err := fmt.Fprintln(w, formatUpdate(u, verbose))
		return err
	}
}

// formatUpdate renders one console line for u.
func formatUpdate(u realtime.Update, verbose bool) string {
	tag := "[" + strings.ToUpper(string(u.Type)) + "]"
	if verbose {
		return tag + " " + string(u.Raw)
	}

	p, err := u.Payload()
	if err != nil {
		return fmt.Sprintf("%s undecodable payload: %v", tag, err)
	}

	switch p := p.(type) {
	case realtime.MetricUpdate:
		return fmt.Sprintf("%s dept=%s metric=%s value=%g prev=%g unit=%s",
			tag, u.DepartmentID, p.Metric, p.Value, p.Previous, p.Unit)
	case realtime.DashboardRefresh:
		return fmt.Sprintf("%s dept=%s dashboard=%s sections=%s reason=%s",
			tag, u.DepartmentID, p.Dashboard, strings.Join(p.Sections, ","), p.Reason)
	case realtime.Alert:
		return fmt.Sprintf("%s dept=%s severity=%s title=%q source=%s",
			tag, u.DepartmentID, p.Severity, p.Title, p.Source)
	case realtime.UserActivity:
		return fmt.Sprintf("%s user=%s action=%s resource=%s/%s",
			tag, p.UserID, p.Action, p.Resource, p.ResourceID)
	}
	return tag
}
