package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qmsportal/qms-realtime/internal/archive"
	"github.com/qmsportal/qms-realtime/internal/realtime"
	"github.com/qmsportal/qms-realtime/internal/relay"
	"github.com/qmsportal/qms-realtime/internal/version"
)

// session is the part of the realtime manager the health server reads.
type session interface {
	Status() realtime.Status
	Stats() realtime.ManagerStats
	RequestDashboardRefresh(departmentID string) bool
}

// healthDeps are the components reported on. archive and relay may be nil.
type healthDeps struct {
	session      session
	departmentID string
	archive      *archive.Writer
	archivePing  func(ctx context.Context) error
	relay        *relay.Relay
	relayPing    func(ctx context.Context) error
}

type sessionReport struct {
	Phase    string     `json:"phase"`
	Socket   string     `json:"socket"`
	Attempt  int        `json:"attempt,omitempty"`
	Deadline *time.Time `json:"retry_at,omitempty"`
}

type healthReport struct {
	Status     string         `json:"status"`
	Session    sessionReport  `json:"session"`
	Components map[string]any `json:"components,omitempty"`
}

// newHealthRouter serves /health, /stats, /version and POST /refresh.
func newHealthRouter(deps healthDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", deps.health)
	r.Get("/stats", deps.stats)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Get())
	})
	r.Post("/refresh", deps.refresh)

	return r
}

func (d healthDeps) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st := d.session.Status()
	report := healthReport{
		Session: sessionReport{
			Phase:   st.Phase.String(),
			Socket:  st.Socket.String(),
			Attempt: st.Attempt,
		},
		Components: make(map[string]any),
	}
	if !st.Deadline.IsZero() {
		report.Session.Deadline = &st.Deadline
	}

	switch st.Phase {
	case realtime.PhaseConnected:
		report.Status = "healthy"
	case realtime.PhaseConnecting, realtime.PhaseReconnecting:
		report.Status = "degraded"
	default:
		report.Status = "unhealthy"
	}

	check := func(name string, ping func(context.Context) error) {
		if ping == nil {
			return
		}
		if err := ping(ctx); err != nil {
			report.Components[name] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
			if report.Status == "healthy" {
				report.Status = "degraded"
			}
			return
		}
		report.Components[name] = "connected"
	}
	check("postgres", d.archivePing)
	check("redis", d.relayPing)

	code := http.StatusOK
	if report.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (d healthDeps) stats(w http.ResponseWriter, _ *http.Request) {
	s := d.session.Stats()
	out := map[string]any{
		"session": map[string]any{
			"phase":            s.Phase.String(),
			"received":         s.Received,
			"dispatched":       s.Dispatched,
			"malformed":        s.Malformed,
			"handler_failures": s.HandlerFailures,
			"reconnects":       s.Reconnects,
			"sent":             s.Sent,
			"dropped_sends":    s.DroppedSends,
		},
	}
	if d.archive != nil {
		a := d.archive.Stats()
		out["archive"] = map[string]any{
			"inserts":   a.Inserts,
			"conflicts": a.Conflicts,
			"errors":    a.Errors,
			"flushes":   a.Flushes,
			"dropped":   a.Dropped,
			"pending":   a.Pending,
		}
	}
	if d.relay != nil {
		rs := d.relay.Stats()
		out["relay"] = map[string]any{
			"published": rs.Published,
			"errors":    rs.Errors,
			"dropped":   rs.Dropped,
			"pending":   rs.Pending,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// refresh asks the server for a dashboard refresh. The department defaults to
// the session's and can be overridden with ?department=.
func (d healthDeps) refresh(w http.ResponseWriter, r *http.Request) {
	dept := r.URL.Query().Get("department")
	if dept == "" {
		dept = d.departmentID
	}

	if !d.session.RequestDashboardRefresh(dept) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "socket not open"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
