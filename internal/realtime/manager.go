package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// scheduleFunc runs f after d and returns a function that cancels it.
// Cancel reports whether f was prevented from running.
type scheduleFunc func(d time.Duration, f func()) (cancel func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Manager owns one realtime session: the live socket, reconnection with
// backoff, and dispatch of incoming updates into a Registry.
//
// Session phases:
//
//	Idle -> Connecting -> Connected -> Reconnecting(attempt, deadline) -> Connecting ...
//	                                  \-> Closed (attempts exhausted or normal close from server)
//
// Disconnect returns the session to Idle from any phase.
type Manager struct {
	cfg       ManagerConfig
	registry  *Registry
	logger    *slog.Logger
	sessionID uuid.UUID

	schedule  scheduleFunc
	now       func() time.Time
	newClient func(ClientConfig, *slog.Logger) Client
	limiter   *rate.Limiter

	mu          sync.Mutex
	phase       Phase
	attempt     int
	deadline    time.Time
	url         string
	client      Client
	gen         uint64 // Bumped on every Connect/Disconnect; stale callbacks compare against it
	cancelRetry func() bool
	observers   []func(Status)

	wg sync.WaitGroup

	received   atomic.Int64
	dispatched atomic.Int64
	malformed  atomic.Int64
	reconnects atomic.Int64
	sent       atomic.Int64
	dropped    atomic.Int64
}

// NewManager creates a Manager dispatching into registry.
func NewManager(cfg ManagerConfig, registry *Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}

	sessionID := uuid.New()

	limit := rate.Inf
	if cfg.InteractionRate > 0 {
		limit = rate.Limit(cfg.InteractionRate)
	}
	burst := cfg.InteractionBurst
	if burst < 1 {
		burst = 1
	}

	return &Manager{
		cfg:       cfg,
		registry:  registry,
		logger:    logger.With("session_id", sessionID.String()),
		sessionID: sessionID,
		schedule:  afterFunc,
		now:       time.Now,
		newClient: NewClient,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Registry returns the registry updates are dispatched into.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SessionID identifies this manager in logs.
func (m *Manager) SessionID() uuid.UUID {
	return m.sessionID
}

// OnStateChange registers fn to be called after every phase transition.
func (m *Manager) OnStateChange(fn func(Status)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Connect opens the session socket for userID (and optional departmentID) and
// blocks until it is open. A failed dial is returned wrapped in
// ErrConnectFailed and does not schedule a retry.
func (m *Manager) Connect(ctx context.Context, userID, departmentID string) error {
	if userID == "" {
		return ErrMissingUser
	}

	target, err := BuildURL(m.cfg.BaseURL, userID, departmentID, RoomFor(m.cfg.Room, departmentID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	m.mu.Lock()
	switch m.phase {
	case PhaseConnecting, PhaseConnected, PhaseReconnecting:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.gen++
	gen := m.gen
	m.url = target
	m.phase = PhaseConnecting
	m.attempt = 0
	m.deadline = time.Time{}
	m.mu.Unlock()
	m.notify()

	m.logger.Info("connecting",
		"user_id", userID,
		"department_id", departmentID,
	)

	if err := m.open(ctx, gen); err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.phase = PhaseIdle
		}
		m.mu.Unlock()
		m.notify()
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return nil
}

// Disconnect cancels any pending reconnect, then closes the socket with the
// normal closure code. Safe to call from an update handler.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.cancelRetry != nil {
		m.cancelRetry()
		m.cancelRetry = nil
	}
	c := m.client
	m.client = nil
	wasIdle := m.phase == PhaseIdle
	m.phase = PhaseIdle
	m.attempt = 0
	m.deadline = time.Time{}
	m.mu.Unlock()

	if c != nil {
		if err := c.Close(websocket.CloseNormalClosure, "client disconnect"); err != nil {
			m.logger.Debug("close socket", "error", err)
		}
	}
	if !wasIdle {
		m.logger.Info("disconnected")
		m.notify()
	}
}

// Shutdown disconnects and waits for the read goroutine to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Disconnect()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, read loop still running")
		return ctx.Err()
	}
}

// Status returns a snapshot of the state machine.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	s := Status{
		Phase:    m.phase,
		Attempt:  m.attempt,
		Deadline: m.deadline,
		Socket:   StateDisconnected,
	}
	if m.client != nil {
		s.Socket = m.client.State()
	}
	return s
}

// Stats returns session counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()

	return ManagerStats{
		Phase:           phase,
		Received:        m.received.Load(),
		Dispatched:      m.dispatched.Load(),
		Malformed:       m.malformed.Load(),
		HandlerFailures: m.registry.Failures(),
		Reconnects:      m.reconnects.Load(),
		Sent:            m.sent.Load(),
		DroppedSends:    m.dropped.Load(),
	}
}

// notify calls state observers with the current status. Must not hold mu.
func (m *Manager) notify() {
	m.mu.Lock()
	status := m.statusLocked()
	observers := make([]func(Status), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(status)
	}
}

// open dials a fresh client for generation gen and starts its read loop.
func (m *Manager) open(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	target := m.url
	m.mu.Unlock()

	c := m.newClient(ClientConfig{
		URL:              target,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		PingInterval:     m.cfg.PingInterval,
		PingTimeout:      m.cfg.PingTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}, m.logger)

	if err := c.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		// Disconnect happened while dialing.
		m.mu.Unlock()
		c.Close(websocket.CloseNormalClosure, "client disconnect")
		return errSuperseded
	}
	m.client = c
	m.phase = PhaseConnected
	m.attempt = 0
	m.deadline = time.Time{}
	m.cancelRetry = nil
	m.mu.Unlock()

	m.logger.Info("connected")
	m.notify()

	m.wg.Add(1)
	go m.readLoop(c, gen)

	return nil
}

// readLoop dispatches frames from c until it goes down, then handles the close.
func (m *Manager) readLoop(c Client, gen uint64) {
	defer m.wg.Done()

	for msg := range c.Messages() {
		m.handleMessage(msg)
	}

	select {
	case ev := <-c.Closed():
		m.handleClose(c, gen, ev)
	default:
		// Closed locally.
	}
}

// handleMessage decodes and dispatches one frame.
func (m *Manager) handleMessage(msg TimestampedMessage) {
	m.received.Add(1)

	u, err := DecodeUpdate(msg.Data)
	if err != nil {
		m.malformed.Add(1)
		m.logger.Warn("dropping malformed update", "error", err, "bytes", len(msg.Data))
		return
	}
	u.ReceivedAt = msg.ReceivedAt

	m.registry.Dispatch(u)
	m.dispatched.Add(1)
}

// handleClose reacts to the socket going down without a local Close.
func (m *Manager) handleClose(c Client, gen uint64, ev CloseEvent) {
	m.mu.Lock()
	if m.gen != gen || m.client != c {
		m.mu.Unlock()
		return
	}
	m.client = nil

	if ev.Normal() {
		m.phase = PhaseClosed
		m.mu.Unlock()
		m.logger.Info("server closed session", "code", ev.Code, "reason", ev.Reason)
		m.notify()
		return
	}

	m.logger.Warn("connection lost",
		"code", ev.Code,
		"reason", ev.Reason,
		"error", ev.Err,
	)
	m.scheduleReconnectLocked(gen)
	m.mu.Unlock()
	m.notify()
}

// scheduleReconnectLocked advances the attempt counter and either schedules the
// next dial or gives up. Must hold mu.
func (m *Manager) scheduleReconnectLocked(gen uint64) {
	m.attempt++
	if m.cfg.Backoff.Exhausted(m.attempt) {
		m.logger.Error("reconnect attempts exhausted, giving up",
			"attempts", m.attempt-1,
		)
		m.phase = PhaseClosed
		m.attempt = 0
		m.deadline = time.Time{}
		m.cancelRetry = nil
		return
	}

	delay := m.cfg.Backoff.Delay(m.attempt)
	attempt := m.attempt
	m.phase = PhaseReconnecting
	m.deadline = m.now().Add(delay)
	m.cancelRetry = m.schedule(delay, func() {
		m.reconnect(gen, attempt)
	})

	m.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"max_attempts", m.cfg.Backoff.MaxAttempts,
		"delay", delay,
	)
}

// reconnect runs when a scheduled retry fires.
func (m *Manager) reconnect(gen uint64, attempt int) {
	m.mu.Lock()
	if m.gen != gen || m.phase != PhaseReconnecting || m.attempt != attempt {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseConnecting
	m.cancelRetry = nil
	m.mu.Unlock()
	m.notify()

	m.reconnects.Add(1)
	m.logger.Info("attempting reconnection", "attempt", attempt)

	err := m.open(context.Background(), gen)
	if err == nil || errors.Is(err, errSuperseded) {
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
	m.scheduleReconnectLocked(gen)
	m.mu.Unlock()
	m.notify()
}

// BuildURL adds the session query parameters to base.
func BuildURL(base, userID, departmentID, room string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("base url scheme must be ws or wss, got %q", u.Scheme)
	}

	q := u.Query()
	q.Set("userId", userID)
	if departmentID != "" {
		q.Set("departmentId", departmentID)
	}
	q.Set("room", room)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// RoomFor returns the configured room, or one derived from the department.
func RoomFor(configured, departmentID string) string {
	if configured != "" {
		return configured
	}
	if departmentID != "" {
		return "department_" + departmentID
	}
	return "global"
}
