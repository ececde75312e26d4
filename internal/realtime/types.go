package realtime

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no pong)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAlreadyConnected = errors.New("session already active")
	ErrConnectFailed    = errors.New("connect failed")
	ErrMissingUser      = errors.New("user id is required")
	ErrMalformedUpdate  = errors.New("malformed update")
	ErrPayloadMismatch  = errors.New("payload type does not match update type")
	errSuperseded       = errors.New("session superseded")
)

// ConnState mirrors the ready-state of the underlying socket.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Phase is the session-level state tracked by the Manager.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Status is a snapshot of the Manager state machine.
type Status struct {
	Phase    Phase
	Attempt  int       // Reconnect attempt in progress (0 when connected or idle)
	Deadline time.Time // When the pending reconnect fires (zero unless reconnecting)
	Socket   ConnState
}

// CloseEvent describes a socket going down for a reason other than a local Close.
type CloseEvent struct {
	Code   int
	Reason string
	Err    error // Underlying read error, if any
}

// Normal reports whether the peer closed with the normal closure code.
func (e CloseEvent) Normal() bool {
	return e.Code == websocket.CloseNormalClosure
}

// TimestampedMessage wraps raw frame data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// ClientConfig configures a single socket.
type ClientConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without pong before the socket is considered stale
	WriteTimeout     time.Duration
	BufferSize       int // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the connection Manager.
type ManagerConfig struct {
	BaseURL          string // e.g. wss://qms.example.com/ws/updates
	Room             string // Overrides the derived room when set
	Backoff          Backoff
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferSize       int

	// Interaction tracking throttle (events per second, burst).
	InteractionRate  float64
	InteractionBurst int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	c := DefaultClientConfig()
	return ManagerConfig{
		Backoff:          DefaultBackoff(),
		HandshakeTimeout: c.HandshakeTimeout,
		PingInterval:     c.PingInterval,
		PingTimeout:      c.PingTimeout,
		WriteTimeout:     c.WriteTimeout,
		BufferSize:       c.BufferSize,
		InteractionRate:  10,
		InteractionBurst: 20,
	}
}

// ManagerStats provides counters about the session.
type ManagerStats struct {
	Phase           Phase
	Received        int64
	Dispatched      int64
	Malformed       int64
	HandlerFailures int64
	Reconnects      int64
	Sent            int64
	DroppedSends    int64
}
