package connection

import (
	"errors"
	"time"

	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrClosed             = errors.New("connection closed")
	ErrAbandoned          = errors.New("request abandoned")
	ErrPending            = errors.New("request still pending")
	ErrAuthRejected       = errors.New("authentication rejected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// State is the session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// EventKind identifies a transport event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// TransportEvent is delivered by a Socket to its owner.
type TransportEvent struct {
	Kind  EventKind
	Frame wire.Frame // EventMessage only
	Err   error      // EventClose only; nil on graceful close
}

// Identity is what the server announced in its auth success message.
type Identity struct {
	UserID string
	Admin  bool
}

// Status is reported to status watchers on every state change.
type Status struct {
	State  State
	Active bool
}

// TransportConfig configures the WebSocket transport.
type TransportConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping period (0 disables)
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	UserAgent        string        // Sent on the upgrade request when set
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
	}
}

// Config configures a Conn.
type Config struct {
	URL string // Live endpoint (ws:// or wss://), see DeriveURL

	BackoffFloor         time.Duration // First reconnect delay and value restored after auth success
	BackoffStep          time.Duration // Added to the delay after every failed attempt
	BackoffMax           time.Duration // Clamp for the delay (0 = unbounded)
	MaxReconnectAttempts int           // Consecutive attempts before giving up (0 = retry forever)

	RequestTimeout time.Duration // Deadline applied by Request (0 = caller's context only)
	InboxSize      int           // Initial event-loop inbox capacity

	Transport TransportConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BackoffFloor: 500 * time.Millisecond,
		BackoffStep:  500 * time.Millisecond,
		InboxSize:    256,
		Transport:    DefaultTransportConfig(),
	}
}

// Stats provides a snapshot of connection state.
type Stats struct {
	State           State
	SessionID       string
	PendingRequests int
	Pools           int
	Subscriptions   int
	BufferedFrames  int
	Reconnects      int64
	BackoffDelay    time.Duration
	FramesReceived  int64
	FramesSent      int64
	MalformedFrames int64
	Unhandled       int64
}
