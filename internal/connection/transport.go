package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

// Transport opens physical sockets to the live endpoint.
type Transport interface {
	// Open starts connecting to url and returns immediately. The socket
	// reports EventOpen, then EventMessage for every inbound frame, then
	// exactly one EventClose (also emitted when the dial fails).
	Open(url string, sink func(TransportEvent)) Socket
}

// Socket is one physical connection.
type Socket interface {
	// Send writes a frame. Returns ErrNotConnected unless Ready.
	Send(f wire.Frame) error

	// Ready reports whether the socket is open for writes.
	Ready() bool

	// Close tears the socket down and detaches its sink. No event is
	// delivered after Close returns.
	Close() error
}

// WebSocketTransport is the gorilla/websocket Transport.
type WebSocketTransport struct {
	cfg    TransportConfig
	logger *slog.Logger
	header http.Header
}

// NewWebSocketTransport creates a WebSocket transport.
func NewWebSocketTransport(cfg TransportConfig, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{"Accept": []string{"application/json"}}
	if cfg.UserAgent != "" {
		header.Set("User-Agent", cfg.UserAgent)
	}
	return &WebSocketTransport{
		cfg:    cfg,
		logger: logger,
		header: header,
	}
}

// Open starts dialing url in the background.
func (t *WebSocketTransport) Open(url string, sink func(TransportEvent)) Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		cfg:    t.cfg,
		logger: t.logger,
		url:    url,
		sink:   sink,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.dial(ctx, t.header)
	return s
}

// wsSocket implements Socket over a gorilla websocket connection.
type wsSocket struct {
	cfg    TransportConfig
	logger *slog.Logger
	url    string

	cancel context.CancelFunc
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	conn       *websocket.Conn
	sink       func(TransportEvent) // nil once detached
	connected  bool
	closeSent  bool
	lastPingAt time.Time
}

// emit delivers an event unless the socket has been detached.
// EventClose is delivered at most once and detaches the sink.
func (s *wsSocket) emit(ev TransportEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sink == nil || s.closeSent {
		return
	}
	if ev.Kind == EventClose {
		s.closeSent = true
		s.connected = false
	}
	s.sink(ev)
}

func (s *wsSocket) dial(ctx context.Context, header http.Header) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		s.logger.Debug("websocket dial failed", "url", s.url, "error", err)
		s.emit(TransportEvent{Kind: EventClose, Err: err})
		return
	}

	s.mu.Lock()
	if s.sink == nil {
		// Closed while dialing
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.connected = true
	s.lastPingAt = time.Now()
	s.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		s.mu.Lock()
		s.lastPingAt = time.Now()
		s.mu.Unlock()

		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Server responds to our ping
	conn.SetPongHandler(func(data string) error {
		s.mu.Lock()
		s.lastPingAt = time.Now()
		s.mu.Unlock()
		return nil
	})

	s.logger.Debug("websocket connected", "url", s.url)
	s.emit(TransportEvent{Kind: EventOpen})

	go s.readLoop(conn)
	if s.cfg.PingInterval > 0 {
		go s.heartbeatLoop(conn)
	}
}

// Send writes a frame to the connection.
func (s *wsSocket) Send(f wire.Frame) error {
	s.mu.Lock()
	conn := s.conn
	ok := s.connected
	s.mu.Unlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}

	msgType := websocket.TextMessage
	if f.Binary {
		msgType = websocket.BinaryMessage
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(msgType, f.Data)
}

// Ready reports whether the connection is open.
func (s *wsSocket) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close detaches the sink and closes the connection.
func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		return nil
	}
	s.sink = nil
	s.connected = false
	conn := s.conn
	s.mu.Unlock()

	// Signal goroutines to stop, abort a pending dial
	close(s.done)
	s.cancel()

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	return conn.Close()
}

func (s *wsSocket) controlDeadline() time.Time {
	if s.cfg.WriteTimeout > 0 {
		return time.Now().Add(s.cfg.WriteTimeout)
	}
	return time.Now().Add(time.Second)
}

// readLoop delivers inbound frames until the connection fails.
func (s *wsSocket) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Ignore errors after Close() is called
			default:
				s.emit(TransportEvent{Kind: EventClose, Err: err})
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.emit(TransportEvent{Kind: EventMessage, Frame: wire.BinaryFrame(data)})
		case websocket.TextMessage:
			s.emit(TransportEvent{Kind: EventMessage, Frame: wire.TextFrame(data)})
		}
	}
}

// heartbeatLoop pings the server and reports stale connections.
func (s *wsSocket) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), s.controlDeadline())
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			// Check for stale connection (no pong/ping response)
			s.mu.Lock()
			lastPing := s.lastPingAt
			s.mu.Unlock()

			if s.cfg.PingTimeout > 0 && time.Since(lastPing) > s.cfg.PingTimeout {
				s.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", s.cfg.PingTimeout,
				)
				s.emit(TransportEvent{Kind: EventClose, Err: ErrStaleConnection})
				conn.Close()
				return
			}
		}
	}
}
