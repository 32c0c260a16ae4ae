package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Miravalier/NonsensePage-sub001/internal/auth"
	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

// Errors
var (
	ErrHubClosed    = errors.New("hub closed")
	ErrClientClosed = errors.New("client closed")
	ErrSlowClient   = errors.New("client send buffer full")
)

// Message types produced by the hub.
const (
	TypeHeartbeat = "heartbeat"
	TypePing      = "ping"
	TypePong      = "pong"
	TypePublish   = "publish"
	TypePublished = "published"
	TypeNoReply   = "no reply"
)

// Verifier checks auth tokens. *auth.Issuer implements it.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// HandlerFunc serves one request type for an authenticated client. The
// returned value is encoded as the reply; an error becomes an "error"
// reply carrying err's text. A nil reply to a request is answered with
// "no reply" so the requester is not left waiting.
type HandlerFunc func(ctx context.Context, c *Client, msg wire.Message) (any, error)

// Binary is a reply sent as a binary frame tagged with the request id.
type Binary []byte

// Config configures a Hub.
type Config struct {
	WriteTimeout time.Duration // Per-frame write deadline
	PingInterval time.Duration // Server ping period (0 disables)
	ReadTimeout  time.Duration // Max silence before a client is dropped (0 disables)
	ReadLimit    int64         // Max inbound frame size in bytes
	SendBuffer   int           // Outbound frames queued per client

	AllowedOrigins []string // Origin header values accepted on upgrade (empty allows any)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		ReadTimeout:  90 * time.Second,
		ReadLimit:    1 << 20,
		SendBuffer:   256,
	}
}

// Stats provides a snapshot of hub state.
type Stats struct {
	Clients       int
	Authenticated int
	Pools         int
	Published     int64
	AuthFailures  int64
	SlowClients   int64
}

// Hub is the server end of the live channel. It authenticates sockets,
// tracks pool membership and routes requests to handlers by type.
type Hub struct {
	cfg      Config
	verifier Verifier
	logger   *slog.Logger
	upgrader websocket.Upgrader

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc
	binary     HandlerFunc

	mu      sync.RWMutex
	closed  bool
	clients map[*Client]struct{}
	pools   map[string]map[*Client]struct{}

	published    atomic.Int64
	authFailures atomic.Int64
	slowClients  atomic.Int64
}

// New creates a Hub with the ping and publish handlers registered.
func New(cfg Config, verifier Verifier, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}

	h := &Hub{
		cfg:      cfg,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
		handlers: make(map[string]HandlerFunc),
		clients:  make(map[*Client]struct{}),
		pools:    make(map[string]map[*Client]struct{}),
	}

	h.Handle(TypePing, func(ctx context.Context, c *Client, msg wire.Message) (any, error) {
		return map[string]any{"type": TypePong}, nil
	})
	h.Handle(TypePublish, h.handlePublish)
	return h
}

// Handle registers fn for requests of msgType, replacing any previous handler.
func (h *Hub) Handle(msgType string, fn HandlerFunc) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[msgType] = fn
}

// HandleBinary registers fn for binary frames.
func (h *Hub) HandleBinary(fn HandlerFunc) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.binary = fn
}

func (h *Hub) handler(msg wire.Message) (HandlerFunc, bool) {
	h.handlersMu.RLock()
	defer h.handlersMu.RUnlock()
	if msg.Kind == wire.KindBinary {
		return h.binary, h.binary != nil
	}
	fn, ok := h.handlers[msg.Type]
	return fn, ok
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(h, ws)
	if !h.track(c) {
		ws.Close()
		return
	}
	defer h.untrack(c)

	c.logger.Debug("client connected", "remote", r.RemoteAddr)
	go c.writeLoop()
	c.readLoop(r.Context())
	c.logger.Debug("client disconnected")
}

func (h *Hub) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// untrack removes c from the hub and every pool it joined.
func (h *Hub) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	for pool := range c.pools {
		h.leaveLocked(c, pool)
	}
	h.mu.Unlock()
	c.Close()
}

func (h *Hub) join(c *Client, pool string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.pools[pool]
	if !ok {
		members = make(map[*Client]struct{})
		h.pools[pool] = members
	}
	members[c] = struct{}{}
	c.pools[pool] = struct{}{}
}

func (h *Hub) leave(c *Client, pool string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, pool)
}

func (h *Hub) leaveLocked(c *Client, pool string) {
	delete(c.pools, pool)
	members, ok := h.pools[pool]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.pools, pool)
	}
}

// Publish sends payload, tagged with the pool name, to every member of
// pool. Returns the number of clients it was queued for.
func (h *Hub) Publish(pool string, payload any) (int, error) {
	data, err := wire.WithPool(payload, pool)
	if err != nil {
		return 0, fmt.Errorf("encode publish: %w", err)
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.pools[pool]))
	for c := range h.pools[pool] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if err := c.enqueue(wire.TextFrame(data)); err != nil {
			c.logger.Debug("publish skipped client", "pool", pool, "error", err)
			continue
		}
		delivered++
	}
	h.published.Add(1)
	return delivered, nil
}

// handlePublish lets a client broadcast {"type":"publish","pool":P,"data":D}
// to the pool as {"type":"update","pool":P,"data":D,"from":ID}.
func (h *Hub) handlePublish(ctx context.Context, c *Client, msg wire.Message) (any, error) {
	if !msg.HasPool {
		return nil, errors.New("missing pool")
	}

	data, _ := msg.Field(wire.KeyData)
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	n, err := h.Publish(msg.Pool, map[string]any{
		"type": "update",
		"data": data,
		"from": c.UserID(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"type": TypePublished, "delivered": n}, nil
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.logger.Info("hub closed", "clients", len(clients))
}

// Stats returns current hub statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	authenticated := 0
	for c := range h.clients {
		if c.Authenticated() {
			authenticated++
		}
	}
	return Stats{
		Clients:       len(h.clients),
		Authenticated: authenticated,
		Pools:         len(h.pools),
		Published:     h.published.Load(),
		AuthFailures:  h.authFailures.Load(),
		SlowClients:   h.slowClients.Load(),
	}
}
