package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Miravalier/NonsensePage-sub001/internal/auth"
	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

// Client is one server-side socket.
type Client struct {
	id     string
	hub    *Hub
	ws     *websocket.Conn
	logger *slog.Logger

	send      chan wire.Frame
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	claims *auth.Claims

	// Guarded by hub.mu
	pools map[string]struct{}
}

func newClient(h *Hub, ws *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    h,
		ws:     ws,
		logger: h.logger.With("client", id),
		send:   make(chan wire.Frame, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		pools:  make(map[string]struct{}),
	}
}

// ID returns the hub-assigned client id.
func (c *Client) ID() string {
	return c.id
}

// Claims returns the verified token claims, nil before authentication.
func (c *Client) Claims() *auth.Claims {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claims
}

// Authenticated reports whether the auth handshake succeeded.
func (c *Client) Authenticated() bool {
	return c.Claims() != nil
}

// UserID returns the authenticated user, empty before authentication.
func (c *Client) UserID() string {
	if claims := c.Claims(); claims != nil {
		return claims.UserID()
	}
	return ""
}

// Send queues a JSON object for this client.
func (c *Client) Send(payload any) error {
	data, err := wire.Object(payload)
	if err != nil {
		return err
	}
	return c.enqueue(wire.TextFrame(data))
}

// SendBinary queues a binary frame tagged with requestID.
func (c *Client) SendBinary(requestID uint32, payload []byte) error {
	return c.enqueue(wire.BinaryFrame(wire.EncodeBinary(requestID, payload)))
}

// enqueue hands a frame to the write loop. A client whose buffer is full
// is disconnected rather than allowed to stall publishers.
func (c *Client) enqueue(f wire.Frame) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.hub.slowClients.Add(1)
		c.logger.Warn("send buffer full, dropping client", "buffer", cap(c.send))
		c.Close()
		return ErrSlowClient
	}
}

// Close disconnects the client. The write loop closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) extendReadDeadline() {
	if c.hub.cfg.ReadTimeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.ReadTimeout))
	}
}

// readLoop handles inbound frames in order until the socket fails.
func (c *Client) readLoop(ctx context.Context) {
	if c.hub.cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(c.hub.cfg.ReadLimit)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		c.extendReadDeadline()

		var msg wire.Message
		if msgType == websocket.BinaryMessage {
			msg, err = wire.DecodeBinary(data)
		} else {
			msg, err = wire.DecodeText(data)
		}
		if err != nil {
			c.logger.Debug("invalid message", "error", err, "size", len(data))
			c.reply(nil, errorReply("invalid message", nil))
			continue
		}

		c.handle(ctx, msg)
	}
}

// handle produces and sends the reply for one inbound message.
func (c *Client) handle(ctx context.Context, msg wire.Message) {
	var reply any

	switch {
	case msg.Type == wire.TypeAuth:
		reply = c.authenticate(msg)
	case msg.Type == TypeHeartbeat:
		return
	case !c.Authenticated():
		reply = errorReply("not authenticated", nil)
	case msg.Type == wire.TypeSubscribe || msg.Type == wire.TypeUnsubscribe:
		if !msg.HasPool {
			reply = errorReply("missing pool", msg.Raw)
			break
		}
		if msg.Type == wire.TypeSubscribe {
			c.hub.join(c, msg.Pool)
		} else {
			c.hub.leave(c, msg.Pool)
		}
		c.logger.Debug("pool membership changed", "op", msg.Type, "pool", msg.Pool)
	default:
		fn, ok := c.hub.handler(msg)
		if !ok {
			reply = errorReply("unknown request", msg.Raw)
			break
		}
		out, err := c.invoke(ctx, fn, msg)
		if err != nil {
			reply = errorReply(err.Error(), nil)
		} else {
			reply = out
		}
	}

	if msg.HasRequestID && reply == nil {
		reply = map[string]any{"type": TypeNoReply}
	}
	var id *uint32
	if msg.HasRequestID {
		id = &msg.RequestID
	}
	c.reply(id, reply)
}

// invoke runs a handler, turning a panic into an error reply.
func (c *Client) invoke(ctx context.Context, fn HandlerFunc, msg wire.Message) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "type", msg.Type, "panic", r)
			out, err = nil, errInternal
		}
	}()
	return fn(ctx, c, msg)
}

func (c *Client) authenticate(msg wire.Message) any {
	if c.Authenticated() {
		return errorReply("already authenticated", nil)
	}

	var token string
	if raw, ok := msg.Field(wire.KeyAuthToken); ok {
		json.Unmarshal(raw, &token)
	}
	if token == "" {
		c.hub.authFailures.Add(1)
		return authFailure("missing auth token")
	}

	claims, err := c.hub.verifier.Verify(token)
	if err != nil {
		c.hub.authFailures.Add(1)
		c.logger.Info("auth rejected", "error", err)
		return authFailure("invalid auth token, " + err.Error())
	}

	c.mu.Lock()
	c.claims = claims
	c.mu.Unlock()

	c.logger.Info("client authenticated", "user", claims.UserID(), "admin", claims.Admin)
	return map[string]any{
		"type":  wire.TypeAuthSuccess,
		"id":    claims.UserID(),
		"admin": claims.Admin,
	}
}

// reply encodes and queues a reply, tagging it with id when set.
func (c *Client) reply(id *uint32, reply any) {
	if reply == nil {
		return
	}

	if data, ok := reply.(Binary); ok && id != nil {
		c.SendBinary(*id, data)
		return
	}

	var (
		data []byte
		err  error
	)
	if id != nil {
		data, err = wire.WithRequestID(reply, *id)
	} else {
		data, err = wire.Object(reply)
	}
	if err != nil {
		c.logger.Error("failed to encode reply", "error", err)
		data, _ = wire.Object(errorReply("internal error", nil))
		if id != nil {
			data, _ = wire.WithRequestID(data, *id)
		}
	}
	c.enqueue(wire.TextFrame(data))
}

// writeLoop owns all writes to the socket.
func (c *Client) writeLoop() {
	defer c.ws.Close()

	var tick <-chan time.Time
	if c.hub.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.hub.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		case f := <-c.send:
			msgType := websocket.TextMessage
			if f.Binary {
				msgType = websocket.BinaryMessage
			}
			c.ws.SetWriteDeadline(c.deadline())
			if err := c.ws.WriteMessage(msgType, f.Data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close()
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Client) deadline() time.Time {
	if c.hub.cfg.WriteTimeout > 0 {
		return time.Now().Add(c.hub.cfg.WriteTimeout)
	}
	return time.Now().Add(time.Second)
}
