package connection

import (
	"encoding/json"
	"fmt"

	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

// handleFrame decodes an inbound frame and dispatches it.
// Malformed frames are logged and dropped.
func (c *Conn) handleFrame(f wire.Frame) {
	c.framesReceived++

	msg, err := wire.Decode(f)
	if err != nil {
		c.malformed++
		c.log.Warn("dropping malformed frame",
			"error", err,
			"binary", f.Binary,
			"size", len(f.Data),
		)
		return
	}
	c.dispatch(msg)
}

// dispatch routes msg to exactly one destination, in priority order:
// pending request, control handling, pool subscribers, type handlers,
// then the unhandled sink.
func (c *Conn) dispatch(msg wire.Message) {
	if msg.HasRequestID {
		if p, ok := c.requests.resolve(msg.RequestID); ok {
			if msg.Kind == wire.KindError {
				c.log.Error("request failed",
					"reason", msg.Reason,
					"request_id", msg.RequestID,
					"request", string(p.frame),
				)
			}
			p.call.complete(msg, nil)
			return
		}
	}

	switch msg.Kind {
	case wire.KindAuthSuccess:
		c.handleAuthSuccess(msg)
		return
	case wire.KindAuthFailure:
		c.handleAuthFailure(msg.Reason)
		return
	case wire.KindError:
		req, _ := msg.Field(wire.KeyRequest)
		c.log.Error("error from server",
			"reason", msg.Reason,
			"request", string(req),
		)
		return
	case wire.KindDebug:
		c.log.Warn("debug from server", "data", msg.Reason)
		return
	}

	if msg.HasPool {
		c.deliverPool(msg)
		return
	}

	if handlers := c.handlers[msg.Type]; len(handlers) > 0 {
		for _, h := range append([]*Registration(nil), handlers...) {
			if h.cancelled.Load() {
				continue
			}
			c.safeCall("handler", func() { h.handler(msg) })
		}
		return
	}

	c.unhandled++
	if msg.HasRequestID {
		c.log.Warn("reply for unknown request", "request_id", msg.RequestID, "type", msg.Type)
	} else {
		c.log.Debug("unhandled message", "type", msg.Type, "kind", msg.Kind)
	}
	if c.onUnhandled != nil {
		c.safeCall("unhandled hook", func() { c.onUnhandled(msg) })
	}
}

// deliverPool fans msg out to every live subscription of its pool.
func (c *Conn) deliverPool(msg wire.Message) {
	subs, ok := c.pools.members(msg.Pool)
	if !ok {
		c.log.Warn("ignoring message for unknown pool",
			"pool", msg.Pool,
			"type", msg.Type,
		)
		return
	}
	for _, sub := range subs {
		if sub.cancelled.Load() {
			continue
		}
		c.safeCall("subscriber", func() { sub.callback(msg) })
	}
}

// safeCall runs a consumer callback. A panic is logged and contained so
// one consumer cannot take down the loop or starve the others.
func (c *Conn) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("callback panicked", "callback", what, "panic", r)
		}
	}()
	fn()
}

// identityFrom reads the id and admin fields of an auth success message.
func identityFrom(msg wire.Message) (Identity, error) {
	var body struct {
		ID    json.RawMessage `json:"id"`
		Admin bool            `json:"admin"`
	}
	if err := msg.Decode(&body); err != nil {
		return Identity{}, err
	}

	ident := Identity{Admin: body.Admin}
	if len(body.ID) > 0 && string(body.ID) != "null" {
		var s string
		if err := json.Unmarshal(body.ID, &s); err == nil {
			ident.UserID = s
		} else {
			var n json.Number
			if err := json.Unmarshal(body.ID, &n); err != nil {
				return Identity{}, fmt.Errorf("id: %w", err)
			}
			ident.UserID = n.String()
		}
	}
	return ident, nil
}
