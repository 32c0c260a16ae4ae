package connection

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

// Call is an outstanding request. It completes exactly once: with the
// reply carrying its request id, or with an error if it is abandoned or
// the connection stops.
type Call struct {
	conn *Conn
	id   uint32 // assigned on the event loop

	once  sync.Once
	done  chan struct{}
	reply wire.Message
	err   error
}

func newCall(c *Conn) *Call {
	return &Call{
		conn: c,
		done: make(chan struct{}),
	}
}

// Done is closed when the call completes.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Reply returns the reply once Done is closed, ErrPending before that. An
// "error" reply from the server is a normal completion; inspect Kind to tell.
func (c *Call) Reply() (wire.Message, error) {
	select {
	case <-c.done:
		return c.reply, c.err
	default:
		return wire.Message{}, ErrPending
	}
}

// Wait blocks until the call completes or ctx is done. A call abandoned
// through ctx is removed from the pending table.
func (c *Call) Wait(ctx context.Context) (wire.Message, error) {
	select {
	case <-c.done:
		return c.reply, c.err
	case <-ctx.Done():
		c.Abandon()
		return wire.Message{}, ctx.Err()
	}
}

// Abandon drops the pending request. A reply that arrives later is
// handled as an unmatched message.
func (c *Call) Abandon() {
	c.conn.post(func() {
		if p := c.conn.requests.remove(c.id, c); p != nil {
			c.complete(wire.Message{}, ErrAbandoned)
		}
	})
}

func (c *Call) complete(reply wire.Message, err error) {
	c.once.Do(func() {
		c.reply = reply
		c.err = err
		close(c.done)
	})
}

// pendingRequest correlates an outbound request with its reply.
type pendingRequest struct {
	id    uint32
	seq   uint64 // issue order
	frame []byte // encoded request, resent verbatim
	call  *Call

	// queued is set while the frame sits in the outbound buffer and has
	// not been transmitted on any socket.
	queued bool
}

// correlator tracks outstanding requests by id. Event-loop only.
type correlator struct {
	pending map[uint32]*pendingRequest
	seq     uint64
	draw    func() uint32
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[uint32]*pendingRequest),
		draw:    rand.Uint32,
	}
}

// allocate draws random ids until one is not pending.
func (r *correlator) allocate() uint32 {
	for {
		id := r.draw()
		if _, taken := r.pending[id]; !taken {
			return id
		}
	}
}

// add registers call with a fresh id and returns the encoded request.
func (r *correlator) add(call *Call, payload []byte) (*pendingRequest, error) {
	id := r.allocate()
	frame, err := wire.WithRequestID(payload, id)
	if err != nil {
		return nil, err
	}

	r.seq++
	p := &pendingRequest{
		id:    id,
		seq:   r.seq,
		frame: frame,
		call:  call,
	}
	call.id = id
	r.pending[id] = p
	return p, nil
}

// resolve removes and returns the request matching id.
func (r *correlator) resolve(id uint32) (*pendingRequest, bool) {
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return p, ok
}

// remove drops the request if it still belongs to call.
func (r *correlator) remove(id uint32, call *Call) *pendingRequest {
	p, ok := r.pending[id]
	if !ok || p.call != call {
		return nil
	}
	delete(r.pending, id)
	return p
}

// get returns a pending request without removing it.
func (r *correlator) get(id uint32) (*pendingRequest, bool) {
	p, ok := r.pending[id]
	return p, ok
}

// resendable returns requests already transmitted on an earlier socket, in issue order.
func (r *correlator) resendable() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(r.pending))
	for _, p := range r.pending {
		if !p.queued {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}

// failAll completes every pending call with err.
func (r *correlator) failAll(err error) {
	for id, p := range r.pending {
		delete(r.pending, id)
		p.call.complete(wire.Message{}, err)
	}
}

func (r *correlator) len() int {
	return len(r.pending)
}
