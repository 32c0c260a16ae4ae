package connection

import (
	"sort"
	"sync/atomic"

	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

// Subscription is one consumer's membership in a pool.
type Subscription struct {
	conn      *Conn
	pool      string
	callback  func(wire.Message)
	cancelled atomic.Bool
}

// Pool returns the pool name.
func (s *Subscription) Pool() string {
	return s.pool
}

// Cancel stops delivery to this subscription immediately. The pool is
// unsubscribed on the wire once its last subscription is cancelled.
// Calling Cancel more than once is a no-op.
func (s *Subscription) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.conn.post(func() {
		s.conn.removeSubscription(s)
	})
}

// registry holds pools of subscriptions. Event-loop only.
type registry struct {
	pools map[string]map[*Subscription]struct{}
	count int
}

func newRegistry() *registry {
	return &registry{
		pools: make(map[string]map[*Subscription]struct{}),
	}
}

// add inserts sub and reports whether its pool went from empty to non-empty.
func (r *registry) add(sub *Subscription) bool {
	members, ok := r.pools[sub.pool]
	if !ok {
		members = make(map[*Subscription]struct{})
		r.pools[sub.pool] = members
	}
	if _, dup := members[sub]; dup {
		return false
	}
	members[sub] = struct{}{}
	r.count++
	return len(members) == 1
}

// remove deletes sub and reports whether its pool became empty and was deleted.
func (r *registry) remove(sub *Subscription) bool {
	members, ok := r.pools[sub.pool]
	if !ok {
		return false
	}
	if _, found := members[sub]; !found {
		return false
	}
	delete(members, sub)
	r.count--
	if len(members) == 0 {
		delete(r.pools, sub.pool)
		return true
	}
	return false
}

// members returns a snapshot of the pool's subscriptions.
func (r *registry) members(pool string) ([]*Subscription, bool) {
	members, ok := r.pools[pool]
	if !ok {
		return nil, false
	}
	out := make([]*Subscription, 0, len(members))
	for sub := range members {
		out = append(out, sub)
	}
	return out, true
}

// names returns every non-empty pool, sorted.
func (r *registry) names() []string {
	out := make([]string, 0, len(r.pools))
	for name := range r.pools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *registry) poolCount() int {
	return len(r.pools)
}

func (r *registry) subscriptionCount() int {
	return r.count
}

// Registration is a handler for one message type.
type Registration struct {
	conn      *Conn
	msgType   string
	handler   func(wire.Message)
	cancelled atomic.Bool
}

// Type returns the message type the handler is registered for.
func (r *Registration) Type() string {
	return r.msgType
}

// Cancel removes the handler. Calling Cancel more than once is a no-op.
func (r *Registration) Cancel() {
	if r.cancelled.Swap(true) {
		return
	}
	r.conn.post(func() {
		r.conn.removeHandler(r)
	})
}
