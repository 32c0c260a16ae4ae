package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/Miravalier/NonsensePage-sub001/internal/auth"
	"github.com/Miravalier/NonsensePage-sub001/internal/buffer"
	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

var errAlreadyStarted = errors.New("connection already started")

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransport replaces the WebSocket transport.
func WithTransport(t Transport) Option {
	return func(c *Conn) {
		c.transport = t
	}
}

// WithAuthFailureHandler is called on the event loop when the server
// rejects the token. Reconnects stay halted until Reconnect is called.
func WithAuthFailureHandler(fn func(reason string)) Option {
	return func(c *Conn) {
		c.onAuthFailure = fn
	}
}

// WithFatalHandler is called on the event loop when the connection gives
// up, currently only with ErrReconnectExhausted.
func WithFatalHandler(fn func(error)) Option {
	return func(c *Conn) {
		c.onFatal = fn
	}
}

// WithUnhandledHandler receives messages no other destination claimed.
func WithUnhandledHandler(fn func(wire.Message)) Option {
	return func(c *Conn) {
		c.onUnhandled = fn
	}
}

// stopFunc cancels a scheduled reconnect.
type stopFunc func() bool

func afterFunc(d time.Duration, fn func()) stopFunc {
	return time.AfterFunc(d, fn).Stop
}

// outboundFrame is an application frame waiting for an active session.
type outboundFrame struct {
	frame     wire.Frame
	request   bool
	requestID uint32
}

type statusWatcher struct {
	fn func(Status)
}

// Conn is the client end of the live channel: one logical session that
// survives socket replacement.
//
// All state is owned by a single event-loop goroutine. Public methods post
// work to the loop and never block on it, so they are safe to call from
// any goroutine, including from callbacks running on the loop.
type Conn struct {
	cfg       Config
	logger    *slog.Logger
	tokens    auth.TokenSource
	transport Transport
	schedule  func(time.Duration, func()) stopFunc

	onAuthFailure func(reason string)
	onFatal       func(error)
	onUnhandled   func(wire.Message)

	// Event loop plumbing
	inbox   *buffer.Queue[func()]
	wake    chan struct{}
	done    chan struct{}
	postMu  sync.Mutex
	exited  bool
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	// Loop-owned state
	log       *slog.Logger // logger tagged with the current session
	state     State
	socket    Socket
	gen       uint64 // socket generation; events from older sockets are ignored
	timerGen  uint64
	stopTimer stopFunc
	sessionID string
	stopped   bool
	halted    bool
	policy    *LinearBackOff
	lastDelay time.Duration
	requests  *correlator
	pools     *registry
	handlers  map[string][]*Registration
	watchers  map[*statusWatcher]struct{}
	outbound  *buffer.Queue[outboundFrame]

	reconnects     int64
	framesReceived int64
	framesSent     int64
	malformed      int64
	unhandled      int64

	// Snapshots readable from any goroutine
	status   atomic.Int32
	statsMu  sync.Mutex
	stats    Stats
	identMu  sync.Mutex
	identPub Identity
}

// New creates a Conn. Nothing is dialed until Start.
func New(cfg Config, tokens auth.TokenSource, opts ...Option) *Conn {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}

	c := &Conn{
		cfg:      cfg,
		logger:   slog.Default(),
		tokens:   tokens,
		schedule: afterFunc,
		inbox:    buffer.NewQueue[func()](cfg.InboxSize),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		state:    StateConnecting,
		policy: NewLinearBackOff(
			cfg.BackoffFloor,
			cfg.BackoffStep,
			cfg.BackoffMax,
			cfg.MaxReconnectAttempts,
		),
		requests: newCorrelator(),
		pools:    newRegistry(),
		handlers: make(map[string][]*Registration),
		watchers: make(map[*statusWatcher]struct{}),
		outbound: buffer.NewQueue[outboundFrame](64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewWebSocketTransport(cfg.Transport, c.logger)
	}
	c.log = c.logger
	c.status.Store(int32(StateConnecting))
	c.stats.State = StateConnecting
	return c
}

// Start launches the event loop and opens the first socket.
func (c *Conn) Start(ctx context.Context) error {
	if c.tokens == nil {
		return fmt.Errorf("start: %w", auth.ErrNoToken)
	}
	if !c.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.loop()
	c.post(c.connect)

	c.logger.Info("live connection started", "url", c.cfg.URL)
	return nil
}

// Stop closes the socket, fails outstanding requests with ErrClosed and
// waits for the event loop to exit.
func (c *Conn) Stop(ctx context.Context) error {
	if !c.started.Load() {
		c.postMu.Lock()
		c.exited = true
		c.postMu.Unlock()
		return nil
	}
	c.cancel()

	select {
	case <-c.done:
		c.logger.Info("live connection stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnect opens a fresh socket now, resetting the backoff. It also
// resumes a connection halted by an auth failure or exhausted retries.
func (c *Conn) Reconnect() {
	c.post(func() {
		if c.stopped {
			return
		}
		c.halted = false
		c.cancelTimer()
		c.dropSocket()
		c.policy.Reset()
		c.connect()
	})
}

// post queues fn for the event loop. Returns false once the loop has exited.
func (c *Conn) post(fn func()) bool {
	c.postMu.Lock()
	defer c.postMu.Unlock()
	if c.exited {
		return false
	}
	c.inbox.Push(fn)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Conn) loop() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case <-c.wake:
		}

		for {
			fn, ok := c.inbox.Pop()
			if !ok {
				break
			}
			c.run(fn)
		}
		c.publishStats()
	}
}

// run executes one loop task, containing panics.
func (c *Conn) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event loop task panicked", "panic", r)
		}
	}()
	fn()
}

func (c *Conn) shutdown() {
	c.stopped = true
	c.cancelTimer()
	c.dropSocket()
	c.setState(StateClosed)
	c.requests.failAll(ErrClosed)

	c.postMu.Lock()
	c.exited = true
	c.postMu.Unlock()

	// Tasks posted before exit observe stopped and complete their calls.
	for _, fn := range c.inbox.Drain() {
		c.run(fn)
	}
	c.requests.failAll(ErrClosed)
	c.publishStats()
}

// connect opens a new socket for the current session.
func (c *Conn) connect() {
	if c.stopped || c.halted {
		return
	}

	c.gen++
	gen := c.gen
	c.sessionID = uuid.NewString()
	c.log = c.logger.With("session", c.sessionID)
	c.setState(StateConnecting)

	c.log.Debug("opening socket", "url", c.cfg.URL, "attempt", c.policy.Attempts())
	c.socket = c.transport.Open(c.cfg.URL, func(ev TransportEvent) {
		c.post(func() { c.handleTransportEvent(gen, ev) })
	})
}

func (c *Conn) handleTransportEvent(gen uint64, ev TransportEvent) {
	if c.stopped || gen != c.gen || c.socket == nil {
		return
	}

	switch ev.Kind {
	case EventOpen:
		c.authenticate()
	case EventMessage:
		c.handleFrame(ev.Frame)
	case EventClose:
		c.handleClose(ev.Err)
	}
}

// authenticate sends the auth handshake on a freshly opened socket.
func (c *Conn) authenticate() {
	if c.state != StateConnecting {
		return
	}

	token, err := c.tokens.Token(c.ctx)
	if err != nil {
		c.log.Error("failed to obtain auth token", "error", err)
		c.reject(fmt.Sprintf("token unavailable: %v", err))
		return
	}

	c.setState(StateAuthenticating)
	c.transmit(wire.TextFrame(wire.Auth(token)))
}

func (c *Conn) handleAuthSuccess(msg wire.Message) {
	if c.state != StateAuthenticating {
		c.log.Warn("unexpected auth success", "state", c.state)
		return
	}

	ident, err := identityFrom(msg)
	if err != nil {
		c.log.Warn("failed to parse identity", "error", err)
	}
	c.identMu.Lock()
	c.identPub = ident
	c.identMu.Unlock()

	c.policy.Reset()
	c.log.Info("authenticated", "user", ident.UserID, "admin", ident.Admin)
	c.setState(StateActive)
	c.activate()
}

// activate restores the session on a new socket: pool subscriptions,
// then requests that were sent on the previous socket, then the buffer.
func (c *Conn) activate() {
	for _, pool := range c.pools.names() {
		if !c.transmit(wire.TextFrame(wire.Subscribe(pool))) {
			return
		}
	}

	for _, p := range c.requests.resendable() {
		if !c.transmit(wire.TextFrame(p.frame)) {
			return
		}
	}

	pending := c.outbound.Drain()
	for i, item := range pending {
		var p *pendingRequest
		if item.request {
			var ok bool
			if p, ok = c.requests.get(item.requestID); !ok {
				continue // abandoned while buffered
			}
		}
		if !c.transmit(item.frame) {
			for _, rest := range pending[i:] {
				c.outbound.Push(rest)
			}
			return
		}
		if p != nil {
			p.queued = false
		}
	}

	if len(pending) > 0 {
		c.log.Debug("flushed outbound buffer", "frames", len(pending))
	}
}

func (c *Conn) handleAuthFailure(reason string) {
	if c.state != StateAuthenticating && c.state != StateActive {
		c.log.Warn("unexpected auth failure", "state", c.state, "reason", reason)
		return
	}
	c.reject(reason)
}

// reject stops the session after an authentication failure. Reconnects
// stay halted until Reconnect.
func (c *Conn) reject(reason string) {
	c.log.Error("authentication rejected", "reason", reason)
	c.halted = true
	c.cancelTimer()
	c.dropSocket()
	c.setState(StateClosed)
	if c.onAuthFailure != nil {
		c.safeCall("auth failure hook", func() { c.onAuthFailure(reason) })
	}
}

// handleClose reacts to the socket going away and schedules a reconnect.
func (c *Conn) handleClose(err error) {
	if c.socket == nil {
		return
	}
	c.dropSocket()
	c.setState(StateClosed)

	if err != nil {
		c.log.Warn("connection lost", "error", err)
	} else {
		c.log.Info("connection closed")
	}
	c.scheduleReconnect()
}

func (c *Conn) scheduleReconnect() {
	if c.stopped || c.halted {
		return
	}

	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		c.halted = true
		err := fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, c.policy.Attempts())
		c.log.Error("giving up on reconnect", "error", err)
		if c.onFatal != nil {
			c.safeCall("fatal hook", func() { c.onFatal(err) })
		}
		return
	}

	c.cancelTimer()
	c.lastDelay = delay
	c.timerGen++
	timerGen := c.timerGen
	c.log.Info("reconnecting", "delay", delay, "attempt", c.policy.Attempts())

	c.stopTimer = c.schedule(delay, func() {
		c.post(func() {
			if timerGen != c.timerGen || c.socket != nil {
				return
			}
			c.stopTimer = nil
			c.reconnects++
			c.connect()
		})
	})
}

func (c *Conn) cancelTimer() {
	c.timerGen++
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Conn) dropSocket() {
	if c.socket == nil {
		return
	}
	if err := c.socket.Close(); err != nil {
		c.log.Debug("socket close error", "error", err)
	}
	c.socket = nil
}

// transmit writes a frame on the current socket. A write failure is
// handled as a lost connection and reported as false.
func (c *Conn) transmit(f wire.Frame) bool {
	if c.socket == nil {
		return false
	}
	if err := c.socket.Send(f); err != nil {
		c.log.Warn("send failed", "error", err)
		c.handleClose(err)
		return false
	}
	c.framesSent++
	return true
}

// enqueue sends an application frame while active and buffers it otherwise.
func (c *Conn) enqueue(item outboundFrame) {
	if c.state == StateActive {
		if c.socket != nil && c.socket.Ready() {
			if c.transmit(item.frame) {
				return
			}
		} else {
			c.handleClose(ErrNotConnected)
		}
	}

	if item.request {
		if p, ok := c.requests.get(item.requestID); ok {
			p.queued = true
		}
	}
	c.outbound.Push(item)
}

func (c *Conn) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("state change", "from", c.state, "to", s)
	c.state = s
	c.status.Store(int32(s))

	st := Status{State: s, Active: s == StateActive}
	for w := range c.watchers {
		c.safeCall("status watcher", func() { w.fn(st) })
	}
}

func (c *Conn) publishStats() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	c.stats = Stats{
		State:           c.state,
		SessionID:       c.sessionID,
		PendingRequests: c.requests.len(),
		Pools:           c.pools.poolCount(),
		Subscriptions:   c.pools.subscriptionCount(),
		BufferedFrames:  c.outbound.Len(),
		Reconnects:      c.reconnects,
		BackoffDelay:    c.lastDelay,
		FramesReceived:  c.framesReceived,
		FramesSent:      c.framesSent,
		MalformedFrames: c.malformed,
		Unhandled:       c.unhandled,
	}
}

// Send transmits a JSON object without expecting a reply. While the
// session is not active the message is buffered and sent, in order, after
// the next successful authentication.
func (c *Conn) Send(payload any) error {
	data, err := wire.Object(payload)
	if err != nil {
		return err
	}
	ok := c.post(func() {
		if c.stopped {
			return
		}
		c.enqueue(outboundFrame{frame: wire.TextFrame(data)})
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

// Go issues a request and returns immediately. The payload is tagged with
// a fresh request id; the reply carrying that id completes the Call.
func (c *Conn) Go(payload any) *Call {
	call := newCall(c)

	data, err := wire.Object(payload)
	if err != nil {
		call.complete(wire.Message{}, err)
		return call
	}

	ok := c.post(func() {
		if c.stopped {
			call.complete(wire.Message{}, ErrClosed)
			return
		}
		p, err := c.requests.add(call, data)
		if err != nil {
			call.complete(wire.Message{}, err)
			return
		}
		c.enqueue(outboundFrame{
			frame:     wire.TextFrame(p.frame),
			request:   true,
			requestID: p.id,
		})
	})
	if !ok {
		call.complete(wire.Message{}, ErrClosed)
	}
	return call
}

// Request issues a request and waits for its reply. Cancelling ctx
// abandons the request. An "error" reply is returned without error.
func (c *Conn) Request(ctx context.Context, payload any) (wire.Message, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	return c.Go(payload).Wait(ctx)
}

// Subscribe registers fn for messages addressed to pool. The first
// subscription to a pool subscribes it on the wire.
func (c *Conn) Subscribe(pool string, fn func(wire.Message)) *Subscription {
	sub := &Subscription{
		conn:     c,
		pool:     pool,
		callback: fn,
	}
	c.post(func() { c.addSubscription(sub) })
	return sub
}

func (c *Conn) addSubscription(sub *Subscription) {
	if sub.cancelled.Load() {
		return
	}
	if c.pools.add(sub) {
		c.log.Debug("pool subscribed", "pool", sub.pool)
		if c.state == StateActive {
			c.transmit(wire.TextFrame(wire.Subscribe(sub.pool)))
		}
	}
}

func (c *Conn) removeSubscription(sub *Subscription) {
	if c.pools.remove(sub) {
		c.log.Debug("pool unsubscribed", "pool", sub.pool)
		if c.state == StateActive {
			c.transmit(wire.TextFrame(wire.Unsubscribe(sub.pool)))
		}
	}
}

// Handle registers fn for messages of msgType that are neither replies
// nor pool deliveries.
func (c *Conn) Handle(msgType string, fn func(wire.Message)) *Registration {
	reg := &Registration{
		conn:    c,
		msgType: msgType,
		handler: fn,
	}
	c.post(func() {
		if reg.cancelled.Load() {
			return
		}
		c.handlers[msgType] = append(c.handlers[msgType], reg)
	})
	return reg
}

func (c *Conn) removeHandler(reg *Registration) {
	list := c.handlers[reg.msgType]
	for i, h := range list {
		if h == reg {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.handlers, reg.msgType)
		return
	}
	c.handlers[reg.msgType] = list
}

// Inject dispatches a locally produced message as if it had arrived on
// the socket.
func (c *Conn) Inject(msg wire.Message) {
	c.post(func() {
		if c.stopped {
			return
		}
		c.dispatch(msg)
	})
}

// WatchStatus calls fn on the event loop with the current status and on
// every subsequent state change. The returned function unregisters it.
func (c *Conn) WatchStatus(fn func(Status)) (cancel func()) {
	w := &statusWatcher{fn: fn}
	c.post(func() {
		c.watchers[w] = struct{}{}
		st := Status{State: c.state, Active: c.state == StateActive}
		c.safeCall("status watcher", func() { w.fn(st) })
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.post(func() { delete(c.watchers, w) })
		})
	}
}

// WaitActive blocks until the session is active, ctx is done, or the
// connection stops.
func (c *Conn) WaitActive(ctx context.Context) error {
	if c.Active() {
		return nil
	}

	ready := make(chan struct{}, 1)
	cancel := c.WatchStatus(func(st Status) {
		if st.Active {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.status.Load())
}

// Active reports whether the session is authenticated.
func (c *Conn) Active() bool {
	return c.State() == StateActive
}

// Identity returns the identity from the last auth success.
func (c *Conn) Identity() Identity {
	c.identMu.Lock()
	defer c.identMu.Unlock()
	return c.identPub
}

// Stats returns a snapshot taken at the end of the last loop iteration.
func (c *Conn) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}
