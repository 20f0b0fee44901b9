package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bleq/bleq/client/clock"
	"github.com/bleq/bleq/client/identifiers"
	"github.com/bleq/bleq/client/logger"
	"github.com/bleq/bleq/client/multierr"
	"github.com/bleq/bleq/client/transport"
	"github.com/juju/errors"
	"github.com/oxtoacart/bpool"
)

const (
	// stateObserverBufferSize bounds how far behind a connection state
	// observer may fall before transitions are dropped for it.
	stateObserverBufferSize = 16

	// subscriptionBufferSize bounds how far behind a notification
	// subscriber may fall before values are dropped for it.
	subscriptionBufferSize = 32

	chunkPoolSize = 16
)

// ConnParams are the construction parameters for Conn.
type ConnParams struct {
	Log       logger.Logger
	Transport transport.Transport
	Config    Config
	Device    identifiers.DeviceID

	// Clock is optional and defaults to the wall clock. Tests inject
	// clock.Mock to drive timeouts deterministically.
	Clock clock.Clock

	// Usable reports whether the adapter layer is ready for a connection
	// attempt. It is consulted once per Connect call and treated as a
	// plain boolean gate. nil means always usable.
	Usable func() bool
}

// Conn schedules operations against a single remote device. The underlying
// transport permits one outstanding request at a time; Conn serializes all
// submitted operations through a single in-flight slot, enforces per-kind
// timeouts and routes asynchronous transport events back to callers.
//
// All queue, state and slot mutation happens on one event loop goroutine.
// Every exported method is safe for concurrent use.
type Conn struct {
	params ConnParams
	log    logger.Logger
	clock  clock.Clock

	submitCh         chan *Operation
	cancelCh         chan cancelRequest
	observeCh        chan chan *stateObserver
	unobserveCh      chan *stateObserver
	longWriteRegCh   chan *longWriteJob
	longWriteUnregCh chan identifiers.OperationID

	teardownCh chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once
	closeErr   error

	negotiatedMTU int64

	chunkPool *bpool.BytePool

	// chunkWidth is the width of the pooled chunk buffers. Long-write chunk
	// sizes never exceed it.
	chunkWidth int

	// Fields below are owned by the event loop.
	queue      operationQueue
	state      stateMachine
	inflight   *inflightSlot
	slotTimer  clock.Timer
	observers  map[*stateObserver]struct{}
	subs       map[identifiers.CharacteristicID][]*Subscription
	longWrites map[identifiers.OperationID]*longWriteJob
}

type inflightSlot struct {
	op        *Operation
	cancelled bool
	started   time.Time
}

type cancelRequest struct {
	id       identifiers.OperationID
	resultCh chan bool
}

type stateObserver struct {
	ch chan ConnectionState
}

// New creates a Conn and starts its event loop. The caller must call Close
// to release resources.
func New(params ConnParams) *Conn {
	if params.Log == nil {
		params.Log = logger.New()
	}

	if params.Clock == nil {
		params.Clock = clock.New()
	}

	poolWidth := params.Config.LongWrite.MaxChunkSize
	if poolWidth <= 0 {
		poolWidth = maxChunkSize
	}

	c := &Conn{
		params: params,
		log:    params.Log.WithNamespaceAppended("scheduler").WithCtx(logger.Ctx{"device": params.Device}),
		clock:  params.Clock,

		submitCh:         make(chan *Operation),
		cancelCh:         make(chan cancelRequest),
		observeCh:        make(chan chan *stateObserver),
		unobserveCh:      make(chan *stateObserver),
		longWriteRegCh:   make(chan *longWriteJob),
		longWriteUnregCh: make(chan identifiers.OperationID),

		teardownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),

		chunkPool:  bpool.NewBytePool(chunkPoolSize, poolWidth),
		chunkWidth: poolWidth,

		observers:  map[*stateObserver]struct{}{},
		subs:       map[identifiers.CharacteristicID][]*Subscription{},
		longWrites: map[identifiers.OperationID]*longWriteJob{},
	}

	go c.run()

	return c
}

// Connect submits a connection attempt. Admissible only from the
// disconnected state. The usability gate, when configured, is consulted
// first.
func (c *Conn) Connect() *Pending {
	if c.params.Usable != nil && !c.params.Usable() {
		op := c.newOperation(transport.KindConnect)
		op.pending.reject(errors.Annotatef(ErrTransportRejected, "adapter not usable"))

		return op.pending
	}

	return c.submit(c.newOperation(transport.KindConnect))
}

// Disconnect submits a disconnect. It runs on the high-priority lane ahead
// of any queued work, but does not abort an operation already in flight.
func (c *Conn) Disconnect() *Pending {
	return c.submit(c.newOperation(transport.KindDisconnect))
}

// Read submits a characteristic read. The resolved value is a []byte.
func (c *Conn) Read(characteristic identifiers.CharacteristicID) *Pending {
	op := c.newOperation(transport.KindRead)
	op.characteristic = characteristic

	return c.submit(op)
}

// Write submits a characteristic write with response.
func (c *Conn) Write(characteristic identifiers.CharacteristicID, value []byte) *Pending {
	op := c.newOperation(transport.KindWrite)
	op.characteristic = characteristic
	op.value = value

	return c.submit(op)
}

// WriteNoResponse submits a characteristic write without response. The
// operation completes as soon as the transport accepts the payload.
func (c *Conn) WriteNoResponse(characteristic identifiers.CharacteristicID, value []byte) *Pending {
	op := c.newOperation(transport.KindWriteNoResponse)
	op.characteristic = characteristic
	op.value = value

	return c.submit(op)
}

// RequestMTU submits an MTU negotiation. The resolved value is the granted
// MTU as an int; it also resizes chunks of subsequent long writes.
func (c *Conn) RequestMTU(mtu int) *Pending {
	op := c.newOperation(transport.KindRequestMTU)
	op.mtu = mtu

	return c.submit(op)
}

// ReadRSSI submits an RSSI read. The resolved value is an int.
func (c *Conn) ReadRSSI() *Pending {
	return c.submit(c.newOperation(transport.KindReadRSSI))
}

// RequestConnectionPriority submits a connection parameter update.
func (c *Conn) RequestConnectionPriority(priority transport.ConnectionPriority) *Pending {
	op := c.newOperation(transport.KindConnectionPriority)
	op.connPriority = priority

	return c.submit(op)
}

// Cancel cancels the operation behind the handle. A queued operation is
// removed and never executes. An in-flight operation resolves as cancelled
// immediately, but the slot stays occupied until the transport confirms via
// a (dropped) late callback or the timeout fires, because the transport
// side effect is not reversible. Returns true when the handle was known.
func (c *Conn) Cancel(p *Pending) bool {
	req := cancelRequest{
		id:       p.id,
		resultCh: make(chan bool, 1),
	}

	select {
	case c.cancelCh <- req:
		return <-req.resultCh
	case <-c.doneCh:
		return false
	}
}

// ObserveConnectionState registers a hot observer of connection state. The
// current state is delivered first. The returned stop function unregisters
// the observer and closes the channel.
func (c *Conn) ObserveConnectionState() (<-chan ConnectionState, func()) {
	resultCh := make(chan *stateObserver)

	var obs *stateObserver

	select {
	case c.observeCh <- resultCh:
		obs = <-resultCh
	case <-c.doneCh:
		ch := make(chan ConnectionState)
		close(ch)

		return ch, func() {}
	}

	stop := func() {
		select {
		case c.unobserveCh <- obs:
		case <-c.doneCh:
		}
	}

	return obs.ch, stop
}

// MTU returns the negotiated MTU, or the ATT default when none has been
// negotiated yet.
func (c *Conn) MTU() int {
	if mtu := atomic.LoadInt64(&c.negotiatedMTU); mtu > 0 {
		return int(mtu)
	}

	return defaultMTU
}

// Close tears the connection down: every queued and in-flight operation
// resolves with a disconnection error, subscriptions and observers are
// completed, the event loop stops and the transport is closed. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.teardownCh)
		<-c.doneCh

		errs := multierr.New()
		errs.Add(c.params.Transport.Close())

		c.closeErr = errors.Trace(errs.Err())
	})

	return c.closeErr
}

func (c *Conn) newOperation(kind transport.Kind) *Operation {
	id := newOperationID()

	return &Operation{
		id:       id,
		kind:     kind,
		priority: priorityForKind(kind),
		timeout:  c.params.Config.Timeouts.forKind(kind),
		pending:  newPending(id, kind),
	}
}

func (c *Conn) submit(op *Operation) *Pending {
	select {
	case c.submitCh <- op:
	case <-c.doneCh:
		op.pending.reject(errors.Trace(ErrClosed))
	}

	return op.pending
}

// run is the event loop. It is the only goroutine that touches the queue,
// the state machine and the in-flight slot.
func (c *Conn) run() {
	defer close(c.doneCh)

	events := c.params.Transport.Events()

	for {
		// The armed timeout only participates in the select while an
		// operation is in flight.
		var timeoutC <-chan time.Time

		if c.slotTimer != nil {
			timeoutC = c.slotTimer.C()
		}

		select {
		case op := <-c.submitCh:
			c.handleSubmit(op)
		case req := <-c.cancelCh:
			req.resultCh <- c.handleCancel(req.id)
		case resultCh := <-c.observeCh:
			resultCh <- c.addObserver()
		case obs := <-c.unobserveCh:
			c.removeObserver(obs)
		case job := <-c.longWriteRegCh:
			c.longWrites[job.id] = job
		case id := <-c.longWriteUnregCh:
			delete(c.longWrites, id)
		case ev, ok := <-events:
			if !ok {
				// Transport torn down under us. Treat as a disconnect and
				// wait for Close.
				events = nil

				c.handleDisconnected()

				continue
			}

			c.handleTransportEvent(ev)
		case <-timeoutC:
			c.handleTimeout()
		case <-c.teardownCh:
			c.teardown()

			return
		}
	}
}

func (c *Conn) handleSubmit(op *Operation) {
	state := c.state.current()

	switch op.kind {
	case transport.KindConnect:
		if state != StateDisconnected {
			op.pending.reject(errors.Annotatef(ErrTransportRejected, "connect while %s", state))

			return
		}
	case transport.KindDisconnect:
		if state == StateDisconnected && c.inflight == nil {
			// Nothing to tear down.
			op.pending.resolve(nil)

			return
		}
	default:
		if state == StateDisconnected || state == StateDisconnecting {
			op.pending.reject(errors.Trace(ErrDisconnected))

			return
		}
	}

	c.log.Trace("Operation submitted", logger.Ctx{
		"op_id":    op.id,
		"kind":     op.kind,
		"priority": op.priority,
	})

	prometheusOperationsTotal.Inc()
	prometheusOperationsActive.Inc()

	c.queue.push(op)
	c.tryAdmitNext()
}

func (c *Conn) handleCancel(id identifiers.OperationID) bool {
	if op := c.queue.remove(id); op != nil {
		op.pending.reject(errors.Trace(ErrCancelled))
		prometheusOperationsCancelledTotal.Inc()
		prometheusOperationsActive.Dec()

		c.log.Debug("Queued operation cancelled", logger.Ctx{"op_id": id})

		return true
	}

	if c.inflight != nil && c.inflight.op.id == id && !c.inflight.cancelled {
		c.inflight.cancelled = true
		c.inflight.op.pending.reject(errors.Trace(ErrCancelled))
		prometheusOperationsCancelledTotal.Inc()

		c.log.Debug("In-flight operation cancelled, awaiting transport confirmation", logger.Ctx{
			"op_id": id,
		})

		return true
	}

	if job, ok := c.longWrites[id]; ok {
		job.cancel()

		return true
	}

	return false
}

func (c *Conn) addObserver() *stateObserver {
	obs := &stateObserver{
		ch: make(chan ConnectionState, stateObserverBufferSize),
	}

	c.observers[obs] = struct{}{}

	// Deliver the current state first so observers never start blind.
	obs.ch <- c.state.current()

	return obs
}

func (c *Conn) removeObserver(obs *stateObserver) {
	if _, ok := c.observers[obs]; ok {
		delete(c.observers, obs)
		close(obs.ch)
	}
}

func (c *Conn) admissible(op *Operation) bool {
	switch op.kind {
	case transport.KindDisconnect:
		return true
	case transport.KindConnect:
		return c.state.current() == StateDisconnected
	default:
		return c.state.current() == StateConnected
	}
}

// tryAdmitNext fills the in-flight slot from the queue. Called whenever the
// slot frees up or the state machine changes; never polls.
func (c *Conn) tryAdmitNext() {
	for c.inflight == nil {
		op := c.queue.popAdmissible(c.admissible)
		if op == nil {
			return
		}

		c.admit(op)
	}
}

func (c *Conn) admit(op *Operation) {
	switch op.kind {
	case transport.KindConnect:
		c.transition(StateConnecting)
	case transport.KindDisconnect:
		if state := c.state.current(); state == StateConnected {
			c.transition(StateDisconnecting)
		}
	}

	c.inflight = &inflightSlot{
		op:      op,
		started: c.clock.Now(),
	}
	c.slotTimer = c.clock.NewTimer(op.timeout)

	c.log.Debug("Operation in flight", logger.Ctx{
		"op_id":   op.id,
		"kind":    op.kind,
		"timeout": op.timeout,
	})

	if err := c.params.Transport.Execute(op.request(c.params.Device)); err != nil {
		kind := op.kind

		c.finishInflight(nil, errors.Annotatef(ErrTransportRejected, "execute %s: %s", kind, err))

		if kind == transport.KindConnect || kind == transport.KindDisconnect {
			c.becomeDisconnected()
		}
	}
}

// finishInflight empties the slot, disarms the timeout and resolves the
// operation's contract unless it was already resolved by cancellation.
func (c *Conn) finishInflight(value interface{}, err error) {
	slot := c.inflight
	c.inflight = nil

	if c.slotTimer != nil {
		c.slotTimer.Stop()
		c.slotTimer = nil
	}

	if !slot.cancelled {
		if err != nil {
			slot.op.pending.reject(errors.Trace(err))
		} else {
			slot.op.pending.resolve(value)
		}
	}

	prometheusOperationsActive.Dec()
	prometheusOperationDuration.Observe(c.clock.Now().Sub(slot.started).Seconds())
}

func (c *Conn) handleTransportEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventTypeConnected:
		c.handleConnected()
	case transport.EventTypeDisconnected:
		c.handleDisconnected()
	case transport.EventTypeResult:
		c.handleResult(ev)
	case transport.EventTypeNotification:
		c.handleNotification(ev)
	default:
		c.log.Warn("Unknown transport event", logger.Ctx{"event_type": ev.Type})
	}
}

func (c *Conn) handleConnected() {
	if c.inflight != nil && c.inflight.op.kind == transport.KindConnect {
		c.finishInflight(nil, nil)
	}

	c.transition(StateConnected)
	c.tryAdmitNext()
}

// handleDisconnected is the single global failure trigger: it resolves the
// in-flight operation, flushes the queue in order with a disconnection
// error and completes all subscriptions. A second disconnect is a no-op.
func (c *Conn) handleDisconnected() {
	if c.inflight != nil {
		if c.inflight.op.kind == transport.KindDisconnect {
			c.finishInflight(nil, nil)
		} else {
			c.finishInflight(nil, ErrDisconnected)
		}
	}

	c.becomeDisconnected()
}

func (c *Conn) becomeDisconnected() {
	flushed := c.queue.flush()

	for _, op := range flushed {
		op.pending.reject(errors.Trace(ErrDisconnected))
		prometheusDisconnectFlushedTotal.Inc()
		prometheusOperationsActive.Dec()
	}

	if len(flushed) > 0 {
		c.log.Info("Flushed pending operations on disconnect", logger.Ctx{
			"count": len(flushed),
		})
	}

	for _, subs := range c.subs {
		for _, sub := range subs {
			sub.close()
		}
	}

	c.subs = map[identifiers.CharacteristicID][]*Subscription{}

	for _, job := range c.longWrites {
		job.notifyDisconnected()
	}

	c.transition(StateDisconnected)

	// A connect submitted behind the teardown may be admissible now.
	c.tryAdmitNext()
}

func (c *Conn) handleResult(ev transport.Event) {
	if c.inflight == nil || c.inflight.op.id != ev.OperationID {
		// Stale or duplicate callback, e.g. after a timeout already
		// resolved the operation. Drop it.
		c.log.Trace("Dropped transport result for unknown operation", logger.Ctx{
			"op_id": ev.OperationID,
		})

		return
	}

	if c.inflight.cancelled {
		// The contract already resolved as cancelled; the late callback
		// only confirms the transport is idle again.
		c.finishInflight(nil, nil)
		c.tryAdmitNext()

		return
	}

	op := c.inflight.op

	if ev.Err != nil {
		c.finishInflight(nil, ev.Err)

		if op.kind == transport.KindConnect {
			c.becomeDisconnected()
		} else {
			c.tryAdmitNext()
		}

		return
	}

	var value interface{}

	switch op.kind {
	case transport.KindRead:
		value = ev.Value
	case transport.KindRequestMTU:
		value = ev.MTU

		atomic.StoreInt64(&c.negotiatedMTU, int64(ev.MTU))
	case transport.KindReadRSSI:
		value = ev.RSSI
	case transport.KindNotifyEnable:
		value = c.addSubscription(op.characteristic)
	case transport.KindNotifyDisable:
		c.removeSubscriptions(op)
	}

	c.finishInflight(value, nil)
	c.tryAdmitNext()
}

func (c *Conn) handleTimeout() {
	if c.inflight == nil {
		return
	}

	op := c.inflight.op

	c.log.Warn("Operation timed out", logger.Ctx{
		"op_id":   op.id,
		"kind":    op.kind,
		"timeout": op.timeout,
	})

	prometheusOperationTimeoutsTotal.Inc()

	c.finishInflight(nil, ErrTimeout)

	switch op.kind {
	case transport.KindConnect, transport.KindDisconnect:
		// The disconnected state must always be reached so resources are
		// released even when the transport stops responding.
		c.becomeDisconnected()
	default:
		c.tryAdmitNext()
	}
}

func (c *Conn) handleNotification(ev transport.Event) {
	prometheusNotificationsTotal.Inc()

	for _, sub := range c.subs[ev.Characteristic] {
		select {
		case sub.valuesCh <- ev.Value:
		default:
			prometheusNotificationsDroppedTotal.Inc()

			c.log.Warn("Dropped notification for slow subscriber", logger.Ctx{
				"characteristic": ev.Characteristic,
			})
		}
	}
}

func (c *Conn) transition(next ConnectionState) {
	if !c.state.to(next) {
		return
	}

	c.log.Info("Connection state changed", logger.Ctx{"state": next})

	for obs := range c.observers {
		select {
		case obs.ch <- next:
		default:
			c.log.Warn("Dropped state transition for slow observer", logger.Ctx{
				"state": next,
			})
		}
	}
}

func (c *Conn) teardown() {
	if c.inflight != nil {
		c.finishInflight(nil, ErrDisconnected)
	}

	c.becomeDisconnected()

	for obs := range c.observers {
		delete(c.observers, obs)
		close(obs.ch)
	}
}
