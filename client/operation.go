package client

import (
	"context"
	"time"

	"github.com/bleq/bleq/client/identifiers"
	"github.com/bleq/bleq/client/promise"
	"github.com/bleq/bleq/client/transport"
	"github.com/juju/errors"
)

// Priority determines queue dequeue precedence. High tier entries always
// dequeue before normal tier entries regardless of enqueue order.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}

	return "normal"
}

// Operation is a single unit of asynchronous work. Immutable once
// submitted; the scheduler owns its transient in-flight state.
type Operation struct {
	id             identifiers.OperationID
	kind           transport.Kind
	characteristic identifiers.CharacteristicID
	value          []byte
	mtu            int
	connPriority   transport.ConnectionPriority
	priority       Priority
	timeout        time.Duration

	// sub is set on notify-disable operations to tear down one specific
	// subscription rather than every subscription of the characteristic.
	sub *Subscription

	pending *Pending
}

// ID returns the opaque operation id.
func (o *Operation) ID() identifiers.OperationID {
	return o.id
}

// Kind returns the transport action this operation performs.
func (o *Operation) Kind() transport.Kind {
	return o.kind
}

// Priority returns the operation's queue tier.
func (o *Operation) Priority() Priority {
	return o.priority
}

func (o *Operation) request(device identifiers.DeviceID) transport.Request {
	return transport.Request{
		ID:             o.id,
		Kind:           o.kind,
		Device:         device,
		Characteristic: o.characteristic,
		Value:          o.value,
		MTU:            o.mtu,
		Priority:       o.connPriority,
	}
}

// Pending is the caller-facing handle of a submitted operation. Its
// contract resolves exactly once: success value, failure or cancellation.
type Pending struct {
	id      identifiers.OperationID
	kind    transport.Kind
	promise promise.Promise
}

func newPending(id identifiers.OperationID, kind transport.Kind) *Pending {
	return &Pending{
		id:      id,
		kind:    kind,
		promise: promise.New(),
	}
}

// ID returns the operation id this handle tracks.
func (p *Pending) ID() identifiers.OperationID {
	return p.id
}

// Kind returns the operation kind this handle tracks.
func (p *Pending) Kind() transport.Kind {
	return p.kind
}

// Done returns a channel closed upon terminal resolution.
func (p *Pending) Done() <-chan struct{} {
	return p.promise.Done()
}

// Wait blocks until the operation resolves or ctx is done. Cancelling the
// ctx does not cancel the operation itself; use Conn.Cancel for that.
func (p *Pending) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-p.promise.Done():
		value, err := p.promise.Wait()
		return value, errors.Trace(err)
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

func (p *Pending) resolve(value interface{}) {
	p.promise.Resolve(value)
}

func (p *Pending) reject(err error) {
	p.promise.Reject(err)
}

func priorityForKind(kind transport.Kind) Priority {
	// Only the disconnect operation preempts: it must run ahead of any
	// backlog so teardown is never starved.
	if kind == transport.KindDisconnect {
		return PriorityHigh
	}

	return PriorityNormal
}
