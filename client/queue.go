package client

import "github.com/bleq/bleq/client/identifiers"

// operationQueue is the pending-work store: a high-priority lane and a
// normal FIFO lane. It is owned by the Conn event loop and must never be
// touched from any other goroutine.
type operationQueue struct {
	high   []*Operation
	normal []*Operation
}

func (q *operationQueue) push(op *Operation) {
	if op.priority == PriorityHigh {
		q.high = append(q.high, op)
		return
	}

	q.normal = append(q.normal, op)
}

func (q *operationQueue) len() int {
	return len(q.high) + len(q.normal)
}

// popAdmissible removes and returns the first operation for which admit
// returns true, draining the high lane before the normal lane. FIFO order
// holds within each lane. Returns nil when nothing is admissible.
func (q *operationQueue) popAdmissible(admit func(*Operation) bool) *Operation {
	if op, rest, ok := popFirst(q.high, admit); ok {
		q.high = rest
		return op
	}

	if op, rest, ok := popFirst(q.normal, admit); ok {
		q.normal = rest
		return op
	}

	return nil
}

// remove removes a queued operation by id. Returns the operation, or nil
// when the id is not queued.
func (q *operationQueue) remove(id identifiers.OperationID) *Operation {
	if op, rest, ok := removeByID(q.high, id); ok {
		q.high = rest
		return op
	}

	if op, rest, ok := removeByID(q.normal, id); ok {
		q.normal = rest
		return op
	}

	return nil
}

// flush empties the queue and returns every entry in queue order: the high
// lane first, then the normal lane.
func (q *operationQueue) flush() []*Operation {
	ops := make([]*Operation, 0, q.len())
	ops = append(ops, q.high...)
	ops = append(ops, q.normal...)

	q.high = nil
	q.normal = nil

	return ops
}

func popFirst(lane []*Operation, admit func(*Operation) bool) (*Operation, []*Operation, bool) {
	for i, op := range lane {
		if admit(op) {
			return op, append(lane[:i:i], lane[i+1:]...), true
		}
	}

	return nil, lane, false
}

func removeByID(lane []*Operation, id identifiers.OperationID) (*Operation, []*Operation, bool) {
	for i, op := range lane {
		if op.id == id {
			return op, append(lane[:i:i], lane[i+1:]...), true
		}
	}

	return nil, lane, false
}
