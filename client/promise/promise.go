package promise

import "sync"

// Promise carries the single terminal outcome of an asynchronous operation:
// either a value or an error, resolved exactly once. Additional Resolve or
// Reject calls after the first are no-ops.
type Promise interface {
	Deferred
	Waitable
}

type Deferred interface {
	Resolve(value interface{})
	Reject(err error)
}

type Waitable interface {
	// Wait blocks until the promise is resolved or rejected.
	Wait() (interface{}, error)

	// Done returns a channel closed upon terminal resolution. After Done is
	// closed, Wait returns immediately.
	Done() <-chan struct{}
}

type promise struct {
	value  interface{}
	err    error
	doneCh chan struct{}
	once   sync.Once
}

func New() Promise {
	return &promise{
		doneCh: make(chan struct{}),
	}
}

func (p *promise) done(value interface{}, err error) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		close(p.doneCh)
	})
}

func (p *promise) Resolve(value interface{}) {
	p.done(value, nil)
}

func (p *promise) Reject(err error) {
	p.done(nil, err)
}

func (p *promise) Wait() (interface{}, error) {
	<-p.doneCh
	return p.value, p.err
}

func (p *promise) Done() <-chan struct{} {
	return p.doneCh
}
