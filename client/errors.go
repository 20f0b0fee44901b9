package client

import (
	"fmt"

	"github.com/juju/errors"
)

var (
	// ErrTimeout resolves an operation whose deadline fired before any
	// transport callback arrived.
	ErrTimeout = errors.New("operation timed out")

	// ErrTransportRejected means the transport refused to execute the
	// request, e.g. because it was malformed or unsupported.
	ErrTransportRejected = errors.New("transport rejected request")

	// ErrDisconnected resolves every queued and in-flight operation when
	// the connection drops.
	ErrDisconnected = errors.New("disconnected")

	// ErrCancelled resolves an operation cancelled by the caller.
	ErrCancelled = errors.New("operation cancelled")

	// ErrClosed is returned when submitting to a Conn that has been closed.
	ErrClosed = errors.New("connection closed")
)

// ChunkError wraps the underlying error of a long-write chunk that
// exhausted its retry attempts.
type ChunkError struct {
	// Index is the zero-based position of the failed chunk.
	Index int

	// Attempts is the number of times the chunk was executed.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %s", e.Index, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
