package client

import (
	"context"
	"sync"

	"github.com/bleq/bleq/client/identifiers"
	"github.com/bleq/bleq/client/logger"
	"github.com/bleq/bleq/client/multierr"
	"github.com/bleq/bleq/client/transport"
	"github.com/juju/errors"
)

// LongWriteParams describe a chunked write of a payload larger than a
// single transport write.
type LongWriteParams struct {
	Characteristic identifiers.CharacteristicID

	Payload []byte

	// ChunkSize overrides the chunk size. Zero means negotiated MTU minus
	// the write header, falling back to the configured default.
	ChunkSize int

	// Ack is an optional flow-control gate: when set, each chunk after the
	// first is only queued once a value is received from it.
	Ack <-chan struct{}
}

// LongWrite splits the payload into ordered chunks and submits each as a
// normal-priority write once its predecessor succeeded. Failed chunks are
// retried up to the configured attempt bound; an unrecoverable chunk fails
// the whole job with a ChunkError and no further chunk is queued. The
// resolved value is the total number of bytes written.
func (c *Conn) LongWrite(params LongWriteParams) *Pending {
	id := newOperationID()
	pending := newPending(id, transport.KindWrite)

	cfg := c.params.Config.LongWrite

	if cfg.RequireAck && params.Ack == nil {
		pending.reject(errors.Annotatef(ErrTransportRejected, "acknowledgement gate required"))

		return pending
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	job := &longWriteJob{
		conn:           c,
		id:             id,
		log:            c.params.Log.WithNamespaceAppended("longwrite").WithCtx(logger.Ctx{"job_id": id}),
		characteristic: params.Characteristic,
		payload:        params.Payload,
		chunkSize:      c.chunkSize(params.ChunkSize),
		ack:            params.Ack,
		maxAttempts:    maxAttempts,
		pending:        pending,
		cancelCh:       make(chan struct{}),
		disconnectCh:   make(chan struct{}),
	}

	// Register with the event loop so Cancel and disconnect flushes reach
	// the job, then run it on its own goroutine. Chunk submissions still
	// serialize through the queue like any other operation.
	select {
	case c.longWriteRegCh <- job:
		go job.run()
	case <-c.doneCh:
		pending.reject(errors.Trace(ErrClosed))
	}

	return pending
}

func (c *Conn) chunkSize(override int) int {
	size := override

	if size <= 0 {
		if mtu := c.MTU(); mtu > defaultMTU {
			size = mtu - 3
		} else {
			size = c.params.Config.LongWrite.ChunkSize
		}
	}

	if size <= 0 {
		size = defaultChunkSize
	}

	// Chunks are staged in pooled buffers of chunkWidth bytes; a larger
	// chunk would be silently truncated by the copy.
	if size > c.chunkWidth {
		size = c.chunkWidth
	}

	return size
}

type longWriteJob struct {
	conn *Conn
	id   identifiers.OperationID
	log  logger.Logger

	characteristic identifiers.CharacteristicID
	payload        []byte
	chunkSize      int
	ack            <-chan struct{}
	maxAttempts    int

	pending *Pending

	cancelOnce     sync.Once
	cancelCh       chan struct{}
	disconnectOnce sync.Once
	disconnectCh   chan struct{}
}

// cancel is called by the event loop when the caller cancels the parent
// handle.
func (j *longWriteJob) cancel() {
	j.cancelOnce.Do(func() {
		close(j.cancelCh)
	})
}

// notifyDisconnected is called by the event loop during a disconnect flush
// to unblock a job waiting on its acknowledgement gate.
func (j *longWriteJob) notifyDisconnected() {
	j.disconnectOnce.Do(func() {
		close(j.disconnectCh)
	})
}

func (j *longWriteJob) run() {
	defer j.unregister()

	total := len(j.payload)

	for offset, index := 0, 0; offset < total; offset, index = offset+j.chunkSize, index+1 {
		if index > 0 && j.ack != nil {
			select {
			case <-j.ack:
			case <-j.cancelCh:
				j.fail(errors.Trace(ErrCancelled))

				return
			case <-j.disconnectCh:
				j.fail(errors.Trace(ErrDisconnected))

				return
			}
		}

		end := offset + j.chunkSize
		if end > total {
			end = total
		}

		if err := j.writeChunk(index, j.payload[offset:end]); err != nil {
			j.fail(err)

			return
		}
	}

	j.log.Debug("Long write complete", logger.Ctx{"bytes": total})

	j.pending.resolve(total)
}

// writeChunk executes one chunk, retrying per policy. The chunk payload is
// staged in a pooled buffer for the duration of the attempts. The buffer
// goes back to the pool only once the transport has confirmed it is done
// with it; on cancellation or timeout the request may still be transmitting
// from it, so the buffer is abandoned to the garbage collector instead.
func (j *longWriteJob) writeChunk(index int, chunk []byte) error {
	buf := j.conn.chunkPool.Get()

	n := copy(buf, chunk)

	for attempts := 1; ; attempts++ {
		pending := j.conn.Write(j.characteristic, buf[:n])

		select {
		case <-pending.Done():
		case <-j.cancelCh:
			j.conn.Cancel(pending)

			return errors.Trace(ErrCancelled)
		}

		// Already done; Wait returns immediately.
		_, err := pending.Wait(context.Background())
		if err == nil {
			j.conn.chunkPool.Put(buf)

			return nil
		}

		if multierr.Is(err, ErrCancelled) {
			return errors.Trace(err)
		}

		// Disconnection aborts the job outright; retrying against a dead
		// link only delays the failure.
		if multierr.Is(err, ErrDisconnected) || multierr.Is(err, ErrClosed) {
			j.conn.chunkPool.Put(buf)

			return errors.Trace(err)
		}

		if attempts >= j.maxAttempts {
			if !multierr.Is(err, ErrTimeout) {
				j.conn.chunkPool.Put(buf)
			}

			return &ChunkError{
				Index:    index,
				Attempts: attempts,
				Err:      errors.Cause(err),
			}
		}

		prometheusLongWriteRetriesTotal.Inc()

		j.log.Warn("Retrying failed chunk", logger.Ctx{
			"chunk":    index,
			"attempts": attempts,
		})
	}
}

func (j *longWriteJob) fail(err error) {
	j.log.Warn("Long write failed", logger.Ctx{"error": err})

	j.pending.reject(err)
}

func (j *longWriteJob) unregister() {
	select {
	case j.conn.longWriteUnregCh <- j.id:
	case <-j.conn.doneCh:
	}
}
