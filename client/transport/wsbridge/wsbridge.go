// Package wsbridge implements the transport boundary over a websocket
// connection to a BLE gateway daemon: requests go out as JSON messages and
// the gateway pushes results, notifications and connection state changes
// back asynchronously.
package wsbridge

import (
	"context"
	"sync"
	"time"

	"github.com/bleq/bleq/client/logger"
	"github.com/bleq/bleq/client/transport"
	"github.com/juju/errors"
	"nhooyr.io/websocket"
)

const (
	eventsChanSize = 64
	writeTimeout   = 10 * time.Second
)

type Params struct {
	URL string
	Log logger.Logger
}

// Bridge is a transport.Transport talking to a remote BLE gateway.
type Bridge struct {
	params     Params
	log        logger.Logger
	conn       *websocket.Conn
	serializer ByteSerializer

	eventsCh  chan transport.Event
	closedCh  chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

var _ transport.Transport = &Bridge{}

// New dials the gateway and starts the read loop.
func New(ctx context.Context, params Params) (*Bridge, error) {
	if params.Log == nil {
		params.Log = logger.New()
	}

	conn, _, err := websocket.Dial(ctx, params.URL, nil)
	if err != nil {
		return nil, errors.Annotatef(err, "dial bridge: %s", params.URL)
	}

	b := &Bridge{
		params:   params,
		log:      params.Log.WithNamespaceAppended("wsbridge"),
		conn:     conn,
		eventsCh: make(chan transport.Event, eventsChanSize),
		closedCh: make(chan struct{}),
	}

	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		b.readLoop()
	}()

	return b, nil
}

// Execute implements transport.Transport. It only ships the request to the
// gateway; the outcome arrives later on Events.
func (b *Bridge) Execute(req transport.Request) error {
	data, err := b.serializer.Serialize(NewMessageFromRequest(req))
	if err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = b.conn.Write(ctx, websocket.MessageText, data)

	return errors.Annotatef(err, "write request: %s", req.Kind)
}

// Events implements transport.Transport.
func (b *Bridge) Events() <-chan transport.Event {
	return b.eventsCh
}

// Close implements transport.Transport. It closes the websocket, waits for
// the read loop and closes the events channel.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.closedCh)

		err := b.conn.Close(websocket.StatusNormalClosure, "")

		b.wg.Wait()
		close(b.eventsCh)

		b.closeErr = errors.Trace(err)
	})

	return b.closeErr
}

func (b *Bridge) readLoop() {
	for {
		_, data, err := b.conn.Read(context.Background())
		if err != nil {
			select {
			case <-b.closedCh:
				// Local close, not a link failure.
			default:
				b.log.Warn("Bridge read failed", logger.Ctx{"error": err})
				b.emit(transport.Event{Type: transport.EventTypeDisconnected, Err: err})
			}

			return
		}

		msg, err := b.serializer.Deserialize(data)
		if err != nil {
			b.log.Warn("Dropping malformed bridge message", logger.Ctx{"error": err})

			continue
		}

		ev, ok := msg.Event()
		if !ok {
			b.log.Warn("Dropping bridge message of unknown type", logger.Ctx{
				"message_type": msg.Type,
			})

			continue
		}

		b.emit(ev)
	}
}

func (b *Bridge) emit(ev transport.Event) {
	select {
	case b.eventsCh <- ev:
	case <-b.closedCh:
	}
}
