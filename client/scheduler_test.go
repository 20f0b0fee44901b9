package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bleq/bleq/client"
	"github.com/bleq/bleq/client/clock"
	"github.com/bleq/bleq/client/identifiers"
	"github.com/bleq/bleq/client/multierr"
	"github.com/bleq/bleq/client/test"
	"github.com/bleq/bleq/client/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testDevice = identifiers.DeviceID("AA:BB:CC:DD:EE:FF")
	testChar   = identifiers.CharacteristicID("0000ffe1-0000-1000-8000-00805f9b34fb")

	waitTimeout = 2 * time.Second
)

// fakeTransport is a scripted transport. Executed requests appear on
// requestCh; the test answers them by emitting events.
type fakeTransport struct {
	requestCh chan transport.Request
	eventsCh  chan transport.Event

	mu      sync.Mutex
	execErr func(transport.Request) error

	closeOnce sync.Once
}

var _ transport.Transport = &fakeTransport{}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		requestCh: make(chan transport.Request, 64),
		eventsCh:  make(chan transport.Event, 64),
	}
}

func (f *fakeTransport) Execute(req transport.Request) error {
	f.mu.Lock()
	execErr := f.execErr
	f.mu.Unlock()

	if execErr != nil {
		if err := execErr(req); err != nil {
			return err
		}
	}

	f.requestCh <- req

	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.eventsCh
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		close(f.eventsCh)
	})

	return nil
}

func (f *fakeTransport) setExecErr(fn func(transport.Request) error) {
	f.mu.Lock()
	f.execErr = fn
	f.mu.Unlock()
}

func (f *fakeTransport) emit(ev transport.Event) {
	f.eventsCh <- ev
}

// succeed emits a plain success result for an executed request.
func (f *fakeTransport) succeed(req transport.Request) {
	f.emit(transport.Event{
		Type:           transport.EventTypeResult,
		OperationID:    req.ID,
		Characteristic: req.Characteristic,
	})
}

type fixture struct {
	t    *testing.T
	clk  *clock.Mock
	tr   *fakeTransport
	conn *client.Conn
}

func newFixture(t *testing.T, configure ...func(*client.Config)) *fixture {
	t.Helper()
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})

	var cfg client.Config

	client.InitConfig(&cfg)

	for _, fn := range configure {
		fn(&cfg)
	}

	f := &fixture{
		t:   t,
		clk: clock.NewMock(),
		tr:  newFakeTransport(),
	}

	f.conn = client.New(client.ConnParams{
		Log:       test.NewLogger(),
		Transport: f.tr,
		Config:    cfg,
		Device:    testDevice,
		Clock:     f.clk,
	})

	t.Cleanup(func() {
		require.NoError(t, f.conn.Close())
	})

	return f
}

func (f *fixture) expectRequest(kind transport.Kind) transport.Request {
	f.t.Helper()

	select {
	case req := <-f.tr.requestCh:
		require.Equal(f.t, kind, req.Kind)

		return req
	case <-time.After(waitTimeout):
		f.t.Fatalf("no %s request reached the transport", kind)

		return transport.Request{}
	}
}

func (f *fixture) expectNoRequest() {
	f.t.Helper()

	select {
	case req := <-f.tr.requestCh:
		f.t.Fatalf("unexpected %s request reached the transport", req.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fixture) connect() {
	f.t.Helper()

	p := f.conn.Connect()
	f.expectRequest(transport.KindConnect)
	f.tr.emit(transport.Event{Type: transport.EventTypeConnected})
	f.wait(p)
}

func (f *fixture) wait(p *client.Pending) interface{} {
	f.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	value, err := p.Wait(ctx)
	require.NoError(f.t, err)

	return value
}

func (f *fixture) waitErr(p *client.Pending) error {
	f.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	_, err := p.Wait(ctx)
	require.Error(f.t, err)
	require.False(f.t, errors.Is(err, context.DeadlineExceeded))

	return err
}

func recvState(t *testing.T, ch <-chan client.ConnectionState) client.ConnectionState {
	t.Helper()

	select {
	case state := <-ch:
		return state
	case <-time.After(waitTimeout):
		t.Fatal("no connection state received")

		return client.StateDisconnected
	}
}

func recvValue(t *testing.T, ch <-chan []byte) ([]byte, bool) {
	t.Helper()

	select {
	case value, ok := <-ch:
		return value, ok
	case <-time.After(waitTimeout):
		t.Fatal("no notification value received")

		return nil, false
	}
}

func TestConnect(t *testing.T) {
	f := newFixture(t)

	stateCh, stop := f.conn.ObserveConnectionState()
	defer stop()

	require.Equal(t, client.StateDisconnected, recvState(t, stateCh))

	p := f.conn.Connect()

	req := f.expectRequest(transport.KindConnect)
	require.Equal(t, testDevice, req.Device)
	require.Equal(t, client.StateConnecting, recvState(t, stateCh))

	f.tr.emit(transport.Event{Type: transport.EventTypeConnected})

	f.wait(p)
	require.Equal(t, client.StateConnected, recvState(t, stateCh))
}

func TestConnectRejectedWhileConnected(t *testing.T) {
	f := newFixture(t)
	f.connect()

	err := f.waitErr(f.conn.Connect())
	require.True(t, multierr.Is(err, client.ErrTransportRejected))
}

func TestConnectRejectedWhenAdapterNotUsable(t *testing.T) {
	defer goleak.VerifyNone(t)

	var cfg client.Config

	client.InitConfig(&cfg)

	conn := client.New(client.ConnParams{
		Log:       test.NewLogger(),
		Transport: newFakeTransport(),
		Config:    cfg,
		Device:    testDevice,
		Usable:    func() bool { return false },
	})
	defer func() {
		require.NoError(t, conn.Close())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	_, err := conn.Connect().Wait(ctx)
	require.True(t, multierr.Is(err, client.ErrTransportRejected))
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t)

	p := f.conn.Connect()
	req := f.expectRequest(transport.KindConnect)

	f.tr.emit(transport.Event{
		Type:        transport.EventTypeResult,
		OperationID: req.ID,
		Err:         errors.New("le connection failed to establish"),
	})

	err := f.waitErr(p)
	require.Contains(t, err.Error(), "le connection failed")

	// The failed attempt must land back in disconnected so a retry is
	// admissible.
	f.connect()
}

func TestOperationsRejectedWhileDisconnected(t *testing.T) {
	f := newFixture(t)

	err := f.waitErr(f.conn.Read(testChar))
	require.True(t, multierr.Is(err, client.ErrDisconnected))
}

func TestSingleRequestInFlight(t *testing.T) {
	defer test.Timeout(t, 10*time.Second)()

	f := newFixture(t)
	f.connect()

	readP := f.conn.Read(testChar)
	readReq := f.expectRequest(transport.KindRead)

	writeP := f.conn.Write(testChar, []byte{1, 2})
	f.expectNoRequest()

	f.tr.emit(transport.Event{
		Type:        transport.EventTypeResult,
		OperationID: readReq.ID,
		Value:       []byte{7},
	})

	require.Equal(t, []byte{7}, f.wait(readP))

	writeReq := f.expectRequest(transport.KindWrite)
	require.Equal(t, []byte{1, 2}, writeReq.Value)

	f.tr.succeed(writeReq)
	f.wait(writeP)
}

func TestDisconnectRunsBeforeQueuedWork(t *testing.T) {
	f := newFixture(t)
	f.connect()

	readP := f.conn.Read(testChar)
	readReq := f.expectRequest(transport.KindRead)

	writeP := f.conn.Write(testChar, []byte{1})
	discP := f.conn.Disconnect()

	// The in-flight read is never aborted by the disconnect.
	f.tr.emit(transport.Event{
		Type:        transport.EventTypeResult,
		OperationID: readReq.ID,
		Value:       []byte{9},
	})
	require.Equal(t, []byte{9}, f.wait(readP))

	// The disconnect preempts the queued write.
	f.expectRequest(transport.KindDisconnect)
	f.tr.emit(transport.Event{Type: transport.EventTypeDisconnected})

	f.wait(discP)

	err := f.waitErr(writeP)
	require.True(t, multierr.Is(err, client.ErrDisconnected))
}

func TestDisconnectWhileDisconnected(t *testing.T) {
	f := newFixture(t)

	f.wait(f.conn.Disconnect())
	f.expectNoRequest()
}

func TestCancelQueued(t *testing.T) {
	f := newFixture(t)
	f.connect()

	readP := f.conn.Read(testChar)
	readReq := f.expectRequest(transport.KindRead)

	writeP := f.conn.Write(testChar, []byte{1})

	require.True(t, f.conn.Cancel(writeP))
	require.False(t, f.conn.Cancel(writeP))

	err := f.waitErr(writeP)
	require.True(t, multierr.Is(err, client.ErrCancelled))

	f.tr.succeed(readReq)
	f.wait(readP)

	// The cancelled write never reaches the transport.
	f.expectNoRequest()
}

func TestCancelInFlightHoldsSlot(t *testing.T) {
	f := newFixture(t)
	f.connect()

	readP := f.conn.Read(testChar)
	readReq := f.expectRequest(transport.KindRead)

	require.True(t, f.conn.Cancel(readP))

	err := f.waitErr(readP)
	require.True(t, multierr.Is(err, client.ErrCancelled))

	// The transport has not confirmed yet, so the slot stays occupied.
	writeP := f.conn.Write(testChar, []byte{1})
	f.expectNoRequest()

	// The late callback frees the slot without resolving anything twice.
	f.tr.succeed(readReq)

	writeReq := f.expectRequest(transport.KindWrite)
	f.tr.succeed(writeReq)
	f.wait(writeP)
}

func TestTimeoutThenLateCallbackDropped(t *testing.T) {
	f := newFixture(t)
	f.connect()

	readP := f.conn.Read(testChar)
	readReq := f.expectRequest(transport.KindRead)

	f.clk.Add(30 * time.Second)

	err := f.waitErr(readP)
	require.True(t, multierr.Is(err, client.ErrTimeout))

	// The late result for the timed-out operation must not leak into any
	// other operation.
	f.tr.emit(transport.Event{
		Type:        transport.EventTypeResult,
		OperationID: readReq.ID,
		Value:       []byte{9},
	})

	read2P := f.conn.Read(testChar)
	read2Req := f.expectRequest(transport.KindRead)

	f.tr.emit(transport.Event{
		Type:        transport.EventTypeResult,
		OperationID: read2Req.ID,
		Value:       []byte{42},
	})

	require.Equal(t, []byte{42}, f.wait(read2P))
}

func TestConnectTimeoutReturnsToDisconnected(t *testing.T) {
	f := newFixture(t)

	stateCh, stop := f.conn.ObserveConnectionState()
	defer stop()

	require.Equal(t, client.StateDisconnected, recvState(t, stateCh))

	p := f.conn.Connect()
	f.expectRequest(transport.KindConnect)
	require.Equal(t, client.StateConnecting, recvState(t, stateCh))

	f.clk.Add(35 * time.Second)

	err := f.waitErr(p)
	require.True(t, multierr.Is(err, client.ErrTimeout))
	require.Equal(t, client.StateDisconnected, recvState(t, stateCh))
}

func TestUnsolicitedDisconnectFlushesQueue(t *testing.T) {
	f := newFixture(t)
	f.connect()

	readP := f.conn.Read(testChar)
	f.expectRequest(transport.KindRead)

	writeP := f.conn.Write(testChar, []byte{1})

	f.tr.emit(transport.Event{Type: transport.EventTypeDisconnected})

	require.True(t, multierr.Is(f.waitErr(readP), client.ErrDisconnected))
	require.True(t, multierr.Is(f.waitErr(writeP), client.ErrDisconnected))

	// A duplicate disconnect signal is a no-op.
	f.tr.emit(transport.Event{Type: transport.EventTypeDisconnected})

	err := f.waitErr(f.conn.Read(testChar))
	require.True(t, multierr.Is(err, client.ErrDisconnected))
}

func subscribe(t *testing.T, f *fixture) *client.Subscription {
	t.Helper()

	type subResult struct {
		sub *client.Subscription
		err error
	}

	resultCh := make(chan subResult, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		sub, err := f.conn.SubscribeNotifications(ctx, testChar)
		resultCh <- subResult{sub, err}
	}()

	enableReq := f.expectRequest(transport.KindNotifyEnable)
	f.tr.succeed(enableReq)

	result := <-resultCh
	require.NoError(t, result.err)
	require.Equal(t, testChar, result.sub.Characteristic())

	return result.sub
}

func TestSubscribeNotifications(t *testing.T) {
	f := newFixture(t)
	f.connect()

	sub := subscribe(t, f)

	f.tr.emit(transport.Event{
		Type:           transport.EventTypeNotification,
		Characteristic: testChar,
		Value:          []byte{1},
	})
	f.tr.emit(transport.Event{
		Type:           transport.EventTypeNotification,
		Characteristic: testChar,
		Value:          []byte{2},
	})

	value, ok := recvValue(t, sub.Values())
	require.True(t, ok)
	require.Equal(t, []byte{1}, value)

	value, ok = recvValue(t, sub.Values())
	require.True(t, ok)
	require.Equal(t, []byte{2}, value)

	errCh := make(chan error, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		errCh <- sub.Unsubscribe(ctx)
	}()

	disableReq := f.expectRequest(transport.KindNotifyDisable)
	f.tr.succeed(disableReq)

	require.NoError(t, <-errCh)

	_, ok = recvValue(t, sub.Values())
	require.False(t, ok)
}

func TestSubscriptionCompletesOnDisconnect(t *testing.T) {
	f := newFixture(t)
	f.connect()

	sub := subscribe(t, f)

	f.tr.emit(transport.Event{Type: transport.EventTypeDisconnected})

	// The stream completes without error.
	_, ok := recvValue(t, sub.Values())
	require.False(t, ok)

	// Unsubscribing an already-completed subscription is a no-op.
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	require.NoError(t, sub.Unsubscribe(ctx))
}

func TestRequestMTU(t *testing.T) {
	f := newFixture(t)
	f.connect()

	require.Equal(t, 23, f.conn.MTU())

	p := f.conn.RequestMTU(185)

	req := f.expectRequest(transport.KindRequestMTU)
	require.Equal(t, 185, req.MTU)

	f.tr.emit(transport.Event{
		Type:        transport.EventTypeResult,
		OperationID: req.ID,
		MTU:         185,
	})

	require.Equal(t, 185, f.wait(p))
	require.Equal(t, 185, f.conn.MTU())
}

func TestReadRSSI(t *testing.T) {
	f := newFixture(t)
	f.connect()

	p := f.conn.ReadRSSI()
	req := f.expectRequest(transport.KindReadRSSI)

	f.tr.emit(transport.Event{
		Type:        transport.EventTypeResult,
		OperationID: req.ID,
		RSSI:        -42,
	})

	require.Equal(t, -42, f.wait(p))
}

func TestWriteNoResponse(t *testing.T) {
	f := newFixture(t)
	f.connect()

	p := f.conn.WriteNoResponse(testChar, []byte{3, 4})

	req := f.expectRequest(transport.KindWriteNoResponse)
	require.Equal(t, []byte{3, 4}, req.Value)

	f.tr.succeed(req)
	f.wait(p)
}

func TestRequestConnectionPriority(t *testing.T) {
	f := newFixture(t)
	f.connect()

	p := f.conn.RequestConnectionPriority(transport.ConnectionPriorityHigh)

	req := f.expectRequest(transport.KindConnectionPriority)
	require.Equal(t, transport.ConnectionPriorityHigh, req.Priority)

	f.tr.succeed(req)
	f.wait(p)
}

func TestResultErrorFailsOperationOnly(t *testing.T) {
	f := newFixture(t)
	f.connect()

	readP := f.conn.Read(testChar)
	readReq := f.expectRequest(transport.KindRead)

	f.tr.emit(transport.Event{
		Type:        transport.EventTypeResult,
		OperationID: readReq.ID,
		Err:         errors.New("gatt read not permitted"),
	})

	err := f.waitErr(readP)
	require.Contains(t, err.Error(), "not permitted")

	// The connection survives a failed operation.
	writeP := f.conn.Write(testChar, []byte{1})
	writeReq := f.expectRequest(transport.KindWrite)
	f.tr.succeed(writeReq)
	f.wait(writeP)
}

func TestExecuteErrorRejectsOperation(t *testing.T) {
	f := newFixture(t)
	f.connect()

	f.tr.setExecErr(func(req transport.Request) error {
		if req.Kind == transport.KindRead {
			return errors.New("driver gone")
		}

		return nil
	})

	err := f.waitErr(f.conn.Read(testChar))
	require.True(t, multierr.Is(err, client.ErrTransportRejected))

	// The slot is free again for the next operation.
	writeP := f.conn.Write(testChar, []byte{1})
	writeReq := f.expectRequest(transport.KindWrite)
	f.tr.succeed(writeReq)
	f.wait(writeP)
}

func TestCloseResolvesOutstandingWork(t *testing.T) {
	f := newFixture(t)
	f.connect()

	readP := f.conn.Read(testChar)
	f.expectRequest(transport.KindRead)

	require.NoError(t, f.conn.Close())

	err := f.waitErr(readP)
	require.True(t, multierr.Is(err, client.ErrDisconnected))

	err = f.waitErr(f.conn.Read(testChar))
	require.True(t, multierr.Is(err, client.ErrClosed))

	require.False(t, f.conn.Cancel(readP))

	stateCh, stop := f.conn.ObserveConnectionState()
	defer stop()

	_, ok := <-stateCh
	require.False(t, ok)
}
