//go:build linux
// +build linux

// Package bluez implements the transport boundary against the BlueZ daemon
// over the system D-Bus. Requests map to org.bluez.Device1 and
// org.bluez.GattCharacteristic1 method calls; notifications and link loss
// arrive as PropertiesChanged signals.
package bluez

import (
	"strings"
	"sync"

	"github.com/bleq/bleq/client/identifiers"
	"github.com/bleq/bleq/client/logger"
	"github.com/bleq/bleq/client/transport"
	"github.com/godbus/dbus/v5"
	"github.com/juju/errors"
)

const (
	bluezService    = "org.bluez"
	deviceIface     = "org.bluez.Device1"
	charIface       = "org.bluez.GattCharacteristic1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	defaultAdapter = "hci0"

	eventsChanSize = 64
	signalChanSize = 64
)

type Params struct {
	Log logger.Logger

	// Adapter is the local controller name, hci0 when empty.
	Adapter string
}

// Transport is a transport.Transport backed by BlueZ.
type Transport struct {
	params Params
	log    logger.Logger
	bus    *dbus.Conn

	eventsCh  chan transport.Event
	signalCh  chan *dbus.Signal
	closedCh  chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	mu         sync.Mutex
	devicePath dbus.ObjectPath
	charPaths  map[identifiers.CharacteristicID]dbus.ObjectPath
	charIDs    map[dbus.ObjectPath]identifiers.CharacteristicID
}

var _ transport.Transport = &Transport{}

// New connects to the system bus and subscribes to BlueZ property changes.
func New(params Params) (*Transport, error) {
	if params.Log == nil {
		params.Log = logger.New()
	}

	if params.Adapter == "" {
		params.Adapter = defaultAdapter
	}

	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Annotate(err, "connect system bus")
	}

	if err := bus.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		_ = bus.Close()

		return nil, errors.Annotate(err, "add match signal")
	}

	t := &Transport{
		params:    params,
		log:       params.Log.WithNamespaceAppended("bluez"),
		bus:       bus,
		eventsCh:  make(chan transport.Event, eventsChanSize),
		signalCh:  make(chan *dbus.Signal, signalChanSize),
		closedCh:  make(chan struct{}),
		charPaths: map[identifiers.CharacteristicID]dbus.ObjectPath{},
		charIDs:   map[dbus.ObjectPath]identifiers.CharacteristicID{},
	}

	bus.Signal(t.signalCh)

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		t.signalLoop()
	}()

	return t, nil
}

// Execute implements transport.Transport. The D-Bus call runs in its own
// goroutine and its outcome is posted to Events; at most one request is in
// flight at a time by contract.
func (t *Transport) Execute(req transport.Request) error {
	if req.Kind == transport.KindConnectionPriority {
		return errors.New("bluez does not expose connection priority")
	}

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		t.execute(req)
	}()

	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event {
	return t.eventsCh
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closedCh)

		_ = t.bus.RemoveMatchSignal(
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
		)
		t.bus.RemoveSignal(t.signalCh)

		err := t.bus.Close()

		t.wg.Wait()
		close(t.eventsCh)

		t.closeErr = errors.Trace(err)
	})

	return t.closeErr
}

func (t *Transport) execute(req transport.Request) {
	var (
		value []byte
		mtu   int
		rssi  int
		err   error
	)

	switch req.Kind {
	case transport.KindConnect:
		err = t.connect(req.Device)
		if err == nil {
			t.emit(transport.Event{Type: transport.EventTypeConnected, OperationID: req.ID})

			return
		}
	case transport.KindDisconnect:
		err = t.disconnect()
		if err == nil {
			t.emit(transport.Event{Type: transport.EventTypeDisconnected, OperationID: req.ID})

			return
		}
	case transport.KindRead:
		value, err = t.readValue(req.Characteristic)
	case transport.KindWrite:
		err = t.writeValue(req.Characteristic, req.Value, "request")
	case transport.KindWriteNoResponse:
		err = t.writeValue(req.Characteristic, req.Value, "command")
	case transport.KindNotifyEnable:
		err = t.callCharacteristic(req.Characteristic, charIface+".StartNotify")
	case transport.KindNotifyDisable:
		err = t.callCharacteristic(req.Characteristic, charIface+".StopNotify")
	case transport.KindRequestMTU:
		mtu, err = t.readMTU(req.Characteristic)
	case transport.KindReadRSSI:
		rssi, err = t.readRSSI()
	default:
		err = errors.Errorf("unsupported request kind: %s", req.Kind)
	}

	t.emit(transport.Event{
		Type:           transport.EventTypeResult,
		OperationID:    req.ID,
		Characteristic: req.Characteristic,
		Value:          value,
		MTU:            mtu,
		RSSI:           rssi,
		Err:            errors.Trace(err),
	})
}

func (t *Transport) connect(device identifiers.DeviceID) error {
	path := devicePath(t.params.Adapter, device)

	call := t.bus.Object(bluezService, path).Call(deviceIface+".Connect", 0)
	if call.Err != nil {
		return errors.Annotatef(call.Err, "connect device: %s", device)
	}

	chars, err := t.discoverCharacteristics(path)
	if err != nil {
		return errors.Trace(err)
	}

	t.mu.Lock()
	t.devicePath = path
	t.charPaths = chars
	t.charIDs = make(map[dbus.ObjectPath]identifiers.CharacteristicID, len(chars))

	for id, p := range chars {
		t.charIDs[p] = id
	}
	t.mu.Unlock()

	t.log.Info("Connected", logger.Ctx{
		"device_id":       device,
		"characteristics": len(chars),
	})

	return nil
}

func (t *Transport) disconnect() error {
	t.mu.Lock()
	path := t.devicePath
	t.mu.Unlock()

	if path == "" {
		return nil
	}

	call := t.bus.Object(bluezService, path).Call(deviceIface+".Disconnect", 0)

	return errors.Annotate(call.Err, "disconnect device")
}

func (t *Transport) readValue(char identifiers.CharacteristicID) ([]byte, error) {
	path, err := t.characteristicPath(char)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var value []byte

	call := t.bus.Object(bluezService, path).Call(
		charIface+".ReadValue", 0, map[string]dbus.Variant{},
	)
	if call.Err != nil {
		return nil, errors.Annotatef(call.Err, "read characteristic: %s", char)
	}

	if err := call.Store(&value); err != nil {
		return nil, errors.Annotate(err, "decode read value")
	}

	return value, nil
}

func (t *Transport) writeValue(char identifiers.CharacteristicID, value []byte, writeType string) error {
	path, err := t.characteristicPath(char)
	if err != nil {
		return errors.Trace(err)
	}

	call := t.bus.Object(bluezService, path).Call(
		charIface+".WriteValue", 0, value, map[string]dbus.Variant{
			"type": dbus.MakeVariant(writeType),
		},
	)

	return errors.Annotatef(call.Err, "write characteristic: %s", char)
}

func (t *Transport) callCharacteristic(char identifiers.CharacteristicID, method string) error {
	path, err := t.characteristicPath(char)
	if err != nil {
		return errors.Trace(err)
	}

	call := t.bus.Object(bluezService, path).Call(method, 0)

	return errors.Annotatef(call.Err, "%s: %s", method, char)
}

func (t *Transport) readMTU(char identifiers.CharacteristicID) (int, error) {
	path, err := t.characteristicPath(char)
	if err != nil {
		return 0, errors.Trace(err)
	}

	variant, err := t.bus.Object(bluezService, path).GetProperty(charIface + ".MTU")
	if err != nil {
		return 0, errors.Annotate(err, "get characteristic MTU")
	}

	mtu, ok := variant.Value().(uint16)
	if !ok {
		return 0, errors.Errorf("unexpected MTU property type: %T", variant.Value())
	}

	return int(mtu), nil
}

func (t *Transport) readRSSI() (int, error) {
	t.mu.Lock()
	path := t.devicePath
	t.mu.Unlock()

	if path == "" {
		return 0, errors.New("no connected device")
	}

	variant, err := t.bus.Object(bluezService, path).GetProperty(deviceIface + ".RSSI")
	if err != nil {
		return 0, errors.Annotate(err, "get device RSSI")
	}

	rssi, ok := variant.Value().(int16)
	if !ok {
		return 0, errors.Errorf("unexpected RSSI property type: %T", variant.Value())
	}

	return int(rssi), nil
}

// discoverCharacteristics walks the BlueZ object tree and indexes the
// characteristics below the device path by UUID.
func (t *Transport) discoverCharacteristics(
	device dbus.ObjectPath,
) (map[identifiers.CharacteristicID]dbus.ObjectPath, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant

	call := t.bus.Object(bluezService, dbus.ObjectPath("/")).Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, errors.Annotate(call.Err, "get managed objects")
	}

	if err := call.Store(&objs); err != nil {
		return nil, errors.Annotate(err, "decode managed objects")
	}

	chars := map[identifiers.CharacteristicID]dbus.ObjectPath{}

	for path, ifaces := range objs {
		if !strings.HasPrefix(string(path), string(device)+"/") {
			continue
		}

		props, ok := ifaces[charIface]
		if !ok {
			continue
		}

		uuid, ok := props["UUID"].Value().(string)
		if !ok {
			continue
		}

		chars[identifiers.CharacteristicID(strings.ToLower(uuid))] = path
	}

	return chars, nil
}

func (t *Transport) characteristicPath(char identifiers.CharacteristicID) (dbus.ObjectPath, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path, ok := t.charPaths[identifiers.CharacteristicID(strings.ToLower(char.String()))]
	if !ok {
		return "", errors.Errorf("unknown characteristic: %s", char)
	}

	return path, nil
}

func (t *Transport) signalLoop() {
	for sig := range t.signalCh {
		if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
			continue
		}

		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)

		switch iface {
		case charIface:
			t.handleCharacteristicChanged(sig.Path, changed)
		case deviceIface:
			t.handleDeviceChanged(sig.Path, changed)
		}
	}
}

func (t *Transport) handleCharacteristicChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	variant, ok := changed["Value"]
	if !ok {
		return
	}

	value, ok := variant.Value().([]byte)
	if !ok {
		return
	}

	t.mu.Lock()
	char, ok := t.charIDs[path]
	t.mu.Unlock()

	if !ok {
		return
	}

	t.emit(transport.Event{
		Type:           transport.EventTypeNotification,
		Characteristic: char,
		Value:          value,
	})
}

func (t *Transport) handleDeviceChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	t.mu.Lock()
	device := t.devicePath
	t.mu.Unlock()

	if path != device {
		return
	}

	variant, ok := changed["Connected"]
	if !ok {
		return
	}

	if connected, ok := variant.Value().(bool); ok && !connected {
		t.log.Info("Link lost", logger.Ctx{"device_path": path})
		t.emit(transport.Event{Type: transport.EventTypeDisconnected})
	}
}

func (t *Transport) emit(ev transport.Event) {
	select {
	case t.eventsCh <- ev:
	case <-t.closedCh:
	}
}

// devicePath maps a MAC address to the BlueZ object path, e.g.
// AA:BB:CC:DD:EE:FF to /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func devicePath(adapter string, device identifiers.DeviceID) dbus.ObjectPath {
	mac := strings.ToUpper(strings.ReplaceAll(device.String(), ":", "_"))

	return dbus.ObjectPath("/org/bluez/" + adapter + "/dev_" + mac)
}
