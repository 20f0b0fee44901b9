package wsbridge

import (
	"encoding/json"

	"github.com/bleq/bleq/client/identifiers"
	"github.com/bleq/bleq/client/transport"
	"github.com/juju/errors"
)

// MessageType discriminates bridge protocol messages.
type MessageType string

const (
	// MessageTypeExecute is sent to the gateway to run a request.
	MessageTypeExecute MessageType = "execute"

	// Messages below are received from the gateway.
	MessageTypeResult       MessageType = "result"
	MessageTypeNotification MessageType = "notification"
	MessageTypeConnected    MessageType = "connected"
	MessageTypeDisconnected MessageType = "disconnected"
)

// Message is the wire container exchanged with a BLE gateway daemon. Value
// is base64-encoded by encoding/json.
type Message struct {
	Type           MessageType `json:"type"`
	OperationID    string      `json:"operationId,omitempty"`
	Kind           string      `json:"kind,omitempty"`
	Device         string      `json:"device,omitempty"`
	Characteristic string      `json:"characteristic,omitempty"`
	Value          []byte      `json:"value,omitempty"`
	MTU            int         `json:"mtu,omitempty"`
	RSSI           int         `json:"rssi,omitempty"`
	Priority       string      `json:"priority,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// NewMessageFromRequest converts a transport request into its wire form.
func NewMessageFromRequest(req transport.Request) Message {
	return Message{
		Type:           MessageTypeExecute,
		OperationID:    req.ID.String(),
		Kind:           req.Kind.String(),
		Device:         req.Device.String(),
		Characteristic: req.Characteristic.String(),
		Value:          req.Value,
		MTU:            req.MTU,
		Priority:       req.Priority.String(),
	}
}

// Event converts a received message into a transport event. The second
// return value is false for message types that do not map to an event.
func (m Message) Event() (transport.Event, bool) {
	ev := transport.Event{
		OperationID:    identifiers.OperationID(m.OperationID),
		Characteristic: identifiers.CharacteristicID(m.Characteristic),
		Value:          m.Value,
		MTU:            m.MTU,
		RSSI:           m.RSSI,
	}

	if m.Error != "" {
		ev.Err = errors.New(m.Error)
	}

	switch m.Type {
	case MessageTypeResult:
		ev.Type = transport.EventTypeResult
	case MessageTypeNotification:
		ev.Type = transport.EventTypeNotification
	case MessageTypeConnected:
		ev.Type = transport.EventTypeConnected
	case MessageTypeDisconnected:
		ev.Type = transport.EventTypeDisconnected
	default:
		return transport.Event{}, false
	}

	return ev, true
}

// ByteSerializer encodes Messages as JSON.
type ByteSerializer struct{}

func (s ByteSerializer) Serialize(m Message) ([]byte, error) {
	b, err := json.Marshal(m)

	return b, errors.Annotate(err, "serialize")
}

func (s ByteSerializer) Deserialize(data []byte) (msg Message, err error) {
	err = json.Unmarshal(data, &msg)

	return msg, errors.Annotate(err, "deserialize")
}
