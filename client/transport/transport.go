package transport

import (
	"fmt"

	"github.com/bleq/bleq/client/identifiers"
)

// Kind identifies the transport-level action an operation performs.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindDisconnect
	KindRead
	KindWrite
	KindWriteNoResponse
	KindNotifyEnable
	KindNotifyDisable
	KindRequestMTU
	KindReadRSSI
	KindConnectionPriority
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindWriteNoResponse:
		return "write_no_response"
	case KindNotifyEnable:
		return "notify_enable"
	case KindNotifyDisable:
		return "notify_disable"
	case KindRequestMTU:
		return "request_mtu"
	case KindReadRSSI:
		return "read_rssi"
	case KindConnectionPriority:
		return "connection_priority"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ConnectionPriority requests a connection parameter profile from the
// transport.
type ConnectionPriority int

const (
	ConnectionPriorityBalanced ConnectionPriority = iota
	ConnectionPriorityHigh
	ConnectionPriorityLowPower
)

func (p ConnectionPriority) String() string {
	switch p {
	case ConnectionPriorityBalanced:
		return "balanced"
	case ConnectionPriorityHigh:
		return "high"
	case ConnectionPriorityLowPower:
		return "low_power"
	default:
		return fmt.Sprintf("connection_priority(%d)", int(p))
	}
}

// Request describes a single action for the transport to execute. Exactly
// one request is outstanding at a time; the scheduler guarantees it.
type Request struct {
	ID             identifiers.OperationID
	Kind           Kind
	Device         identifiers.DeviceID
	Characteristic identifiers.CharacteristicID
	Value          []byte
	MTU            int
	Priority       ConnectionPriority
}

// EventType discriminates transport events.
type EventType int

const (
	// EventTypeResult carries the outcome of an executed request, matched
	// by operation id. Err is nil on success.
	EventTypeResult EventType = iota + 1

	// EventTypeNotification carries an unsolicited characteristic value
	// change. It is not tied to any operation id.
	EventTypeNotification

	// EventTypeConnected signals that the link to the device came up.
	EventTypeConnected

	// EventTypeDisconnected signals that the link went down, whether
	// requested or not.
	EventTypeDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventTypeResult:
		return "result"
	case EventTypeNotification:
		return "notification"
	case EventTypeConnected:
		return "connected"
	case EventTypeDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event_type(%d)", int(t))
	}
}

// Event is an asynchronous callback from the transport. Events for a given
// operation id arrive at most once, possibly never when the transport is
// torn down.
type Event struct {
	Type           EventType
	OperationID    identifiers.OperationID
	Characteristic identifiers.CharacteristicID
	Value          []byte
	MTU            int
	RSSI           int
	Err            error
}

// Transport is the driver boundary: a native stack that executes one
// request at a time and reports outcomes asynchronously on Events.
//
// Execute must not block on the radio; it only hands the request to the
// native layer and returns an error when the request cannot be issued at
// all. Events must be closed by Close.
type Transport interface {
	Execute(req Request) error
	Events() <-chan Event
	Close() error
}
