package client

import "fmt"

// ConnectionState is the lifecycle state of a single logical connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("connection_state(%d)", int(s))
	}
}

// stateMachine validates connection state transitions. Owned by the Conn
// event loop.
//
// Legal transitions:
//
//	disconnected  -> connecting            connect admitted
//	connecting    -> connected             transport connected signal
//	connecting    -> disconnected          transport failure or timeout
//	connected     -> disconnecting         disconnect admitted or fatal error
//	connected     -> disconnected          unsolicited link loss
//	disconnecting -> disconnected          transport disconnected signal
type stateMachine struct {
	state ConnectionState
}

func (m *stateMachine) current() ConnectionState {
	return m.state
}

// to performs the transition when it is legal and returns true, including
// when next equals the current state (in which case nothing changes and it
// returns false so callers can skip duplicate notifications).
func (m *stateMachine) to(next ConnectionState) bool {
	if next == m.state {
		return false
	}

	if !legalTransition(m.state, next) {
		return false
	}

	m.state = next

	return true
}

func legalTransition(from, to ConnectionState) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateDisconnected
	case StateConnected:
		return to == StateDisconnecting || to == StateDisconnected
	case StateDisconnecting:
		return to == StateDisconnected
	default:
		return false
	}
}
