package device

import (
	"fmt"
	"time"
)

// ConnectionState is a lifecycle transition emitted by the session.
//
// The set of variants is closed: Connecting, Connected, Disconnected,
// ConnectFailed and TimedOut. Consumers switch on the concrete type.
type ConnectionState interface {
	fmt.Stringer
	connectionState()
}

// Connecting is emitted when a connect attempt starts.
type Connecting struct {
	Peripheral Peripheral
	Timeout    time.Duration
}

// Connected is emitted once services are discovered on the peripheral.
type Connected struct {
	Peripheral Peripheral
}

// Disconnected is emitted on every disconnection notice from the stack.
type Disconnected struct {
	Address string
	Reason  error
}

// ConnectFailed is emitted for any stack error during the session.
type ConnectFailed struct {
	Peripheral Peripheral
	Err        error
}

// TimedOut is emitted when no discovery result arrived within the connect timeout.
type TimedOut struct {
	Peripheral Peripheral
	After      time.Duration
}

func (Connecting) connectionState()    {}
func (Connected) connectionState()     {}
func (Disconnected) connectionState()  {}
func (ConnectFailed) connectionState() {}
func (TimedOut) connectionState()      {}

func (s Connecting) String() string {
	return fmt.Sprintf("connecting to %s (timeout %s)", addressOf(s.Peripheral), s.Timeout)
}

func (s Connected) String() string {
	return fmt.Sprintf("connected to %s", addressOf(s.Peripheral))
}

func (s Disconnected) String() string {
	if s.Reason == nil {
		return fmt.Sprintf("disconnected from %s", s.Address)
	}
	return fmt.Sprintf("disconnected from %s: %v", s.Address, s.Reason)
}

func (s ConnectFailed) String() string {
	return fmt.Sprintf("connection to %s failed: %v", addressOf(s.Peripheral), s.Err)
}

func (s TimedOut) String() string {
	return fmt.Sprintf("connection to %s timed out after %s", addressOf(s.Peripheral), s.After)
}

// IsTerminal reports whether the state ends a connect attempt.
func IsTerminal(s ConnectionState) bool {
	switch s.(type) {
	case Disconnected, ConnectFailed, TimedOut:
		return true
	default:
		return false
	}
}

func addressOf(p Peripheral) string {
	if p == nil {
		return "<unknown>"
	}
	return p.Address()
}
