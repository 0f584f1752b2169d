package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// LinkCondition represents the specific kind of link-level failure
type LinkCondition string

const (
	NotConnected      LinkCondition = "not_connected"
	AlreadyConnected  LinkCondition = "already_connected"
	AlreadyConnecting LinkCondition = "already_connecting"
	BluetoothOff      LinkCondition = "bluetooth_off"
)

// LinkError represents any link-related problem
type LinkError struct {
	Condition LinkCondition
	Msg       string
}

// Error implements the error interface
func (e *LinkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Condition)
	}
	return fmt.Sprintf("%s: %s", e.Condition, e.Msg)
}

// Is allows errors.Is to compare LinkError values by Condition
func (e *LinkError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*LinkError)
	if !ok {
		return false
	}
	return e.Condition == t.Condition
}

// Predefined sentinel errors for link conditions
var (
	ErrNotConnected      = &LinkError{Condition: NotConnected}
	ErrAlreadyConnected  = &LinkError{Condition: AlreadyConnected}
	ErrAlreadyConnecting = &LinkError{Condition: AlreadyConnecting}
	ErrBluetoothOff      = &LinkError{Condition: BluetoothOff}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
	ErrNoServices  = errors.New("no services discovered")
)

// Stage names the step of the session where a stack error happened.
type Stage string

const (
	StageScan                    Stage = "scan"
	StageServiceDiscovery        Stage = "service discovery"
	StageCharacteristicDiscovery Stage = "characteristic discovery"
	StageRead                    Stage = "read"
	StageNotification            Stage = "notification"
	StageDisconnection           Stage = "disconnection"
)

// StageError wraps a stack error with the stage it was reported from.
type StageError struct {
	Stage   Stage
	Address string
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Stage))
	b.WriteString(" failed")
	if e.Address != "" {
		b.WriteString(" for ")
		b.WriteString(e.Address)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches any StageError of the same Stage, so the sentinels below work with errors.Is.
func (e *StageError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return e.Stage == t.Stage
}

// Stage sentinels
var (
	ErrScan                    = &StageError{Stage: StageScan}
	ErrServiceDiscovery        = &StageError{Stage: StageServiceDiscovery}
	ErrCharacteristicDiscovery = &StageError{Stage: StageCharacteristicDiscovery}
	ErrRead                    = &StageError{Stage: StageRead}
	ErrNotification            = &StageError{Stage: StageNotification}
	ErrDisconnection           = &StageError{Stage: StageDisconnection}
)

// NewStageError tags err with stage. A nil err stays nil.
func NewStageError(stage Stage, address string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Address: address, Err: err}
}

// LateEventError reports a stack result that arrived after the connect attempt
// had already timed out. Err is the original stack error, nil for a late success.
type LateEventError struct {
	Stage   Stage
	Address string
	Err     error
}

func (e *LateEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s result for %s arrived after timeout: %v", e.Stage, e.Address, e.Err)
	}
	return fmt.Sprintf("%s result for %s arrived after timeout", e.Stage, e.Address)
}

// Unwrap exposes both the timeout and the original error to errors.Is.
func (e *LateEventError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTimeout}
	}
	return []error{ErrTimeout, e.Err}
}

// IsLinkCondition reports whether err is a LinkError with the given condition
func IsLinkCondition(err error, condition LinkCondition) bool {
	var lerr *LinkError
	if errors.As(err, &lerr) {
		return lerr.Condition == condition
	}
	return false
}
