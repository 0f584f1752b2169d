package main

import (
	"errors"
	"fmt"

	"github.com/srg/breathble/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while monitoring.
	// This is distinct from device.ErrNotConnected, which is the stack's reason
	// for the drop.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error into a message for the terminal.
// Unknown errors are printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var notFound *device.NotFoundError
	var late *device.LateEventError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or not available; enable it and check permissions"
	case errors.As(err, &late):
		return fmt.Sprintf("device %s answered after the connect timeout; the link was dropped", late.Address)
	case errors.Is(err, device.ErrTimeout):
		return "timed out connecting to the device; make sure it is powered on and in range"
	case errors.Is(err, device.ErrAlreadyConnecting):
		return "a connection attempt is already in progress"
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("connection to the device was lost (%v)", err)
	case errors.As(err, &notFound):
		return fmt.Sprintf("%s; check the --service flag", notFound.Error())
	case errors.Is(err, device.ErrNoServices):
		return "the device exposes no GATT services"
	case errors.Is(err, device.ErrUnsupported):
		return "this operation is not supported on this platform"
	default:
		return err.Error()
	}
}
