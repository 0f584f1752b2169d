package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/breathble/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{
			"bluetooth off",
			device.NewStageError(device.StageScan, "", fmt.Errorf("can't init hci: %w", device.ErrBluetoothOff)),
			"Bluetooth is turned off or not available; enable it and check permissions",
		},
		{
			"late result",
			&device.LateEventError{Stage: device.StageServiceDiscovery, Address: "AA:BB:CC:DD:EE:FF"},
			"device AA:BB:CC:DD:EE:FF answered after the connect timeout; the link was dropped",
		},
		{
			"timeout",
			fmt.Errorf("%w after 5s", device.ErrTimeout),
			"timed out connecting to the device; make sure it is powered on and in range",
		},
		{"already connecting", device.ErrAlreadyConnecting, "a connection attempt is already in progress"},
		{
			"connection lost",
			fmt.Errorf("%w: %w", ErrConnectionLost, device.ErrNotConnected),
			"connection to the device was lost (connection lost: not_connected)",
		},
		{
			"service not found",
			&device.NotFoundError{Resource: "service", UUIDs: []string{"180F"}},
			`service "180F" not found; check the --service flag`,
		},
		{
			"no services",
			device.NewStageError(device.StageServiceDiscovery, "AA:BB:CC:DD:EE:FF", device.ErrNoServices),
			"the device exposes no GATT services",
		},
		{"unsupported", device.ErrUnsupported, "this operation is not supported on this platform"},
		{"unknown", errors.New("att: invalid handle"), "att: invalid handle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}
