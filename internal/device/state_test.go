package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStateStrings(t *testing.T) {
	p := NewPeripheral("AA:BB:CC:DD:EE:FF", "Breath", -60)

	tests := []struct {
		name     string
		state    ConnectionState
		expected string
		terminal bool
	}{
		{"connecting", Connecting{Peripheral: p, Timeout: 10 * time.Second}, "connecting to AA:BB:CC:DD:EE:FF (timeout 10s)", false},
		{"connected", Connected{Peripheral: p}, "connected to AA:BB:CC:DD:EE:FF", false},
		{"disconnected by caller", Disconnected{Address: p.Address()}, "disconnected from AA:BB:CC:DD:EE:FF", true},
		{"disconnected with reason", Disconnected{Address: p.Address(), Reason: errors.New("supervision timeout")}, "disconnected from AA:BB:CC:DD:EE:FF: supervision timeout", true},
		{"connect failed", ConnectFailed{Peripheral: p, Err: ErrNoServices}, "connection to AA:BB:CC:DD:EE:FF failed: no services discovered", true},
		{"timed out", TimedOut{Peripheral: p, After: 5 * time.Second}, "connection to AA:BB:CC:DD:EE:FF timed out after 5s", true},
		{"unknown peripheral", Connected{}, "connected to <unknown>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
			assert.Equal(t, tt.terminal, IsTerminal(tt.state))
		})
	}
}

func TestNewPeripheral(t *testing.T) {
	named := NewPeripheral("AA:BB", "Breath", -42)
	assert.Equal(t, "AA:BB", named.Address())
	assert.Equal(t, "Breath", named.Name())
	assert.Equal(t, -42, named.RSSI())

	unnamed := NewPeripheral("AA:BB", "", 0)
	assert.Equal(t, "AA:BB", unnamed.Name(), "name MUST fall back to address")
}

func TestSubscriptionFunc(t *testing.T) {
	calls := 0
	sub := SubscriptionFunc(func() error {
		calls++
		return nil
	})

	assert.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 1, calls)

	var empty SubscriptionFunc
	assert.NoError(t, empty.Unsubscribe(), "nil func MUST be a no-op")
}
