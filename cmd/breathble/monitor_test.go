package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/srg/breathble/internal/device"
	"github.com/srg/breathble/internal/payload"
	"github.com/srg/breathble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type MonitorCommandTestSuite struct {
	CommandTestSuite
}

// afterSubscribed runs fn once the address characteristic is observed.
func (s *MonitorCommandTestSuite) afterSubscribed(fn func()) {
	p := s.Peripheral
	go func() {
		deadline := time.Now().Add(s.TestTimeout)
		for !p.IsSubscribed("FFE3") {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		fn()
	}()
}

func valueLine(kind, value string) string {
	return fmt.Sprintf("%-16s %s\n", kind, value)
}

func (s *MonitorCommandTestSuite) TestMonitorUntilLinkLost() {
	// GOAL: Verify monitor prints states and readings, then a summary when the link drops
	//
	// TEST SCENARIO: Connect → three reads printed → alcohol pushed → stack drops link → ErrConnectionLost → summary of four readings

	alcohol := payload.Encode(payload.AlcoholContent(0.08))
	s.afterSubscribed(func() {
		s.Peripheral.Notify("FFE3", alcohol)
		s.Peripheral.DropLink()
	})

	out, err := s.ExecuteCommand("monitor", TestDeviceAddress, "--timeout", "5s")

	s.Require().ErrorIs(err, ErrConnectionLost)
	s.ErrorIs(err, device.ErrNotConnected)

	s.Contains(out, "connecting to AA:BB:CC:DD:EE:FF (timeout 5s)\n")
	s.Contains(out, "connected to AA:BB:CC:DD:EE:FF\n")
	s.Contains(out, valueLine("battery", "85%"))
	s.Contains(out, valueLine("usage_count", "256"))
	s.Contains(out, valueLine("address", "AA:BB:CC:DD:EE:FF0"))
	s.Contains(out, valueLine("alcohol_content", "0.080%"))
	s.Contains(out, "disconnected from AA:BB:CC:DD:EE:FF: not_connected\n")

	idx := strings.Index(out, "Latest readings:")
	s.Require().GreaterOrEqual(idx, 0, "summary MUST be printed")
	testutils.NewTextAsserter(s.T()).Assert(out[idx:], `Latest readings:
  battery          85%
  usage_count      256
  address          AA:BB:CC:DD:EE:FF0
  alcohol_content  0.080%
4 readings recorded
`)
}

func (s *MonitorCommandTestSuite) TestMonitorDuration() {
	// GOAL: Verify monitor stops cleanly when --duration elapses and drops the link it made
	//
	// TEST SCENARIO: Connect → duration elapses → no error → CancelConnection called

	out, err := s.ExecuteCommand("monitor", TestDeviceAddress, "--duration", "300ms")

	s.Require().NoError(err)
	s.Contains(out, "connected to AA:BB:CC:DD:EE:FF\n")
	s.Contains(out, "Latest readings:")
	s.Peripheral.Client.AssertCalled(s.T(), "CancelConnection")
}

func (s *MonitorCommandTestSuite) TestMonitorServiceDiscoveryFailure() {
	s.PeripheralBuilder = testutils.DefaultPeripheralBuilder().
		WithServiceDiscoveryError(fmt.Errorf("att: request timed out"))
	s.CommandTestSuite.SetupTest()

	out, err := s.ExecuteCommand("monitor", TestDeviceAddress)

	s.Require().ErrorIs(err, device.ErrServiceDiscovery)
	s.Contains(out, "connection to AA:BB:CC:DD:EE:FF failed: service discovery failed for AA:BB:CC:DD:EE:FF: att: request timed out\n")
	s.Contains(out, "No readings received")
}

func (s *MonitorCommandTestSuite) TestMonitorMissingService() {
	// GOAL: Verify a missing configured service is reported without ending the session
	//
	// TEST SCENARIO: --service 180F → Connected → ConnectFailed(service not found) → runs until --duration

	out, err := s.ExecuteCommand("monitor", TestDeviceAddress, "--service", "180F", "--duration", "300ms")

	s.Require().NoError(err)
	s.Contains(out, `service "180F" not found`)
	s.Contains(out, "No readings received")
}

func (s *MonitorCommandTestSuite) TestMonitorArguments() {
	s.Run("invalid service", func() {
		_, err := s.ExecuteCommand("monitor", TestDeviceAddress, "--service", "xyz")
		s.ErrorContains(err, "invalid service UUID")
	})

	s.Run("missing address", func() {
		_, err := s.ExecuteCommand("monitor")
		s.Error(err)
	})

	s.Run("invalid log level", func() {
		_, err := s.ExecuteCommand("monitor", TestDeviceAddress, "--log-level", "loud")
		s.ErrorContains(err, "invalid log level")
	})
}

func TestMonitorCommandTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorCommandTestSuite))
}

type DecodeCommandTestSuite struct {
	CommandTestSuite
}

func (s *DecodeCommandTestSuite) TestDecode() {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"battery", []string{"55"}, "battery: 85%\n"},
		{"usage count with separators", []string{"01:00"}, "usage_count: 256\n"},
		{"alcohol content", []string{hex.EncodeToString(payload.Encode(payload.AlcoholContent(0.08)))}, "alcohol_content: 0.080%\n"},
		{"address", []string{hex.EncodeToString([]byte("AA:BB:CC:DD:EE:FF0"))}, "address: AA:BB:CC:DD:EE:FF0\n"},
		{"split arguments", []string{"0x01", "00"}, "usage_count: 256\n"},
		{"unrecognized", []string{"01-02-03"}, "unrecognized payload length 3\n"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			out, err := s.ExecuteCommand(append([]string{"decode"}, tt.args...)...)
			s.Require().NoError(err)
			s.Equal(tt.want, out)
		})
	}
}

func (s *DecodeCommandTestSuite) TestDecodeInvalidHex() {
	_, err := s.ExecuteCommand("decode", "zz")
	s.ErrorContains(err, "invalid hex payload")

	_, err = s.ExecuteCommand("decode", "::")
	s.ErrorContains(err, "payload is empty")
}

func TestDecodeCommandTestSuite(t *testing.T) {
	suite.Run(t, new(DecodeCommandTestSuite))
}
