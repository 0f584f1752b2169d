package testutils

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	goble "github.com/srg/breathble/internal/device/go-ble"
	"github.com/stretchr/testify/suite"
)

// MockPeripheralSuite is a testify suite that swaps goble.DeviceFactory for a
// mocked peripheral before each test and restores it afterwards.
//
// Custom device profile usage:
//
//	type CentralSuite struct {
//	    testutils.MockPeripheralSuite
//	}
//
//	func (s *CentralSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("FFE0").
//	        WithCharacteristic("FFE1", "read,notify", []byte{85})
//
//	    s.MockPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockPeripheralSuite struct {
	suite.Suite

	Logger *logrus.Logger

	OriginalDeviceFactory func() (ble.Device, error)
	TestTimeout           time.Duration

	PeripheralBuilder *PeripheralDeviceBuilder
	// Peripheral is the mock built for the current test.
	Peripheral *MockPeripheral
}

// SetupSuite runs once before all tests in the suite.
func (s *MockPeripheralSuite) SetupSuite() {
	s.Logger = NewDebugLogger()
	s.TestTimeout = 2 * time.Second

	s.OriginalDeviceFactory = goble.DeviceFactory
	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
		}
	})
}

// SetupTest builds the configured peripheral and installs the device factory.
func (s *MockPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = DefaultPeripheralBuilder()
	}

	s.Peripheral = s.PeripheralBuilder.Build()
	goble.DeviceFactory = func() (ble.Device, error) {
		return s.Peripheral.Device, nil
	}
	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest restores the device factory and resets the builder.
func (s *MockPeripheralSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	s.PeripheralBuilder = nil
	s.Peripheral = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder()
	}
	return s.PeripheralBuilder
}

// WaitFor asserts that condition becomes true within TestTimeout.
func (s *MockPeripheralSuite) WaitFor(condition func() bool, msgAndArgs ...interface{}) {
	s.Require().Eventually(condition, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}

// DefaultPeripheralBuilder describes a breathalyzer exposing one service with
// a characteristic per payload field. The address characteristic notifies.
func DefaultPeripheralBuilder() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().
		FromJSON(`
		{
			"services": [
				{
					"uuid": "FFE0",
					"characteristics": [
						{ "uuid": "FFE1", "properties": "read", "value": [85] },
						{ "uuid": "FFE2", "properties": "read", "value": [1, 0] },
						{ "uuid": "FFE3", "properties": "read,notify", "value": %s }
					]
				}
			]
		}`, MustJSON(bytesToInts([]byte("AA:BB:CC:DD:EE:FF0"))))
}

func bytesToInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
