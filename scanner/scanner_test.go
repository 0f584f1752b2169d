package scanner_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/srg/breathble/internal/device"
	goble "github.com/srg/breathble/internal/device/go-ble"
	"github.com/srg/breathble/internal/session"
	"github.com/srg/breathble/internal/testutils"
	"github.com/srg/breathble/scanner"
	"github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	suite.Suite

	central *testutils.FakeCentral
	session *session.Session

	dev1, dev2 device.Peripheral
}

func (s *ScannerTestSuite) SetupTest() {
	s.dev1 = device.NewPeripheral("AA:BB:CC:DD:EE:FF", "Breathalyzer", -45)
	s.dev2 = device.NewPeripheral("11:22:33:44:55:66", "", -67)
	s.central = testutils.NewFakeCentral(s.dev1, "ffe0", nil)
	s.session = session.New(s.central, nil, testutils.NewSilentLogger())
}

func (s *ScannerTestSuite) TearDownTest() {
	s.Require().NoError(s.session.Close())
}

// emitWhenScanning waits for the scan to start, then delivers results.
func (s *ScannerTestSuite) emitWhenScanning(results ...device.ScanResult) {
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for !s.central.IsScanning() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		for _, r := range results {
			s.central.EmitScan(r)
		}
	}()
}

func (s *ScannerTestSuite) TestHandleDeduplicates() {
	// GOAL: Verify repeated advertisements update one registry entry
	//
	// TEST SCENARIO: dev1, dev2, dev1 again with new RSSI → New, New, Updated → two devices, dev1 seen twice

	c := scanner.NewCollector(testutils.NewSilentLogger())

	s.Require().NoError(c.Handle(device.ScanResult{Peripheral: s.dev1}))
	s.Require().NoError(c.Handle(device.ScanResult{Peripheral: s.dev2}))
	s.Require().NoError(c.Handle(device.ScanResult{Peripheral: device.NewPeripheral("aa:bb:cc:dd:ee:ff", "Breathalyzer", -40)}))

	var types []scanner.DeviceEventType
	for range 3 {
		types = append(types, (<-c.Events()).Type)
	}
	s.Equal([]scanner.DeviceEventType{scanner.EventNew, scanner.EventNew, scanner.EventUpdated}, types)

	devices := c.Devices()
	s.Require().Len(devices, 2)
	s.Equal("11:22:33:44:55:66", devices[0].Address)
	s.Equal("11:22:33:44:55:66", devices[0].Name, "unnamed peripherals MUST fall back to the address")
	s.Equal(1, devices[0].Seen)
	s.Equal(-40, devices[1].RSSI)
	s.Equal(2, devices[1].Seen)
}

func (s *ScannerTestSuite) TestCloseEndsEvents() {
	// GOAL: Verify Close ends a consumer ranging over Events while the registry keeps recording
	//
	// TEST SCENARIO: Two results → Close → range over Events ends after both → later result recorded but not announced

	c := scanner.NewCollector(testutils.NewSilentLogger())
	s.Require().NoError(c.Handle(device.ScanResult{Peripheral: s.dev1}))
	s.Require().NoError(c.Handle(device.ScanResult{Peripheral: s.dev2}))

	c.Close()
	c.Close()

	var addresses []string
	for ev := range c.Events() {
		addresses = append(addresses, ev.DeviceInfo.Address)
	}
	s.Equal([]string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"}, addresses)

	s.Require().NoError(c.Handle(device.ScanResult{Peripheral: s.dev1}))
	devices := c.Devices()
	s.Require().Len(devices, 2)
	s.Equal(2, devices[1].Seen)
}

func (s *ScannerTestSuite) TestHandleAdvertisementDetails() {
	adv := testutils.NewAdvertisementBuilder().
		WithAddress("AA:BB:CC:DD:EE:FF").
		WithName("Breathalyzer").
		WithRSSI(-50).
		WithServices("FFE0").
		WithConnectable(true).
		Build()

	c := scanner.NewCollector(nil)
	s.Require().NoError(c.Handle(device.ScanResult{Peripheral: goble.NewAdvertisement(adv)}))

	devices := c.Devices()
	s.Require().Len(devices, 1)
	s.True(devices[0].Connectable)
	s.Equal([]string{"ffe0"}, devices[0].Services)

	data, err := json.Marshal(devices)
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(string(data), `[
		{
			"address": "AA:BB:CC:DD:EE:FF",
			"name": "Breathalyzer",
			"rssi": -50,
			"connectable": true,
			"services": ["ffe0"],
			"seen": 1,
			"last_seen": "<<PRESENCE>>"
		}
	]`)
}

func (s *ScannerTestSuite) TestScan() {
	// GOAL: Verify Scan collects session results until the context ends
	//
	// TEST SCENARIO: Scan through the session → two peripherals emitted → context cancelled → sorted devices returned → scan stopped

	c := scanner.NewCollector(testutils.NewSilentLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.emitWhenScanning(device.ScanResult{Peripheral: s.dev1}, device.ScanResult{Peripheral: s.dev2})
	go func() {
		for len(c.Devices()) < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	var phases []string
	devices, err := c.Scan(ctx, s.session, 0, func(phase string) { phases = append(phases, phase) })

	s.Require().NoError(err)
	s.Require().Len(devices, 2)
	s.Equal("11:22:33:44:55:66", devices[0].Address)
	s.Equal("AA:BB:CC:DD:EE:FF", devices[1].Address)
	s.Equal([]string{"Scanning", "Processing results"}, phases)
	s.False(s.central.IsScanning(), "scan MUST be stopped")
}

func (s *ScannerTestSuite) TestScanDuration() {
	c := scanner.NewCollector(testutils.NewSilentLogger())

	devices, err := c.Scan(context.Background(), s.session, 20*time.Millisecond, nil)

	s.Require().NoError(err)
	s.Empty(devices)
	s.False(s.central.IsScanning())
}

func (s *ScannerTestSuite) TestScanError() {
	// GOAL: Verify a scan error reported by the stack ends the scan with that error
	//
	// TEST SCENARIO: Scan → error result emitted → Scan returns it wrapped

	c := scanner.NewCollector(testutils.NewSilentLogger())
	s.emitWhenScanning(device.ScanResult{Err: device.NewStageError(device.StageScan, "", device.ErrBluetoothOff)})

	_, err := c.Scan(context.Background(), s.session, time.Second, nil)

	s.ErrorIs(err, device.ErrBluetoothOff)
	s.ErrorIs(err, device.ErrScan)
	s.False(s.central.IsScanning())
}

func (s *ScannerTestSuite) TestStartFailure() {
	s.central.ScanErr = device.ErrBluetoothOff
	c := scanner.NewCollector(testutils.NewSilentLogger())

	_, err := c.Scan(context.Background(), s.session, time.Second, nil)

	s.ErrorIs(err, device.ErrBluetoothOff)
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
