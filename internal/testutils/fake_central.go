package testutils

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/srg/breathble/internal/device"
)

// FakeService is a device.Service for FakeCentral.
type FakeService struct {
	ID     string
	Parent device.Peripheral
}

func (s *FakeService) UUID() string                  { return s.ID }
func (s *FakeService) Peripheral() device.Peripheral { return s.Parent }

// FakeCharacteristic is a device.Characteristic for FakeCentral.
type FakeCharacteristic struct {
	ID     string
	Parent device.Service
}

func (c *FakeCharacteristic) UUID() string            { return c.ID }
func (c *FakeCharacteristic) Service() device.Service { return c.Parent }

type discoveryResult struct {
	services []device.Service
	err      error
}

// FakeCentral is a scriptable device.Central. Results are configured through
// its exported fields before use; every call is recorded.
type FakeCentral struct {
	mu sync.Mutex

	// Services returned by DiscoverServices, ServicesErr fails it.
	Services    []device.Service
	ServicesErr error
	// Characteristics per service UUID, CharacteristicsErr fails discovery.
	Characteristics    map[string][]device.Characteristic
	CharacteristicsErr error
	// Values per characteristic UUID, ReadErrs fail individual reads.
	Values   map[string][]byte
	ReadErrs map[string]error
	// ObserveErr fails ObserveValueUpdates.
	ObserveErr error
	// ScanErr fails StartScanning.
	ScanErr error

	gate        chan discoveryResult
	scanning    bool
	scanHandler func(device.ScanResult)
	connected   map[string]bool
	observers   map[string]func(device.ValueUpdate)
	handlers    map[int]func(device.DisconnectionInfo)
	nextHandler int

	DiscoverCalls   int
	Reads           []string
	Observed        []string
	Unsubscribed    []string
	DisconnectCalls []string
}

var _ device.Central = (*FakeCentral)(nil)

// NewFakeCentral creates a FakeCentral serving one service with the given characteristics.
func NewFakeCentral(p device.Peripheral, serviceUUID string, chars map[string][]byte) *FakeCentral {
	svc := &FakeService{ID: serviceUUID, Parent: p}
	fc := &FakeCentral{
		Services:        []device.Service{svc},
		Characteristics: map[string][]device.Characteristic{},
		Values:          map[string][]byte{},
		ReadErrs:        map[string]error{},
		connected:       map[string]bool{},
		observers:       map[string]func(device.ValueUpdate){},
		handlers:        map[int]func(device.DisconnectionInfo){},
	}
	for _, uuid := range sortedKeys(chars) {
		fc.Characteristics[serviceUUID] = append(fc.Characteristics[serviceUUID], &FakeCharacteristic{ID: uuid, Parent: svc})
		fc.Values[uuid] = chars[uuid]
	}
	return fc
}

// HoldDiscovery makes DiscoverServices block until ReleaseDiscovery is called
// or its context ends.
func (f *FakeCentral) HoldDiscovery() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan discoveryResult, 1)
}

// ReleaseDiscovery completes a held DiscoverServices call with the configured result.
func (f *FakeCentral) ReleaseDiscovery() {
	f.mu.Lock()
	gate := f.gate
	result := discoveryResult{services: f.Services, err: f.ServicesErr}
	f.mu.Unlock()
	if gate != nil {
		gate <- result
	}
}

func (f *FakeCentral) StartScanning(_ context.Context, handler func(device.ScanResult)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScanErr != nil {
		return f.ScanErr
	}
	f.scanning = true
	f.scanHandler = handler
	return nil
}

func (f *FakeCentral) StopScanning() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanning = false
	f.scanHandler = nil
	return nil
}

func (f *FakeCentral) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// EmitScan delivers r to the active scan handler. It reports false when not scanning.
func (f *FakeCentral) EmitScan(r device.ScanResult) bool {
	f.mu.Lock()
	h := f.scanHandler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(r)
	return true
}

func (f *FakeCentral) DiscoverServices(ctx context.Context, p device.Peripheral) ([]device.Service, error) {
	f.mu.Lock()
	f.DiscoverCalls++
	gate := f.gate
	result := discoveryResult{services: f.Services, err: f.ServicesErr}
	f.mu.Unlock()

	if gate != nil {
		select {
		case result = <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if result.err != nil {
		return nil, result.err
	}

	f.mu.Lock()
	f.connected[addressKey(p.Address())] = true
	f.mu.Unlock()
	return result.services, nil
}

func (f *FakeCentral) DiscoverCharacteristics(_ context.Context, svc device.Service) ([]device.Characteristic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CharacteristicsErr != nil {
		return nil, f.CharacteristicsErr
	}
	return f.Characteristics[svc.UUID()], nil
}

func (f *FakeCentral) ReadValue(_ context.Context, c device.Characteristic) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads = append(f.Reads, c.UUID())
	if err := f.ReadErrs[c.UUID()]; err != nil {
		return nil, err
	}
	return f.Values[c.UUID()], nil
}

func (f *FakeCentral) ObserveValueUpdates(c device.Characteristic, handler func(device.ValueUpdate)) (device.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ObserveErr != nil {
		return nil, f.ObserveErr
	}
	uuid := c.UUID()
	f.Observed = append(f.Observed, uuid)
	f.observers[uuid] = handler

	var once sync.Once
	return device.SubscriptionFunc(func() error {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.observers, uuid)
			f.Unsubscribed = append(f.Unsubscribed, uuid)
		})
		return nil
	}), nil
}

// Push delivers a value update on characteristic uuid. It reports false when nobody observes it.
func (f *FakeCentral) Push(uuid string, value []byte, err error) bool {
	f.mu.Lock()
	h, ok := f.observers[uuid]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(device.ValueUpdate{Characteristic: &FakeCharacteristic{ID: uuid}, Value: value, Err: err})
	return true
}

// IsObserved reports whether characteristic uuid has an active observer.
func (f *FakeCentral) IsObserved(uuid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.observers[uuid]
	return ok
}

// Disconnect records the call; a live link is dropped and reported like a real stack does.
func (f *FakeCentral) Disconnect(p device.Peripheral) error {
	key := addressKey(p.Address())
	f.mu.Lock()
	f.DisconnectCalls = append(f.DisconnectCalls, p.Address())
	wasConnected := f.connected[key]
	delete(f.connected, key)
	f.mu.Unlock()

	if wasConnected {
		f.EmitDisconnect(device.DisconnectionInfo{Address: p.Address()})
	}
	return nil
}

// EmitDisconnect delivers info to every OnDisconnect handler.
func (f *FakeCentral) EmitDisconnect(info device.DisconnectionInfo) {
	f.mu.Lock()
	delete(f.connected, addressKey(info.Address))
	handlers := make([]func(device.DisconnectionInfo), 0, len(f.handlers))
	for _, id := range sortedKeys(f.handlers) {
		handlers = append(handlers, f.handlers[id])
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(info)
	}
}

func (f *FakeCentral) OnDisconnect(handler func(device.DisconnectionInfo)) device.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandler++
	id := f.nextHandler
	f.handlers[id] = handler
	return device.SubscriptionFunc(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
		return nil
	})
}

// DisconnectHandlers returns the number of registered disconnect handlers.
func (f *FakeCentral) DisconnectHandlers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *FakeCentral) IsConnected(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[addressKey(address)]
}

// Snapshot returns copies of the recorded calls under the lock.
func (f *FakeCentral) Snapshot() (reads, observed, unsubscribed, disconnects []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Reads...),
		append([]string(nil), f.Observed...),
		append([]string(nil), f.Unsubscribed...),
		append([]string(nil), f.DisconnectCalls...)
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
