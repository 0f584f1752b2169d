package device

import (
	"context"
	"fmt"
)

// Peripheral is a remote BLE device as seen by the central.
type Peripheral interface {
	Address() string
	Name() string
	RSSI() int
}

// Service is a discovered GATT service on a connected peripheral.
type Service interface {
	UUID() string
	Peripheral() Peripheral
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	Service() Service
}

// Subscription is an explicit handle to a registration held by the collaborator.
// Unsubscribe must be safe to call more than once.
type Subscription interface {
	Unsubscribe() error
}

// SubscriptionFunc adapts a plain function to the Subscription interface.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error {
	if f == nil {
		return nil
	}
	return f()
}

// ScanResult is one entry of the discovered-peripheral stream.
// Exactly one of Peripheral and Err is set.
type ScanResult struct {
	Peripheral Peripheral
	Err        error
}

// ValueUpdate carries the bytes pushed by a characteristic notification.
type ValueUpdate struct {
	Characteristic Characteristic
	Value          []byte
	Err            error
}

// DisconnectionInfo describes a link loss reported by the stack.
// Reason is nil for a caller-initiated disconnect.
type DisconnectionInfo struct {
	Address string
	Reason  error
}

// Central is the BLE collaborator the session orchestrates.
//
// Blocking calls honour ctx; callbacks may be invoked from any goroutine.
type Central interface {
	StartScanning(ctx context.Context, handler func(ScanResult)) error
	StopScanning() error
	IsScanning() bool

	DiscoverServices(ctx context.Context, p Peripheral) ([]Service, error)
	DiscoverCharacteristics(ctx context.Context, svc Service) ([]Characteristic, error)
	ReadValue(ctx context.Context, c Characteristic) ([]byte, error)
	ObserveValueUpdates(c Characteristic, handler func(ValueUpdate)) (Subscription, error)

	Disconnect(p Peripheral) error
	OnDisconnect(handler func(DisconnectionInfo)) Subscription
	IsConnected(address string) bool
}

// peripheral is the plain value implementation of Peripheral
type peripheral struct {
	address string
	name    string
	rssi    int
}

// NewPeripheral returns a Peripheral for a known address, e.g. one given on the command line.
func NewPeripheral(address, name string, rssi int) Peripheral {
	return &peripheral{address: address, name: name, rssi: rssi}
}

func (p *peripheral) Address() string { return p.address }
func (p *peripheral) RSSI() int       { return p.rssi }

func (p *peripheral) Name() string {
	if p.name == "" {
		return p.address
	}
	return p.name
}

func (p *peripheral) String() string {
	return fmt.Sprintf("%s (%s)", p.Name(), p.address)
}
