package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a mocked ble.Device serving one GATT profile.
type PeripheralDeviceBuilder struct {
	profile            DeviceProfileConfig
	scanAdvertisements []ble.Advertisement
	scanErr            error
	dialErr            error
	discoveryErr       error
	readErrs           map[string]error
	subscribeErr       error
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile:  DeviceProfileConfig{Services: []ServiceConfig{}},
		readErrs: make(map[string]error),
	}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// WithScanAdvertisements sets the advertisements delivered by Scan.
func (b *PeripheralDeviceBuilder) WithScanAdvertisements(ads ...ble.Advertisement) *PeripheralDeviceBuilder {
	b.scanAdvertisements = append(b.scanAdvertisements, ads...)
	return b
}

// WithScanError makes Scan fail immediately with err.
func (b *PeripheralDeviceBuilder) WithScanError(err error) *PeripheralDeviceBuilder {
	b.scanErr = err
	return b
}

// WithDialError makes Dial fail with err.
func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

// WithServiceDiscoveryError makes DiscoverServices fail with err.
func (b *PeripheralDeviceBuilder) WithServiceDiscoveryError(err error) *PeripheralDeviceBuilder {
	b.discoveryErr = err
	return b
}

// WithReadError makes reads of the characteristic uuid fail with err.
func (b *PeripheralDeviceBuilder) WithReadError(uuid string, err error) *PeripheralDeviceBuilder {
	b.readErrs[strings.ToLower(uuid)] = err
	return b
}

// WithSubscribeError makes Subscribe fail with err.
func (b *PeripheralDeviceBuilder) WithSubscribeError(err error) *PeripheralDeviceBuilder {
	b.subscribeErr = err
	return b
}

// GetServices returns the configured services
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

// parseCharacteristicProperties converts a comma separated property list to ble.Property flags
func parseCharacteristicProperties(props string) ble.Property {
	if strings.TrimSpace(props) == "" {
		return ble.CharRead | ble.CharNotify
	}
	var property ble.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= ble.CharRead
		case "write":
			property |= ble.CharWrite
		case "notify":
			property |= ble.CharNotify
		case "indicate":
			property |= ble.CharIndicate
		}
	}
	return property
}

// Build creates the mocked peripheral with the configured profile.
func (b *PeripheralDeviceBuilder) Build() *MockPeripheral {
	p := &MockPeripheral{
		Device:   &MockDevice{},
		Client:   &MockClient{},
		handlers: make(map[*ble.Characteristic]ble.NotificationHandler),
		disc:     make(chan struct{}),
	}

	for _, svcConfig := range b.profile.Services {
		svc := &ble.Service{UUID: ble.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			char := &ble.Characteristic{
				UUID:     ble.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			}
			if char.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
				char.CCCD = &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID}
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		p.Services = append(p.Services, svc)
	}

	b.expectDevice(p)
	b.expectClient(p)
	return p
}

func (b *PeripheralDeviceBuilder) expectDevice(p *MockPeripheral) {
	if b.dialErr != nil {
		p.Device.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr)
	} else {
		p.Device.On("Dial", mock.Anything, mock.Anything).Return(func(context.Context, ble.Addr) (ble.Client, error) {
			p.reconnect()
			return p.Client, nil
		}, nil)
	}

	scan := p.Device.On("Scan", mock.Anything, mock.Anything, mock.Anything)
	if b.scanErr != nil {
		scan.Return(b.scanErr)
	} else {
		ads := b.scanAdvertisements
		scan.Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			handler := args.Get(2).(ble.AdvHandler)
			for _, adv := range ads {
				handler(adv)
			}
			<-ctx.Done()
		}).Return(context.Canceled)
	}
	p.Device.On("Stop").Return(nil)
}

func (b *PeripheralDeviceBuilder) expectClient(p *MockPeripheral) {
	c := p.Client

	if b.discoveryErr != nil {
		c.On("DiscoverServices", mock.Anything).Return(nil, b.discoveryErr)
	} else {
		c.On("DiscoverServices", mock.Anything).Return(p.Services, nil)
	}
	c.On("CancelConnection").Run(func(mock.Arguments) { p.DropLink() }).Return(nil)
	c.On("Disconnected").Return(func() <-chan struct{} { return p.disconnected() })

	for _, svc := range p.Services {
		c.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil)

		for _, char := range svc.Characteristics {
			c.On("DiscoverDescriptors", mock.Anything, char).Return([]*ble.Descriptor{}, nil)
			c.On("Unsubscribe", char, mock.Anything).Run(func(mock.Arguments) {
				p.mu.Lock()
				delete(p.handlers, char)
				p.mu.Unlock()
			}).Return(nil)

			if b.subscribeErr != nil {
				c.On("Subscribe", char, mock.Anything, mock.Anything).Return(b.subscribeErr)
			} else {
				c.On("Subscribe", char, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
					p.mu.Lock()
					p.handlers[char] = args.Get(2).(ble.NotificationHandler)
					p.mu.Unlock()
				}).Return(nil)
			}

			// Return a value only if the characteristic supports reading
			switch {
			case b.readErrs[strings.ToLower(char.UUID.String())] != nil:
				c.On("ReadCharacteristic", char).Return(nil, b.readErrs[strings.ToLower(char.UUID.String())])
			case char.Property&ble.CharRead != 0:
				c.On("ReadCharacteristic", char).Return(char.Value, nil)
			default:
				c.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read"))
			}
		}
	}
}

// MockPeripheral is a mocked ble.Device together with the client it dials.
type MockPeripheral struct {
	Device   *MockDevice
	Client   *MockClient
	Services []*ble.Service

	mu       sync.Mutex
	disc     chan struct{}
	dropped  bool
	handlers map[*ble.Characteristic]ble.NotificationHandler
}

// Characteristic returns the mocked characteristic with uuid, or nil.
func (p *MockPeripheral) Characteristic(uuid string) *ble.Characteristic {
	want := ble.MustParse(uuid)
	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(want) {
				return c
			}
		}
	}
	return nil
}

// Notify pushes data to the subscriber of characteristic uuid.
// It reports false when nothing is subscribed.
func (p *MockPeripheral) Notify(uuid string, data []byte) bool {
	char := p.Characteristic(uuid)
	p.mu.Lock()
	h, ok := p.handlers[char]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// IsSubscribed reports whether characteristic uuid has a notification handler.
func (p *MockPeripheral) IsSubscribed(uuid string) bool {
	char := p.Characteristic(uuid)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[char]
	return ok
}

// DropLink simulates the stack reporting the link as gone.
func (p *MockPeripheral) DropLink() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dropped {
		p.dropped = true
		close(p.disc)
	}
}

func (p *MockPeripheral) reconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dropped {
		p.disc = make(chan struct{})
		p.dropped = false
	}
}

func (p *MockPeripheral) disconnected() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disc
}
