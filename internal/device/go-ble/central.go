package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/breathble/internal/device"
	"github.com/srg/breathble/internal/groutine"
)

// ----------------------------
// Device Factory
// ----------------------------

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// ----------------------------
// Central
// ----------------------------

// link is a live connection to one peripheral.
type link struct {
	peripheral device.Peripheral
	client     ble.Client
	monitored  bool // set before the link is shared, read-only afterwards
	requested  atomic.Bool // disconnect was asked for by us
	done       chan struct{}
}

// Central implements device.Central over github.com/go-ble/ble.
// The ble.Device is created lazily through DeviceFactory on first use.
type Central struct {
	logger *logrus.Logger

	mu         sync.Mutex
	dev        ble.Device
	links      map[string]*link
	scanCancel context.CancelFunc
	scanDone   chan struct{}

	handlers  *hashmap.Map[uint64, func(device.DisconnectionInfo)]
	handlerID atomic.Uint64
}

var _ device.Central = (*Central)(nil)

// NewCentral creates a Central. A nil logger means logrus.New().
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{
		logger:   logger,
		links:    make(map[string]*link),
		handlers: hashmap.New[uint64, func(device.DisconnectionInfo)](),
	}
}

// bleDevice returns the ble.Device, creating it on first call. Caller must hold c.mu.
func (c *Central) bleDevice() (ble.Device, error) {
	if c.dev != nil {
		return c.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	c.dev = dev
	return dev, nil
}

// StartScanning starts a background scan; every advertisement is delivered to
// handler. A scan failure is delivered as a ScanResult carrying a scan StageError.
func (c *Central) StartScanning(ctx context.Context, handler func(device.ScanResult)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanCancel != nil {
		c.logger.Debug("StartScanning called while already scanning")
		return nil
	}
	dev, err := c.bleDevice()
	if err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.scanCancel = cancel
	c.scanDone = done

	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		defer close(done)
		defer c.clearScan(done)

		c.logger.Info("Starting BLE scan...")
		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			handler(device.ScanResult{Peripheral: NewAdvertisement(adv)})
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.logger.WithField("error", err).Error("BLE scan failed")
			handler(device.ScanResult{Err: device.NewStageError(device.StageScan, "", NormalizeError(err))})
			return
		}
		c.logger.Info("BLE scan stopped")
	})
	return nil
}

// StopScanning stops the running scan and waits for it to wind down.
func (c *Central) StopScanning() error {
	c.mu.Lock()
	cancel, done := c.scanCancel, c.scanDone
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// IsScanning reports whether a scan is running.
func (c *Central) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanCancel != nil
}

func (c *Central) clearScan(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanDone == done {
		c.scanCancel = nil
		c.scanDone = nil
	}
}

// DiscoverServices dials p when no link exists and discovers its primary services.
// A failed discovery drops the link it dialed.
func (c *Central) DiscoverServices(ctx context.Context, p device.Peripheral) ([]device.Service, error) {
	l, dialed, err := c.linkTo(ctx, p)
	if err != nil {
		return nil, err
	}

	c.logger.WithField("address", p.Address()).Debug("Discovering services...")
	bleServices, err := callWithContext(ctx, func() ([]*ble.Service, error) {
		return l.client.DiscoverServices(nil)
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": p.Address(),
			"error":   err,
		}).Error("Failed to discover services")
		if dialed {
			if cancelErr := c.Disconnect(p); cancelErr != nil {
				c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during service discovery failure")
			}
		}
		return nil, NormalizeError(err)
	}

	services := make([]device.Service, 0, len(bleServices))
	for _, s := range bleServices {
		services = append(services, newService(s, l))
	}
	c.logger.WithFields(logrus.Fields{
		"address":  p.Address(),
		"services": len(services),
	}).Debug("Services discovered")
	return services, nil
}

// DiscoverCharacteristics discovers the characteristics of a service returned by DiscoverServices.
func (c *Central) DiscoverCharacteristics(ctx context.Context, svc device.Service) ([]device.Characteristic, error) {
	s, ok := svc.(*BLEService)
	if !ok {
		return nil, fmt.Errorf("%w: service %v was not discovered by this central", device.ErrUnsupported, svc)
	}

	bleChars, err := callWithContext(ctx, func() ([]*ble.Characteristic, error) {
		return s.link.client.DiscoverCharacteristics(nil, s.bleSvc)
	})
	if err != nil {
		return nil, NormalizeError(err)
	}

	chars := make([]device.Characteristic, 0, len(bleChars))
	for _, bc := range bleChars {
		chars = append(chars, newCharacteristic(bc, s))
	}
	return chars, nil
}

// ReadValue reads the current value of a characteristic.
func (c *Central) ReadValue(ctx context.Context, ch device.Characteristic) ([]byte, error) {
	bc, ok := ch.(*BLECharacteristic)
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %v was not discovered by this central", device.ErrUnsupported, ch)
	}

	value, err := callWithContext(ctx, func() ([]byte, error) {
		return bc.service.link.client.ReadCharacteristic(bc.bleChar)
	})
	if err != nil {
		return nil, NormalizeError(err)
	}
	return value, nil
}

// ObserveValueUpdates subscribes to notifications (or indications) of ch.
// The CCCD is discovered first when go-ble has not seen it yet.
func (c *Central) ObserveValueUpdates(ch device.Characteristic, handler func(device.ValueUpdate)) (device.Subscription, error) {
	bc, ok := ch.(*BLECharacteristic)
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %v was not discovered by this central", device.ErrUnsupported, ch)
	}
	client := bc.service.link.client

	if bc.bleChar.CCCD == nil {
		if _, err := client.DiscoverDescriptors(nil, bc.bleChar); err != nil {
			return nil, NormalizeError(err)
		}
	}

	indication := bc.useIndication()
	err := client.Subscribe(bc.bleChar, indication, func(data []byte) {
		value := make([]byte, len(data))
		copy(value, data)
		handler(device.ValueUpdate{Characteristic: bc, Value: value})
	})
	if err != nil {
		return nil, NormalizeError(err)
	}

	c.logger.WithFields(logrus.Fields{
		"address":    bc.service.peripheral.Address(),
		"char_uuid":  bc.uuid,
		"indication": indication,
	}).Debug("Subscribed to value updates")

	var once sync.Once
	return device.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			err = NormalizeError(client.Unsubscribe(bc.bleChar, indication))
		})
		return err
	}), nil
}

// Disconnect cancels the link to p. Without a link it does nothing.
// The disconnection notice is delivered to OnDisconnect handlers.
func (c *Central) Disconnect(p device.Peripheral) error {
	key := addressKey(p.Address())

	c.mu.Lock()
	l, ok := c.links[key]
	c.mu.Unlock()
	if !ok {
		c.logger.WithField("address", p.Address()).Debug("Disconnect called but already disconnected")
		return nil
	}

	l.requested.Store(true)
	err := l.client.CancelConnection()
	if !l.monitored {
		c.dropLink(key, l, nil)
	}
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// OnDisconnect registers handler for disconnection notices.
func (c *Central) OnDisconnect(handler func(device.DisconnectionInfo)) device.Subscription {
	id := c.handlerID.Add(1)
	c.handlers.Set(id, handler)
	return device.SubscriptionFunc(func() error {
		c.handlers.Del(id)
		return nil
	})
}

// IsConnected reports whether a link to address is up.
func (c *Central) IsConnected(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[addressKey(address)]
	return ok
}

// linkTo returns the link to p, dialing when there is none.
func (c *Central) linkTo(ctx context.Context, p device.Peripheral) (*link, bool, error) {
	key := addressKey(p.Address())
	if strings.TrimSpace(key) == "" {
		return nil, false, fmt.Errorf("device address is empty")
	}

	c.mu.Lock()
	if l, ok := c.links[key]; ok {
		c.mu.Unlock()
		return l, false, nil
	}
	dev, err := c.bleDevice()
	c.mu.Unlock()
	if err != nil {
		return nil, false, err
	}

	c.logger.WithField("address", p.Address()).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(p.Address()))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": p.Address(),
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, false, fmt.Errorf("failed to connect to device with address %q: %w", p.Address(), NormalizeError(err))
	}

	// monitored is fixed before the link is published; Disconnect reads it unlocked.
	dc, monitored := client.(interface{ Disconnected() <-chan struct{} })
	l := &link{peripheral: p, client: client, monitored: monitored, done: make(chan struct{})}
	c.mu.Lock()
	c.links[key] = l
	c.mu.Unlock()

	// Monitor the go-ble client Disconnected() channel when the backend provides it
	if monitored {
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			select {
			case <-dc.Disconnected():
				var reason error
				if !l.requested.Load() {
					reason = device.ErrNotConnected
					c.logger.WithField("address", p.Address()).Warn("BLE stack reported disconnection")
				}
				c.dropLink(key, l, reason)
			case <-l.done:
			}
		})
	} else {
		c.logger.Debug("Client does not support Disconnected() channel")
	}

	c.logger.WithField("address", p.Address()).Info("BLE device connected")
	return l, true, nil
}

// dropLink forgets l and notifies every disconnect handler once.
func (c *Central) dropLink(key string, l *link, reason error) {
	c.mu.Lock()
	current, ok := c.links[key]
	if !ok || current != l {
		c.mu.Unlock()
		return
	}
	delete(c.links, key)
	close(l.done)
	c.mu.Unlock()

	info := device.DisconnectionInfo{Address: l.peripheral.Address(), Reason: reason}
	c.handlers.Range(func(_ uint64, h func(device.DisconnectionInfo)) bool {
		h(info)
		return true
	})
}

// callWithContext runs fn, returning early with the context error when ctx ends first.
// go-ble GATT calls take no context; fn keeps running in the background in that case.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	resultCh := make(chan result, 1)

	groutine.Go(ctx, "ble-gatt-call", func(context.Context) {
		v, err := fn()
		resultCh <- result{value: v, err: err}
	})

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
