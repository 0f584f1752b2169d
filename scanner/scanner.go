package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/breathble/internal/device"
	"github.com/srg/breathble/internal/stream"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

// DeviceInfo is what the collector knows about one advertising peripheral.
type DeviceInfo struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	Seen        int       `json:"seen"`
	LastSeen    time.Time `json:"last_seen"`
}

type DeviceEvent struct {
	Type       DeviceEventType
	DeviceInfo DeviceInfo
}

// Source is the part of a session the collector needs to scan.
type Source interface {
	SubscribeScans(buffer int) *stream.Subscription[device.ScanResult]
	StartScan() error
	StopScan() error
}

// advertisement is implemented by peripherals that carry advertisement details.
type advertisement interface {
	Connectable() bool
	Services() []string
}

// entry is a registry slot; the mutex guards updates from concurrent results.
type entry struct {
	mu   sync.Mutex
	info DeviceInfo
}

// Collector aggregates scan results into a registry keyed by address.
// Scan results are relayed unfiltered by the session; deduplication for display happens here.
type Collector struct {
	devices *hashmap.Map[string, *entry]
	events  *stream.RingChannel[DeviceEvent]
	logger  *logrus.Logger
	now     func() time.Time
	onEvent func(DeviceEvent)

	mu     sync.Mutex // guards closing events against Handle
	closed bool
}

// NewCollector creates a Collector. A nil logger means logrus.New().
func NewCollector(logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Collector{
		devices: hashmap.New[string, *entry](),
		events:  stream.NewRingChannel[DeviceEvent](100),
		logger:  logger,
		now:     time.Now,
	}
}

// OnEvent sets a callback invoked for every event, on the goroutine running Run.
func (c *Collector) OnEvent(fn func(DeviceEvent)) {
	c.onEvent = fn
}

// Scan runs a scan on src for duration (until ctx ends when duration is zero)
// and returns the collected devices sorted by address.
func (c *Collector) Scan(ctx context.Context, src Source, duration time.Duration, progressCallback ProgressCallback) ([]DeviceInfo, error) {
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	sub := src.SubscribeScans(0)
	defer sub.Close()

	c.logger.WithField("duration", duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	if err := src.StartScan(); err != nil {
		return nil, err
	}
	runErr := c.Run(ctx, sub)
	if err := src.StopScan(); err != nil {
		c.logger.WithField("error", err).Warn("Failed to stop scan")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", runErr)
	}

	progressCallback("Processing results")
	devices := c.Devices()
	c.logger.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

// Run feeds every result of sub into the collector until ctx ends, the
// subscription closes or a scan error arrives.
func (c *Collector) Run(ctx context.Context, sub *stream.Subscription[device.ScanResult]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := c.Handle(r); err != nil {
				return err
			}
		}
	}
}

// Handle records one scan result. A result carrying an error is returned as is.
func (c *Collector) Handle(r device.ScanResult) error {
	if r.Err != nil {
		c.logger.WithField("error", r.Err).Error("Scan reported an error")
		return r.Err
	}
	p := r.Peripheral
	if p == nil {
		return nil
	}

	key := strings.ToUpper(p.Address())
	e, existing := c.devices.GetOrInsert(key, &entry{})

	e.mu.Lock()
	e.info.Address = p.Address()
	e.info.Name = p.Name()
	e.info.RSSI = p.RSSI()
	if adv, ok := p.(advertisement); ok {
		e.info.Connectable = adv.Connectable()
		e.info.Services = adv.Services()
	}
	e.info.Seen++
	e.info.LastSeen = c.now()
	info := e.info
	info.Services = slices.Clone(e.info.Services)
	e.mu.Unlock()

	event := DeviceEvent{DeviceInfo: info}
	if existing {
		event.Type = EventUpdated
	} else {
		c.logger.WithFields(logrus.Fields{
			"device":  info.Name,
			"address": info.Address,
			"rssi":    info.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	c.mu.Lock()
	if !c.closed {
		c.events.Send(event)
	}
	c.mu.Unlock()
	if c.onEvent != nil {
		c.onEvent(event)
	}
	return nil
}

// Devices returns a snapshot of discovered devices sorted by address.
func (c *Collector) Devices() []DeviceInfo {
	devs := make([]DeviceInfo, 0, c.devices.Len())
	c.devices.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		info := e.info
		info.Services = slices.Clone(e.info.Services)
		e.mu.Unlock()
		devs = append(devs, info)
		return true
	})
	slices.SortFunc(devs, func(a, b DeviceInfo) int {
		return strings.Compare(a.Address, b.Address)
	})
	return devs
}

// Events returns the device events channel. It holds the latest 100 events
// and is closed by Close.
func (c *Collector) Events() <-chan DeviceEvent {
	return c.events.C()
}

// Close closes the events channel. The registry stays readable and later
// results are still recorded, only no longer announced on Events.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.events.Close()
}
