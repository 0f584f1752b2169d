package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/breathble/internal/device"
	"github.com/srg/breathble/internal/groutine"
	"github.com/srg/breathble/internal/payload"
	"github.com/srg/breathble/internal/stream"
)

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("session closed")

var errPeripheralRequired = errors.New("peripheral is required")

// Options configures a Session.
type Options struct {
	// ServiceUUID selects the service whose characteristics are read.
	// Empty means the first discovered service.
	ServiceUUID string `default:""`
	// ConnectTimeout is used by Connect when a non-positive timeout is passed.
	ConnectTimeout time.Duration `default:"10s"`
	// StateBuffer is the default per-subscriber capacity of the state stream.
	StateBuffer int `default:"32"`
	// ScanBuffer is the default per-subscriber capacity of the scan stream.
	ScanBuffer int `default:"64"`
	// Clock drives the connect timeout. Nil means SystemClock.
	Clock Clock
}

// Session orchestrates one central: scanning, connecting, discovery, reads and
// notifications. Every stack result is pushed into the Tracker and the payload
// Publisher; the Session itself never blocks the caller on the stack.
type Session struct {
	central  device.Central
	tracker  *Tracker
	readings *payload.Publisher
	scans    *stream.Broadcaster[device.ScanResult]
	opts     Options
	logger   *logrus.Logger

	workers *groutine.Group

	mu            sync.Mutex
	closed        bool
	notifications map[string]*notification
	disconnectSub device.Subscription
}

// notification is an active value-update subscription kept for explicit release.
type notification struct {
	address string
	sub     device.Subscription
}

// New creates a Session over central. A nil opts uses defaults.
func New(central device.Central, opts *Options, logger *logrus.Logger) *Session {
	var o Options
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Session{
		central:       central,
		tracker:       NewTracker(o.Clock, logger),
		readings:      payload.NewPublisher(),
		scans:         stream.NewBroadcaster[device.ScanResult](),
		opts:          o,
		logger:        logger,
		workers:       groutine.NewGroup(context.Background()),
		notifications: make(map[string]*notification),
	}
	s.disconnectSub = central.OnDisconnect(s.handleDisconnect)
	return s
}

// SubscribeStates subscribes to connection state transitions.
// A non-positive buffer uses Options.StateBuffer.
func (s *Session) SubscribeStates(buffer int) *stream.Subscription[device.ConnectionState] {
	if buffer <= 0 {
		buffer = s.opts.StateBuffer
	}
	return s.tracker.Subscribe(buffer)
}

// SubscribeScans subscribes to discovered peripherals.
// A non-positive buffer uses Options.ScanBuffer.
func (s *Session) SubscribeScans(buffer int) *stream.Subscription[device.ScanResult] {
	if buffer <= 0 {
		buffer = s.opts.ScanBuffer
	}
	return s.scans.Subscribe(buffer)
}

// Readings returns the publisher of decoded payload values.
func (s *Session) Readings() *payload.Publisher {
	return s.readings
}

// StartScan starts scanning and relays every result to scan subscribers.
// Stack errors surface as ScanResult values with Err set.
func (s *Session) StartScan() error {
	if s.isClosed() {
		return ErrClosed
	}
	err := s.central.StartScanning(s.workers.Context(), func(r device.ScanResult) {
		s.scans.Publish(r)
	})
	if err != nil {
		return device.NewStageError(device.StageScan, "", err)
	}
	s.logger.Debug("Scanning started")
	return nil
}

// StopScan stops scanning.
func (s *Session) StopScan() error {
	if err := s.central.StopScanning(); err != nil {
		return device.NewStageError(device.StageScan, "", err)
	}
	s.logger.Debug("Scanning stopped")
	return nil
}

// IsScanning reports whether the central is scanning.
func (s *Session) IsScanning() bool {
	return s.central.IsScanning()
}

// IsConnected reports whether the central holds a link to address.
func (s *Session) IsConnected(address string) bool {
	return s.central.IsConnected(address)
}

// Connect starts a connection attempt to p and returns immediately.
// Progress is reported on the state stream: Connecting first, then exactly one
// of Connected, ConnectFailed or TimedOut. A non-positive timeout uses
// Options.ConnectTimeout.
//
// The timeout does not cancel discovery: a timed-out attempt keeps its
// goroutine until the stack answers or Close cancels the call.
func (s *Session) Connect(p device.Peripheral, timeout time.Duration) error {
	if p == nil {
		return errPeripheralRequired
	}
	if timeout <= 0 {
		timeout = s.opts.ConnectTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	attempt, err := s.tracker.StartConnect(p, timeout)
	if err != nil {
		return err
	}

	s.workers.Go("connect-"+p.Address(), func(ctx context.Context) {
		s.connect(ctx, attempt, p)
	})
	return nil
}

// Disconnect asks the stack to drop the link to p. The Disconnected state is
// emitted when the stack reports the disconnection, not here.
func (s *Session) Disconnect(p device.Peripheral) error {
	if p == nil {
		return errPeripheralRequired
	}
	if err := s.central.Disconnect(p); err != nil {
		return device.NewStageError(device.StageDisconnection, p.Address(), err)
	}
	return nil
}

// Close stops scanning, releases notification subscriptions, waits for
// in-flight discovery to return and closes every stream. Links are left to the
// caller; call Disconnect first to drop them.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.central.IsScanning() {
		if err := s.central.StopScanning(); err != nil {
			errs = append(errs, device.NewStageError(device.StageScan, "", err))
		}
	}

	s.workers.Stop()

	errs = append(errs, s.releaseNotifications(""))
	if s.disconnectSub != nil {
		errs = append(errs, s.disconnectSub.Unsubscribe())
	}

	s.tracker.Close()
	s.readings.Close()
	s.scans.Close()

	s.logger.Debug("Session closed")
	return errors.Join(errs...)
}

// connect runs discovery for one attempt. It executes on its own goroutine.
func (s *Session) connect(ctx context.Context, attempt Attempt, p device.Peripheral) {
	logger := s.logger.WithFields(logrus.Fields{
		"address": p.Address(),
		"attempt": attempt,
	})

	services, err := s.central.DiscoverServices(ctx, p)
	var outcome Outcome
	if err != nil {
		outcome = s.tracker.ServiceDiscoveryFailed(attempt, device.NewStageError(device.StageServiceDiscovery, p.Address(), err))
	} else {
		outcome = s.tracker.ServicesDiscovered(attempt, services)
	}

	switch outcome {
	case OutcomeConnected:
	case OutcomeLate:
		// Whatever link the late result established is not wanted any more.
		if err := s.central.Disconnect(p); err != nil {
			logger.WithError(err).Debug("Failed to drop link after late discovery result")
		}
		return
	default:
		return
	}

	svc, err := s.selectService(services)
	if err != nil {
		s.tracker.Fail(p, err)
		return
	}
	logger = logger.WithField("service", svc.UUID())

	chars, err := s.central.DiscoverCharacteristics(ctx, svc)
	if err != nil {
		s.tracker.Fail(p, device.NewStageError(device.StageCharacteristicDiscovery, p.Address(), err))
		return
	}
	logger.WithField("characteristics", len(chars)).Debug("Characteristics discovered")

	for _, c := range chars {
		if ctx.Err() != nil {
			return
		}
		s.readCharacteristic(ctx, p, c, logger)
	}
}

// readCharacteristic reads c once and decodes the result. Once c yields an
// Address value, notifications are enabled on it.
func (s *Session) readCharacteristic(ctx context.Context, p device.Peripheral, c device.Characteristic, logger *logrus.Entry) {
	logger = logger.WithField("characteristic", c.UUID())

	value, err := s.central.ReadValue(ctx, c)
	if err != nil {
		// A single unreadable characteristic does not stop the others.
		s.tracker.Fail(p, device.NewStageError(device.StageRead, p.Address(), err))
		return
	}

	v, ok := s.readings.DecodeAndPublish(value)
	if !ok {
		logger.WithField("length", len(value)).Debug("Dropping value of unrecognized length")
		return
	}
	logger.WithField("kind", v.Kind().String()).Debug("Value decoded")

	if v.Kind() == payload.KindAddress {
		s.observe(p, c, logger)
	}
}

// observe enables notifications on c unless already enabled.
func (s *Session) observe(p device.Peripheral, c device.Characteristic, logger *logrus.Entry) {
	key := notificationKey(p, c)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, exists := s.notifications[key]; exists {
		return
	}

	sub, err := s.central.ObserveValueUpdates(c, func(u device.ValueUpdate) {
		if u.Err != nil {
			s.tracker.Fail(p, device.NewStageError(device.StageNotification, p.Address(), u.Err))
			return
		}
		if _, ok := s.readings.DecodeAndPublish(u.Value); !ok {
			logger.WithField("length", len(u.Value)).Debug("Dropping notification of unrecognized length")
		}
	})
	if err != nil {
		s.tracker.Fail(p, device.NewStageError(device.StageNotification, p.Address(), err))
		return
	}

	s.notifications[key] = &notification{address: p.Address(), sub: sub}
	logger.Debug("Notifications enabled")
}

// selectService picks the configured service or, without one, the first discovered.
func (s *Session) selectService(services []device.Service) (device.Service, error) {
	if s.opts.ServiceUUID == "" {
		return services[0], nil
	}
	for _, svc := range services {
		if device.SameUUID(svc.UUID(), s.opts.ServiceUUID) {
			return svc, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{s.opts.ServiceUUID}}
}

// handleDisconnect receives disconnection notices from the stack.
func (s *Session) handleDisconnect(info device.DisconnectionInfo) {
	if err := s.releaseNotifications(info.Address); err != nil {
		s.logger.WithError(err).WithField("address", info.Address).Debug("Failed to release notifications")
	}
	s.tracker.Disconnected(info)
}

// releaseNotifications unsubscribes every notification for address, or all of
// them when address is empty.
func (s *Session) releaseNotifications(address string) error {
	s.mu.Lock()
	var released []*notification
	for key, n := range s.notifications {
		if address == "" || n.address == address {
			released = append(released, n)
			delete(s.notifications, key)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, n := range released {
		if err := n.sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func notificationKey(p device.Peripheral, c device.Characteristic) string {
	key := p.Address() + "/"
	if svc := c.Service(); svc != nil {
		key += device.NormalizeUUID(svc.UUID())
	}
	return key + "/" + device.NormalizeUUID(c.UUID())
}
