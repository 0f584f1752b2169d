package session

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/breathble/internal/device"
	"github.com/srg/breathble/internal/stream"
)

// Attempt identifies one connect attempt. Discovery results carry the attempt
// they belong to, so results of an abandoned attempt can be told apart.
type Attempt uint64

// Outcome tells the caller what the tracker did with a discovery result.
type Outcome int

const (
	// OutcomeConnected means Connected was emitted and discovery may continue.
	OutcomeConnected Outcome = iota
	// OutcomeFailed means ConnectFailed was emitted for the current attempt.
	OutcomeFailed
	// OutcomeLate means the attempt had timed out; ConnectFailed with a
	// *device.LateEventError was emitted and the link should be dropped.
	OutcomeLate
	// OutcomeStale means the attempt already ended otherwise; nothing was emitted.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnected:
		return "connected"
	case OutcomeFailed:
		return "failed"
	case OutcomeLate:
		return "late"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// pendingConnection associates the peripheral being connected with its timeout timer.
type pendingConnection struct {
	attempt    Attempt
	peripheral device.Peripheral
	timeout    time.Duration
	timer      Timer
}

// Tracker converts connection lifecycle events into an ordered stream of
// device.ConnectionState transitions. It is a republisher, not a state holder:
// the only thing it keeps is the single pending connection and its timer.
//
// All methods are safe for concurrent use. Transitions are published while the
// tracker lock is held, so subscribers observe them in the order they happened.
type Tracker struct {
	mu       sync.Mutex
	clock    Clock
	logger   *logrus.Logger
	states   *stream.Broadcaster[device.ConnectionState]
	pending  *pendingConnection
	timedOut map[Attempt]device.Peripheral // awaiting a late result; at most one per address
	next     Attempt
	closed   bool
}

// NewTracker creates a Tracker. A nil clock means SystemClock.
func NewTracker(clock Clock, logger *logrus.Logger) *Tracker {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{
		clock:    clock,
		logger:   logger,
		states:   stream.NewBroadcaster[device.ConnectionState](),
		timedOut: make(map[Attempt]device.Peripheral),
	}
}

// Subscribe returns a handle receiving every transition emitted from now on.
func (t *Tracker) Subscribe(buffer int) *stream.Subscription[device.ConnectionState] {
	return t.states.Subscribe(buffer)
}

// StartConnect emits Connecting and arms the timeout timer.
// Only one connection may be pending; otherwise device.ErrAlreadyConnecting is returned.
func (t *Tracker) StartConnect(p device.Peripheral, timeout time.Duration) (Attempt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}
	if t.pending != nil {
		t.logger.WithFields(logrus.Fields{
			"address": p.Address(),
			"pending": t.pending.peripheral.Address(),
		}).Warn("Connect requested while another connection is pending")
		return 0, &device.LinkError{Condition: device.AlreadyConnecting, Msg: t.pending.peripheral.Address()}
	}

	// A new attempt supersedes timed-out attempts to the same address; their
	// results become stale, so the map only grows with distinct addresses.
	for attempt, old := range t.timedOut {
		if strings.EqualFold(old.Address(), p.Address()) {
			delete(t.timedOut, attempt)
		}
	}

	t.next++
	pc := &pendingConnection{attempt: t.next, peripheral: p, timeout: timeout}
	t.emit(device.Connecting{Peripheral: p, Timeout: timeout})

	attempt := pc.attempt
	pc.timer = t.clock.AfterFunc(timeout, func() { t.expire(attempt) })
	t.pending = pc

	t.logger.WithFields(logrus.Fields{
		"address": p.Address(),
		"timeout": timeout,
		"attempt": attempt,
	}).Debug("Connect timer armed")
	return attempt, nil
}

// ServicesDiscovered reports a successful service discovery for attempt.
// With at least one service it emits Connected; with none it emits
// ConnectFailed(device.ErrNoServices).
func (t *Tracker) ServicesDiscovered(attempt Attempt, services []device.Service) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, outcome := t.resolve(attempt, nil)
	if pc == nil {
		return outcome
	}

	if len(services) == 0 {
		t.emit(device.ConnectFailed{
			Peripheral: pc.peripheral,
			Err:        device.NewStageError(device.StageServiceDiscovery, pc.peripheral.Address(), device.ErrNoServices),
		})
		return OutcomeFailed
	}

	t.logger.WithFields(logrus.Fields{
		"address":  pc.peripheral.Address(),
		"services": len(services),
	}).Debug("Services discovered")
	t.emit(device.Connected{Peripheral: pc.peripheral})
	return OutcomeConnected
}

// ServiceDiscoveryFailed reports a failed service discovery for attempt.
func (t *Tracker) ServiceDiscoveryFailed(attempt Attempt, err error) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, outcome := t.resolve(attempt, err)
	if pc == nil {
		return outcome
	}

	t.emit(device.ConnectFailed{Peripheral: pc.peripheral, Err: err})
	return OutcomeFailed
}

// Fail emits ConnectFailed for an error raised after the connection was established
// (characteristic discovery, reads, notifications). It clears any pending connection to p.
func (t *Tracker) Fail(p device.Peripheral, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil && p != nil && t.pending.peripheral.Address() == p.Address() {
		t.cancelPending()
	}
	t.emit(device.ConnectFailed{Peripheral: p, Err: err})
}

// Disconnected handles a disconnection notice from the stack. It cancels the
// pending timer and always emits Disconnected.
func (t *Tracker) Disconnected(info device.DisconnectionInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil && (info.Address == "" || info.Address == t.pending.peripheral.Address()) {
		t.cancelPending()
	}
	for attempt, p := range t.timedOut {
		if info.Address == "" || p.Address() == info.Address {
			delete(t.timedOut, attempt)
		}
	}
	t.emit(device.Disconnected{Address: info.Address, Reason: info.Reason})
}

// Pending returns the peripheral of the pending connection, if any.
func (t *Tracker) Pending() (device.Peripheral, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return nil, false
	}
	return t.pending.peripheral, true
}

// Close stops the pending timer and closes every subscription.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.pending != nil {
		t.cancelPending()
	}
	t.states.Close()
}

// expire runs on the timer. It emits TimedOut only if attempt is still pending.
func (t *Tracker) expire(attempt Attempt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil || t.pending.attempt != attempt {
		return
	}
	pc := t.pending
	t.pending = nil
	t.timedOut[attempt] = pc.peripheral

	t.logger.WithFields(logrus.Fields{
		"address": pc.peripheral.Address(),
		"timeout": pc.timeout,
	}).Warn("Connect attempt timed out")
	t.emit(device.TimedOut{Peripheral: pc.peripheral, After: pc.timeout})
}

// resolve matches a discovery result to its attempt. For the current attempt it
// cancels the timer and returns the pending connection. For a timed-out attempt
// it emits the late-event failure. Caller must hold t.mu.
func (t *Tracker) resolve(attempt Attempt, err error) (*pendingConnection, Outcome) {
	if t.pending != nil && t.pending.attempt == attempt {
		pc := t.pending
		t.cancelPending()
		return pc, OutcomeConnected
	}

	if p, ok := t.timedOut[attempt]; ok {
		delete(t.timedOut, attempt)
		t.logger.WithFields(logrus.Fields{
			"address": p.Address(),
			"attempt": attempt,
		}).Warn("Service discovery result arrived after timeout")
		t.emit(device.ConnectFailed{
			Peripheral: p,
			Err:        &device.LateEventError{Stage: device.StageServiceDiscovery, Address: p.Address(), Err: err},
		})
		return nil, OutcomeLate
	}

	t.logger.WithField("attempt", attempt).Debug("Dropping discovery result of a finished attempt")
	return nil, OutcomeStale
}

// cancelPending stops the timer and destroys the pending connection. Caller must hold t.mu.
func (t *Tracker) cancelPending() {
	if t.pending.timer != nil {
		t.pending.timer.Stop()
	}
	t.pending = nil
}

// emit publishes a transition. Caller must hold t.mu.
func (t *Tracker) emit(s device.ConnectionState) {
	if t.closed {
		return
	}
	t.logger.WithField("state", s.String()).Info("Connection state changed")
	t.states.Publish(s)
}
