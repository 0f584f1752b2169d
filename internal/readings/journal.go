// Package readings keeps a bounded history of decoded payload values and the
// latest value of every field kind.
package readings

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/breathble/internal/payload"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// DefaultHistory is the history size used when none is given.
	DefaultHistory = 64
	// MaxHistory caps the history size to guard against misconfiguration.
	MaxHistory = 1 << 16
)

// Entry is one recorded value.
type Entry struct {
	Seq   uint64
	At    time.Time
	Value payload.Value
}

// Journal records decoded values. History overflow drops the oldest entries.
// All methods are safe for concurrent use.
type Journal struct {
	history mpmc.RichOverlappedRingBuffer[Entry]
	now     func() time.Time

	mu     sync.Mutex
	latest *orderedmap.OrderedMap[payload.FieldKind, Entry]

	seq         atomic.Uint64
	overwritten atomic.Uint64
}

// NewJournal creates a Journal keeping about size entries of history.
// A non-positive size means DefaultHistory.
func NewJournal(size int) (*Journal, error) {
	if size <= 0 {
		size = DefaultHistory
	}
	if size > MaxHistory {
		return nil, fmt.Errorf("history size %d exceeds maximum %d", size, MaxHistory)
	}
	return &Journal{
		history: mpmc.NewOverlappedRingBuffer[Entry](uint32(size)),
		now:     time.Now,
		latest:  orderedmap.New[payload.FieldKind, Entry](),
	}, nil
}

// Record appends v to the history and makes it the latest value of its kind.
func (j *Journal) Record(v payload.Value) error {
	if v == nil {
		return nil
	}
	e := Entry{Seq: j.seq.Add(1), At: j.now(), Value: v}

	overwrites, err := j.history.EnqueueM(e)
	if err != nil {
		return fmt.Errorf("unexpected history enqueue error: %w", err)
	}
	j.overwritten.Add(uint64(overwrites))

	j.mu.Lock()
	j.latest.Set(v.Kind(), e)
	j.mu.Unlock()
	return nil
}

// Collect records every value received from values until the channel is
// closed or ctx ends.
func (j *Journal) Collect(ctx context.Context, values <-chan payload.Value) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-values:
			if !ok {
				return nil
			}
			if err := j.Record(v); err != nil {
				return err
			}
		}
	}
}

// Drain removes and returns the buffered history, oldest first.
func (j *Journal) Drain() ([]Entry, error) {
	var out []Entry
	for !j.history.IsEmpty() {
		e, err := j.history.Dequeue()
		if err != nil {
			return out, fmt.Errorf("history dequeue error: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Latest returns the most recent entry of every kind seen, in first-seen order.
func (j *Journal) Latest() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, 0, j.latest.Len())
	for pair := j.latest.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// LatestOf returns the most recent entry of kind k.
func (j *Journal) LatestOf(k payload.FieldKind) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latest.Get(k)
}

// Recorded is the number of values recorded so far.
func (j *Journal) Recorded() uint64 {
	return j.seq.Load()
}

// Overwritten is the number of history entries dropped on overflow.
func (j *Journal) Overwritten() uint64 {
	return j.overwritten.Load()
}
