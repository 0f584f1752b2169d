package readings_test

import (
	"context"
	"testing"

	"github.com/srg/breathble/internal/payload"
	"github.com/srg/breathble/internal/readings"
	"github.com/srg/breathble/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalLatestKeepsFirstSeenOrder(t *testing.T) {
	// GOAL: Verify the latest snapshot holds one entry per kind in first-seen order
	//
	// TEST SCENARIO: usage, battery, usage, address recorded → three entries, usage first with its newest value

	j, err := readings.NewJournal(8)
	require.NoError(t, err)

	for _, v := range []payload.Value{
		payload.UsageCount(1),
		payload.Battery(90),
		payload.UsageCount(2),
		payload.Address("AA:BB:CC:DD:EE:FF0"),
	} {
		require.NoError(t, j.Record(v))
	}

	latest := j.Latest()
	require.Len(t, latest, 3)
	assert.Equal(t, payload.UsageCount(2), latest[0].Value)
	assert.Equal(t, payload.Battery(90), latest[1].Value)
	assert.Equal(t, payload.Address("AA:BB:CC:DD:EE:FF0"), latest[2].Value)
	assert.Equal(t, uint64(3), latest[0].Seq)
	assert.False(t, latest[0].At.IsZero())

	e, ok := j.LatestOf(payload.KindBattery)
	require.True(t, ok)
	assert.Equal(t, payload.Battery(90), e.Value)

	_, ok = j.LatestOf(payload.KindAlcoholContent)
	assert.False(t, ok)
	assert.Equal(t, uint64(4), j.Recorded())
}

func TestJournalDrain(t *testing.T) {
	j, err := readings.NewJournal(8)
	require.NoError(t, err)

	require.NoError(t, j.Record(payload.Battery(1)))
	require.NoError(t, j.Record(payload.AlcoholContent(0.08)))
	require.NoError(t, j.Record(nil))

	entries, err := j.Drain()
	require.NoError(t, err)
	require.Len(t, entries, 2, "nil values MUST NOT be recorded")
	assert.Equal(t, payload.Battery(1), entries[0].Value)
	assert.Equal(t, payload.AlcoholContent(0.08), entries[1].Value)

	entries, err = j.Drain()
	require.NoError(t, err)
	assert.Empty(t, entries, "Drain MUST consume the history")
	assert.Len(t, j.Latest(), 2, "Drain MUST NOT touch the latest snapshot")
}

func TestJournalOverflowDropsOldest(t *testing.T) {
	// GOAL: Verify a full history overwrites the oldest entries instead of failing
	//
	// TEST SCENARIO: size 4 → 10 values recorded → drained entries are the newest ones in order

	j, err := readings.NewJournal(4)
	require.NoError(t, err)

	for i := range 10 {
		require.NoError(t, j.Record(payload.Battery(i)))
	}

	entries, err := j.Drain()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Less(t, len(entries), 10, "oldest entries MUST be dropped")
	assert.Equal(t, payload.Battery(9), entries[len(entries)-1].Value)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Seq+1, entries[i].Seq, "entries MUST be contiguous and ordered")
	}
	assert.Equal(t, uint64(10), j.Recorded())
}

func TestJournalLimits(t *testing.T) {
	_, err := readings.NewJournal(readings.MaxHistory + 1)
	assert.Error(t, err)

	j, err := readings.NewJournal(0)
	require.NoError(t, err)
	assert.NotNil(t, j)
}

func TestJournalCollect(t *testing.T) {
	// GOAL: Verify Collect records a value stream until it closes
	//
	// TEST SCENARIO: Publisher → Values subscription → Collect → publish three values → close → all recorded

	j, err := readings.NewJournal(8)
	require.NoError(t, err)

	pub := payload.NewPublisher()
	sub := pub.Values(8)

	done := make(chan error, 1)
	go func() { done <- j.Collect(context.Background(), sub.C()) }()

	pub.Publish(payload.Battery(50))
	pub.Publish(payload.UsageCount(7))
	pub.Publish(payload.Battery(49))
	pub.Close()

	require.NoError(t, <-done)
	assert.Equal(t, uint64(3), j.Recorded())
	latest := j.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, payload.Battery(49), latest[0].Value)
}

func TestJournalCollectStopsOnCancel(t *testing.T) {
	j, err := readings.NewJournal(8)
	require.NoError(t, err)

	b := stream.NewBroadcaster[payload.Value]()
	sub := b.Subscribe(1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, j.Collect(ctx, sub.C()), context.Canceled)
}
