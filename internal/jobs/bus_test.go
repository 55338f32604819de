package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/persistence/databases"
	"citegraph/internal/provenance"
)

func collect(t *testing.T, ch <-chan provenance.ProgressEvent, n int) []provenance.ProgressEvent {
	t.Helper()
	var out []provenance.ProgressEvent
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestBusSeqStrictlyIncreasingFromZero(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(databases.NewMemoryJobs(), nil)

	for i, stage := range []provenance.Stage{provenance.StageQueued, provenance.StageExtract, provenance.StageChunk} {
		ev, err := bus.Emit(ctx, "j1", stage, i*10, "msg", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(i), ev.Seq)
	}
}

func TestBusPercentMonotone(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(databases.NewMemoryJobs(), nil)

	_, err := bus.Emit(ctx, "j1", provenance.StageChunk, 30, "", nil)
	require.NoError(t, err)
	ev, err := bus.Emit(ctx, "j1", provenance.StageNER, 10, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 30, ev.Percent, "percent never decreases")

	ev, err = bus.Emit(ctx, "j1", provenance.StageError, -1, "boom", nil)
	require.NoError(t, err)
	assert.Equal(t, 30, ev.Percent, "terminal event freezes percent")
}

func TestBusSubscribeReplayThenLive(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(databases.NewMemoryJobs(), nil)

	_, err := bus.Emit(ctx, "j1", provenance.StageQueued, 0, "queued", nil)
	require.NoError(t, err)
	_, err = bus.Emit(ctx, "j1", provenance.StageExtract, 15, "extracted", nil)
	require.NoError(t, err)

	ch, cancel, err := bus.Subscribe(ctx, "j1", 0)
	require.NoError(t, err)
	defer cancel()

	_, err = bus.Emit(ctx, "j1", provenance.StageChunk, 30, "chunked", nil)
	require.NoError(t, err)
	_, err = bus.Emit(ctx, "j1", provenance.StageComplete, 100, "done", nil)
	require.NoError(t, err)

	evs := collect(t, ch, 4)
	require.Len(t, evs, 4)
	for i, ev := range evs {
		assert.Equal(t, int64(i), ev.Seq, "no gaps, no duplicates")
	}
	assert.Equal(t, provenance.StageComplete, evs[3].Stage)

	_, open := <-ch
	assert.False(t, open, "stream closes after the terminal event")
}

func TestBusSubscribeFromSeq(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(databases.NewMemoryJobs(), nil)

	for i := 0; i < 5; i++ {
		_, err := bus.Emit(ctx, "j1", provenance.StageExtract, i*10, "", nil)
		require.NoError(t, err)
	}
	_, err := bus.Emit(ctx, "j1", provenance.StageComplete, 100, "", nil)
	require.NoError(t, err)

	ch, cancel, err := bus.Subscribe(ctx, "j1", 3)
	require.NoError(t, err)
	defer cancel()

	evs := collect(t, ch, 3)
	require.Len(t, evs, 3)
	assert.Equal(t, int64(3), evs[0].Seq)
	assert.Equal(t, int64(5), evs[2].Seq)
}

func TestBusIndependentSubscribers(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(databases.NewMemoryJobs(), nil)

	ch1, cancel1, err := bus.Subscribe(ctx, "j1", 0)
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := bus.Subscribe(ctx, "j1", 0)
	require.NoError(t, err)
	defer cancel2()

	_, err = bus.Emit(ctx, "j1", provenance.StageComplete, 100, "", nil)
	require.NoError(t, err)

	assert.Len(t, collect(t, ch1, 1), 1)
	assert.Len(t, collect(t, ch2, 1), 1)
}

func TestBusPublishesToCacheTopic(t *testing.T) {
	ctx := context.Background()
	cache := databases.NewMemoryCache()
	bus := NewBus(databases.NewMemoryJobs(), cache)

	msgs, cancel := cache.Subscribe(ctx, Topic("j1"))
	defer cancel()

	_, err := bus.Emit(ctx, "j1", provenance.StageQueued, 0, "queued", nil)
	require.NoError(t, err)

	select {
	case payload := <-msgs:
		assert.Contains(t, string(payload), `"QUEUED"`)
	case <-time.After(time.Second):
		t.Fatal("no cache publication")
	}
}
