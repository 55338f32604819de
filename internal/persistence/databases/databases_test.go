package databases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/provenance"
)

func TestMemoryVectorSearchAndFilter(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVector(3)

	require.NoError(t, v.Upsert(ctx, "a", []float32{1, 0, 0}, map[string]string{"tier": "A"}))
	require.NoError(t, v.Upsert(ctx, "b", []float32{0, 1, 0}, map[string]string{"tier": "B"}))
	require.NoError(t, v.Upsert(ctx, "c", []float32{0.9, 0.1, 0}, map[string]string{"tier": "A"}))

	hits, err := v.SimilaritySearch(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)

	hits, err = v.SimilaritySearch(ctx, []float32{0, 1, 0}, 5, map[string]string{"tier": "B"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestMemoryVectorRejectsWrongDimension(t *testing.T) {
	v := NewMemoryVector(3)
	err := v.Upsert(context.Background(), "a", []float32{1, 0}, nil)
	assert.Error(t, err)
}

func TestMemoryVectorUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVector(2)
	require.NoError(t, v.Upsert(ctx, "a", []float32{1, 0}, nil))
	require.NoError(t, v.Upsert(ctx, "a", []float32{1, 0}, nil))
	assert.Equal(t, 1, v.Count())
}

func TestMemoryGraphEdgeIdempotency(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraph()

	require.NoError(t, g.UpsertNode(ctx, "d1", []string{"Document"}, map[string]any{"title": "t"}))
	require.NoError(t, g.UpsertNode(ctx, "c1", []string{"Chunk"}, nil))
	require.NoError(t, g.UpsertEdge(ctx, "c1", "PART_OF", "d1", nil))
	require.NoError(t, g.UpsertEdge(ctx, "c1", "PART_OF", "d1", nil))

	neigh, err := g.Neighbors(ctx, "c1", "PART_OF")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, neigh)
	assert.Equal(t, 1, g.EdgeCount())
}

func TestMemoryGraphBatchRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraph()
	boom := errors.New("boom")

	err := g.Batch(ctx, func(tx GraphWriter) error {
		require.NoError(t, tx.UpsertNode(ctx, "n1", []string{"Entity"}, nil))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := g.GetNode(ctx, "n1")
	assert.False(t, ok, "failed batch must leave no writes behind")

	require.NoError(t, g.Batch(ctx, func(tx GraphWriter) error {
		require.NoError(t, tx.UpsertNode(ctx, "n1", []string{"Entity"}, nil))
		require.NoError(t, tx.UpsertNode(ctx, "n2", []string{"Entity"}, nil))
		return tx.UpsertEdge(ctx, "n1", "FOUNDED", "n2", map[string]any{"confidence": 0.9})
	}))
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
}

func TestMemoryGraphDeleteNodeRemovesEdges(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraph()
	require.NoError(t, g.UpsertNode(ctx, "a", nil, nil))
	require.NoError(t, g.UpsertNode(ctx, "b", nil, nil))
	require.NoError(t, g.UpsertEdge(ctx, "a", "REL", "b", nil))

	require.NoError(t, g.DeleteNode(ctx, "b"))
	assert.Equal(t, 0, g.EdgeCount())
}

func TestMemoryJobsEventOrderAndIdempotency(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobs()
	now := time.Now()

	for _, seq := range []int64{2, 0, 1, 1} {
		require.NoError(t, s.AppendEvent(ctx, provenance.ProgressEvent{
			JobID: "j1", Seq: seq, EmittedAt: now, Stage: provenance.StageExtract,
		}))
	}
	evs, err := s.ListEvents(ctx, "j1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	for i, ev := range evs {
		assert.Equal(t, int64(i), ev.Seq)
	}

	evs, err = s.ListEvents(ctx, "j1", 2)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(2), evs[0].Seq)
}

func TestMemoryJobsRequeueAbandoned(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobs()
	now := time.Now()

	require.NoError(t, s.CreateJob(ctx, provenance.Job{JobID: "stale", Status: provenance.JobTransforming, AttemptCount: 1}))
	require.NoError(t, s.CreateJob(ctx, provenance.Job{JobID: "fresh", Status: provenance.JobExtracting}))
	require.NoError(t, s.CreateJob(ctx, provenance.Job{JobID: "done", Status: provenance.JobCompleted}))

	require.NoError(t, s.Heartbeat(ctx, "stale", now.Add(-10*time.Minute)))
	require.NoError(t, s.Heartbeat(ctx, "fresh", now))

	ids, err := s.RequeueAbandoned(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, ids)

	j, ok, err := s.GetJob(ctx, "stale")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, provenance.JobQueued, j.Status)
	assert.Equal(t, 1, j.AttemptCount, "requeue must not consume an attempt")
}

func TestMemoryJobsDocumentMetaCreateOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobs()
	doc := provenance.Document{DocID: "d1", URL: "https://example.com/a", IngestedAt: time.Now()}

	created, err := s.UpsertDocumentMeta(ctx, doc)
	require.NoError(t, err)
	assert.True(t, created)

	later := doc
	later.IngestedAt = doc.IngestedAt.Add(time.Hour)
	created, err = s.UpsertDocumentMeta(ctx, later)
	require.NoError(t, err)
	assert.False(t, created)

	got, ok, err := s.GetDocumentMeta(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc.IngestedAt, got.IngestedAt, "re-ingestion must not change ingested_at")
}

func TestMemoryCachePubSub(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	ch, cancel := c.Subscribe(ctx, "job:x")
	defer cancel()

	require.NoError(t, c.Publish(ctx, "job:x", []byte("hello")))
	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k2", []byte("v2"), 0))
	val, ok, err := c.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(val))
}
