package embedstage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/embeddings"
	"citegraph/internal/provenance"
)

type countingProvider struct {
	inner embeddings.Provider
	calls int
	fail  bool
}

func (c *countingProvider) Name() string                      { return "counting" }
func (c *countingProvider) Dimension() int                    { return c.inner.Dimension() }
func (c *countingProvider) Health(ctx context.Context) error  { return nil }

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("provider down")
	}
	return c.inner.EmbedBatch(ctx, texts)
}

func someChunks(n int) []provenance.Chunk {
	out := make([]provenance.Chunk, n)
	for i := range out {
		out[i] = provenance.Chunk{ChunkID: fmt.Sprintf("c%d", i), Text: fmt.Sprintf("chunk text %d", i)}
	}
	return out
}

func TestEmbedBatches(t *testing.T) {
	p := &countingProvider{inner: embeddings.NewDeterministic(32)}
	chunks, calls, err := Embed(context.Background(), p, someChunks(70), 32)
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "70 chunks at batch size 32 is 3 provider calls")
	for _, c := range chunks {
		assert.Len(t, c.Embedding, 32)
	}
}

func TestEmbedSkipsAlreadyEmbedded(t *testing.T) {
	p := &countingProvider{inner: embeddings.NewDeterministic(4)}
	chunks := someChunks(3)
	chunks[1].Embedding = []float32{1, 2, 3, 4}

	_, _, err := Embed(context.Background(), p, chunks, 32)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, chunks[1].Embedding, "existing vector untouched")
	assert.Equal(t, 1, p.calls)
}

func TestEmbedWrongDimensionReembeds(t *testing.T) {
	p := &countingProvider{inner: embeddings.NewDeterministic(4)}
	chunks := someChunks(1)
	chunks[0].Embedding = []float32{1, 2} // stale dimensionality

	out, _, err := Embed(context.Background(), p, chunks, 32)
	require.NoError(t, err)
	assert.Len(t, out[0].Embedding, 4)
}

func TestEmbedProviderFailureFailsStage(t *testing.T) {
	p := &countingProvider{inner: embeddings.NewDeterministic(4), fail: true}
	_, _, err := Embed(context.Background(), p, someChunks(2), 32)
	assert.Error(t, err)
}

func TestEmbedNothingPending(t *testing.T) {
	p := &countingProvider{inner: embeddings.NewDeterministic(4)}
	chunks := []provenance.Chunk{{ChunkID: "c", Text: "t", Embedding: []float32{1, 2, 3, 4}}}
	_, calls, err := Embed(context.Background(), p, chunks, 32)
	require.NoError(t, err)
	assert.Zero(t, calls)
}
