// Package embedstage vectorizes chunks in provider batches. The stage is
// idempotent: chunks already carrying a vector of the configured
// dimensionality are skipped; a provider failure fails the whole stage so no
// partial vectors reach the store.
package embedstage

import (
	"context"
	"fmt"

	"citegraph/internal/embeddings"
	"citegraph/internal/faults"
	"citegraph/internal/provenance"
)

// minBatch is the smallest batch sent to a provider when enough chunks are
// pending; providers price and rate-limit per call, not per text.
const minBatch = 32

// Embed fills Embedding on every chunk lacking one. The input slice is
// modified in place and returned; the second result counts provider calls.
func Embed(ctx context.Context, provider embeddings.Provider, chunks []provenance.Chunk, batchSize int) ([]provenance.Chunk, int, error) {
	if batchSize < minBatch {
		batchSize = minBatch
	}
	dim := provider.Dimension()

	var pending []int
	for i := range chunks {
		if len(chunks[i].Embedding) == dim {
			continue
		}
		pending = append(pending, i)
	}

	calls := 0
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = chunks[idx].Text
		}
		vecs, err := provider.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, calls, err
		}
		calls++
		if len(vecs) != len(batch) {
			return nil, calls, faults.Newf(faults.Transient, "provider returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for j, idx := range batch {
			if len(vecs[j]) != dim {
				return nil, calls, faults.New(faults.DataIntegrity,
					fmt.Errorf("vector dimension %d does not match provider dimension %d", len(vecs[j]), dim))
			}
			chunks[idx].Embedding = vecs[j]
		}
	}
	return chunks, calls, nil
}
