package databases

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryVector is an in-memory VectorStore using cosine similarity. Suitable
// for tests and single-node runs.
type MemoryVector struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]memPoint
}

type memPoint struct {
	vector   []float32
	metadata map[string]string
}

// NewMemoryVector creates an empty store at a fixed dimensionality.
func NewMemoryVector(dimensions int) *MemoryVector {
	return &MemoryVector{
		dimension: dimensions,
		points:    make(map[string]memPoint),
	}
}

func (m *MemoryVector) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	if len(vector) != m.dimension {
		return fmt.Errorf("vector dimension %d does not match collection dimension %d", len(vector), m.dimension)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = memPoint{vector: vec, metadata: md}
	return nil
}

func (m *MemoryVector) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	return nil
}

func (m *MemoryVector) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]VectorResult, 0, len(m.points))
outer:
	for id, p := range m.points {
		for fk, fv := range filter {
			if p.metadata[fk] != fv {
				continue outer
			}
		}
		md := make(map[string]string, len(p.metadata))
		for mk, mv := range p.metadata {
			md[mk] = mv
		}
		results = append(results, VectorResult{
			ID:       id,
			Score:    cosine(vector, p.vector),
			Metadata: md,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryVector) Dimension() int { return m.dimension }

// Count returns the number of stored points.
func (m *MemoryVector) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
