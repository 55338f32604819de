// Package databases holds the pluggable store backends behind the facade:
// vector search, the document graph, relational job records, and the cache.
// The facade is the only layer that knows backend specifics; everything is
// keyed by deterministic IDs so replayed writes are no-ops.
package databases

import (
	"context"
	"time"

	"citegraph/internal/provenance"
)

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string
	Score    float64 // higher is closer
	Metadata map[string]string
}

// VectorStore is the vector capability. Dimensionality is fixed at collection
// creation and must match the embedding provider.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
	Dimension() int
}

// Node is a graph node.
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// GraphWriter is the write surface available inside and outside a batch.
type GraphWriter interface {
	UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error
	UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error
	DeleteNode(ctx context.Context, id string) error
}

// GraphDB is the graph capability. Batch runs fn's writes inside one
// transaction; any error rolls the whole batch back.
type GraphDB interface {
	GraphWriter
	Neighbors(ctx context.Context, id string, rel string) ([]string, error)
	GetNode(ctx context.Context, id string) (Node, bool)
	NodesByLabel(ctx context.Context, label string) ([]Node, error)
	Batch(ctx context.Context, fn func(tx GraphWriter) error) error
}

// Cache is the typed key/value + pub/sub capability. Delivery on Subscribe is
// at-least-once; consumers dedupe on their own idempotency keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns a channel of payloads and a cancel func that closes it.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func())
}

// JobStore is the relational capability: job records, the append-only
// progress log, and document metadata rows.
type JobStore interface {
	CreateJob(ctx context.Context, job provenance.Job) error
	GetJob(ctx context.Context, jobID string) (provenance.Job, bool, error)
	UpdateJob(ctx context.Context, job provenance.Job) error
	Heartbeat(ctx context.Context, jobID string, at time.Time) error
	// RequeueAbandoned flips running jobs whose last heartbeat is older than
	// cutoff back to QUEUED without touching attempt_count. Returns the IDs.
	RequeueAbandoned(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// AppendEvent persists an already-sequenced progress event. The
	// (job_id, seq) pair is unique; replays are no-ops.
	AppendEvent(ctx context.Context, ev provenance.ProgressEvent) error
	// ListEvents returns events with seq >= fromSeq in seq order.
	ListEvents(ctx context.Context, jobID string, fromSeq int64) ([]provenance.ProgressEvent, error)
	PruneEventsOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	UpsertDocumentMeta(ctx context.Context, doc provenance.Document) (created bool, err error)
	GetDocumentMeta(ctx context.Context, docID string) (provenance.Document, bool, error)
}

// Manager bundles the resolved backends.
type Manager struct {
	Vector VectorStore
	Graph  GraphDB
	Jobs   JobStore
	Cache  Cache
}

// Close closes any backend that exposes a Close method.
func (m Manager) Close() {
	for _, c := range []any{m.Vector, m.Graph, m.Jobs, m.Cache} {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
