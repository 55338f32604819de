// Package objectstore holds raw sources, extracted text, and location maps.
// Keys are tier-prefixed so quality buckets can live under distinct storage
// policies. Implementations must be safe for concurrent use.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"

	"citegraph/internal/provenance"
)

// Errors returned by ObjectStore implementations.
var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("access denied")
)

// ObjectAttrs contains metadata about a stored object.
type ObjectAttrs struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PutOptions configures Put behavior.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is the blob capability of the store facade.
type ObjectStore interface {
	// Get retrieves an object. Returns ErrNotFound when absent; the caller
	// must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error)
	// Put stores an object and returns its ETag. Puts are idempotent: the
	// same key and bytes may be written any number of times.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (string, error)
	// Delete removes an object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Head returns metadata without the body. Returns ErrNotFound when absent.
	Head(ctx context.Context, key string) (ObjectAttrs, error)
	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// RawKey addresses the original source bytes of a document.
func RawKey(tier provenance.Tier, docID string) string {
	return "tier-" + string(tier) + "/" + docID + "/raw"
}

// TextKey addresses the extracted UTF-8 text.
func TextKey(tier provenance.Tier, docID string) string {
	return "tier-" + string(tier) + "/" + docID + "/text"
}

// LocMapKey addresses the serialized location map.
func LocMapKey(tier provenance.Tier, docID string) string {
	return "tier-" + string(tier) + "/" + docID + "/locmap.json"
}
