// Package extract turns a URL into raw bytes, UTF-8 text, and a location map
// that anchors every byte offset to a page, timestamp, or heading.
package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"citegraph/internal/faults"
	"citegraph/internal/provenance"
)

// Extractor handles one source kind.
type Extractor interface {
	// Kind names the source family this extractor produces.
	Kind() provenance.SourceKind
	// Matches reports whether this extractor wants the URL.
	Matches(url string) bool
	// Validate checks the URL before any job is enqueued for it.
	Validate(url string) error
	// Extract fetches and converts the source. The returned location map
	// covers [0, len(text)).
	Extract(ctx context.Context, url string) (provenance.Extraction, error)
}

// Registry resolves a URL to the first matching extractor. Registration is
// explicit at startup; order decides ties.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a registry over the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// Resolve returns the extractor for url, or a validation fault when no
// extractor matches.
func (r *Registry) Resolve(url string) (Extractor, error) {
	for _, ex := range r.extractors {
		if ex.Matches(url) {
			return ex, nil
		}
	}
	return nil, faults.Newf(faults.Validation, "no extractor for %q", url)
}

// hasExtension reports whether the URL path ends in one of exts (lowercase,
// dot included), ignoring query and fragment.
func hasExtension(url string, exts ...string) bool {
	u := strings.ToLower(url)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	for _, ext := range exts {
		if strings.HasSuffix(u, ext) {
			return true
		}
	}
	return false
}

// checkText guards the extractor contract: text must be valid UTF-8 and
// non-empty after trimming.
func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return faults.Newf(faults.Validation, "source produced no text content")
	}
	if !utf8.ValidString(text) {
		return faults.Newf(faults.DataIntegrity, "extracted text is not valid UTF-8")
	}
	return nil
}
