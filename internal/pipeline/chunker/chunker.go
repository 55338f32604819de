// Package chunker splits extracted text into overlapping, byte-addressable
// chunks cut at semantic boundaries.
package chunker

import (
	"strings"
	"unicode/utf8"

	"citegraph/internal/faults"
	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

// Options tune one chunking run.
type Options struct {
	ChunkSizeBytes int
	OverlapBytes   int
}

// Chunk walks the text emitting chunks of at most ChunkSizeBytes, preferring
// to cut at a paragraph break, then a sentence end, then a word break, and
// falling back to the hard bound when no boundary lies within the back-scan
// window. Consecutive chunks overlap by OverlapBytes; start offsets are
// strictly increasing so the walk always terminates. Multibyte codepoints are
// never split.
func Chunk(docID, text string, locs *provenance.LocationMap, opt Options) ([]provenance.Chunk, error) {
	size := opt.ChunkSizeBytes
	if size <= 0 {
		size = 1000
	}
	overlap := opt.OverlapBytes
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	if !utf8.ValidString(text) {
		return nil, faults.Newf(faults.DataIntegrity, "text is not valid UTF-8")
	}
	if len(text) == 0 {
		return nil, nil
	}

	var out []provenance.Chunk
	i := 0
	for i < len(text) {
		u := min(i+size, len(text))
		boundary := u
		if u < len(text) {
			boundary = semanticBoundary(text, i, u, size/2)
		}
		boundary = alignToRuneStart(text, boundary)
		if boundary <= i {
			// The back-scan collapsed onto the cursor; take the hard bound.
			boundary = alignToRuneStart(text, u)
			if boundary <= i {
				boundary = nextRuneStart(text, u)
			}
		}

		chunk := buildChunk(docID, text, i, boundary, locs)
		out = append(out, chunk)

		if boundary >= len(text) {
			break
		}
		next := alignToRuneStart(text, boundary-overlap)
		if next <= i {
			next = boundary
		}
		i = next
	}
	return out, nil
}

// semanticBoundary scans backwards from u for the latest boundary after
// u-window: a paragraph break wins over a sentence end, which wins over a
// word break.
func semanticBoundary(text string, lo, u, window int) int {
	floor := max(lo+1, u-window)
	region := text[floor:u]

	if idx := strings.LastIndex(region, "\n\n"); idx >= 0 {
		return floor + idx + 2
	}
	for j := len(region) - 1; j > 0; j-- {
		c := region[j]
		if c == ' ' || c == '\n' || c == '\t' {
			prev := region[j-1]
			if prev == '.' || prev == '?' || prev == '!' {
				return floor + j + 1
			}
		}
	}
	if idx := strings.LastIndexAny(region, " \n\t"); idx > 0 {
		return floor + idx + 1
	}
	return u
}

func buildChunk(docID, text string, start, end int, locs *provenance.LocationMap) provenance.Chunk {
	c := provenance.Chunk{
		ChunkID:     identity.ChunkID(docID, start),
		DocID:       docID,
		StartOffset: start,
		EndOffset:   end,
		Text:        text[start:end],
		TokenCount:  len(strings.Fields(text[start:end])),
	}
	if locs != nil {
		anchor := locs.Resolve(start)
		c.HeadingPath = anchor.HeadingPath
		c.PageNumber = anchor.PageNumber
		c.TimestampMS = anchor.TimestampMS
	}
	return c
}

func alignToRuneStart(text string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func nextRuneStart(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	i++
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}
