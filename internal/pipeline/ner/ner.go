// Package ner extracts typed entity mentions with byte spans from chunks.
// The pattern tagger is always available; an ONNX token-classification tagger
// and a generative-model fallback can be layered on per configuration.
package ner

import (
	"context"
	"sort"
	"unicode/utf8"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

// Span is a typed range inside the tagged text, in bytes.
type Span struct {
	Start      int
	End        int
	Type       provenance.EntityType
	Confidence float64
}

// Tagger produces spans for one text.
type Tagger interface {
	Tag(ctx context.Context, text string) ([]Span, error)
}

// Result is the stage output for one chunk.
type Result struct {
	Mentions []provenance.Mention
	// SkippedBadUnicode counts chunks dropped for malformed text.
	SkippedBadUnicode int
}

// Extract runs the tagger over one chunk and materializes mention records.
// An empty or whitespace-only chunk yields zero mentions; malformed unicode
// skips the chunk with a warning counter instead of failing the stage.
// Mentions at identical offsets with identical normalized text collapse by
// mention_id.
func Extract(ctx context.Context, chunk provenance.Chunk, tagger Tagger) (Result, error) {
	if len(chunk.Text) == 0 {
		return Result{}, nil
	}
	if !utf8.ValidString(chunk.Text) {
		return Result{SkippedBadUnicode: 1}, nil
	}
	spans, err := tagger.Tag(ctx, chunk.Text)
	if err != nil {
		return Result{}, err
	}

	seen := make(map[string]int) // mention_id → index into out
	var out []provenance.Mention
	for _, s := range spans {
		if s.Start < 0 || s.End > len(chunk.Text) || s.Start >= s.End {
			continue
		}
		surface := chunk.Text[s.Start:s.End]
		id := identity.MentionID(chunk.ChunkID, identity.NormalizeSurface(surface), s.Start)
		if i, dup := seen[id]; dup {
			if s.Confidence > out[i].Confidence {
				out[i].Confidence = s.Confidence
				out[i].EntityType = s.Type
			}
			continue
		}
		seen[id] = len(out)
		out = append(out, provenance.Mention{
			MentionID:    id,
			ChunkID:      chunk.ChunkID,
			SurfaceText:  surface,
			EntityType:   s.Type,
			StartInChunk: s.Start,
			EndInChunk:   s.End,
			Confidence:   s.Confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartInChunk < out[j].StartInChunk })
	return Result{Mentions: out}, nil
}
