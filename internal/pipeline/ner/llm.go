package ner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"citegraph/internal/llm"
	"citegraph/internal/provenance"
)

// lowConfidenceFloor marks the tagger confidence below which the generative
// fallback re-examines a chunk.
const lowConfidenceFloor = 0.5

const llmTagPrompt = `Extract named entities from the text below. Reply with a JSON array only,
no prose. Each element: {"surface": "<exact substring>", "type": "<PERSON|ORG|GPE|LAW|DATE|PRODUCT|CONCEPT|TECH|OTHER>"}.
Only include entities whose surface appears verbatim in the text.

Text:
%s`

// FallbackTagger wraps a base tagger and re-examines chunks whose best span
// confidence stays under the floor, using the generative provider. Model
// spans win over low-confidence pattern spans at the same offsets.
type FallbackTagger struct {
	Base     Tagger
	Provider llm.Provider
}

func (t *FallbackTagger) Tag(ctx context.Context, text string) ([]Span, error) {
	spans, err := t.Base.Tag(ctx, text)
	if err != nil {
		return nil, err
	}
	best := 0.0
	for _, s := range spans {
		if s.Confidence > best {
			best = s.Confidence
		}
	}
	if best >= lowConfidenceFloor && len(spans) > 0 {
		return spans, nil
	}
	modelSpans, err := t.tagWithModel(ctx, text)
	if err != nil {
		// The base result stands when the model is unreachable; NER as a
		// whole fails only when it produced nothing at all.
		if len(spans) > 0 {
			return spans, nil
		}
		return nil, err
	}
	return mergeSpans(spans, modelSpans), nil
}

type llmEntity struct {
	Surface string `json:"surface"`
	Type    string `json:"type"`
}

func (t *FallbackTagger) tagWithModel(ctx context.Context, text string) ([]Span, error) {
	out, err := t.Provider.Generate(ctx, fmt.Sprintf(llmTagPrompt, text), llm.Options{
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}
	raw := extractJSONArray(out)
	var ents []llmEntity
	if err := json.Unmarshal([]byte(raw), &ents); err != nil {
		return nil, fmt.Errorf("parse model entities: %w", err)
	}
	var spans []Span
	for _, e := range ents {
		surface := strings.TrimSpace(e.Surface)
		if surface == "" {
			continue
		}
		// Anchor every verbatim occurrence, not just the first.
		for idx := 0; ; {
			rel := strings.Index(text[idx:], surface)
			if rel < 0 {
				break
			}
			start := idx + rel
			spans = append(spans, Span{
				Start:      start,
				End:        start + len(surface),
				Type:       parseEntityType(e.Type),
				Confidence: 0.75,
			})
			idx = start + len(surface)
		}
	}
	return spans, nil
}

// mergeSpans keeps base spans that don't collide with a model span.
func mergeSpans(base, model []Span) []Span {
	out := append([]Span(nil), model...)
	for _, b := range base {
		overlaps := false
		for _, m := range model {
			if b.Start < m.End && m.Start < b.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, b)
		}
	}
	return out
}

func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return "[]"
	}
	return s[start : end+1]
}

func parseEntityType(s string) provenance.EntityType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PERSON":
		return provenance.TypePerson
	case "ORG":
		return provenance.TypeOrg
	case "GPE":
		return provenance.TypeGPE
	case "LAW":
		return provenance.TypeLaw
	case "DATE":
		return provenance.TypeDate
	case "PRODUCT":
		return provenance.TypeProduct
	case "CONCEPT":
		return provenance.TypeConcept
	case "TECH":
		return provenance.TypeTech
	default:
		return provenance.TypeOther
	}
}
