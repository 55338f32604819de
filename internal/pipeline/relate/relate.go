// Package relate proposes typed, evidence-backed relations between linked
// entities co-occurring in a chunk. Dependency-pattern templates produce
// candidates; an optional budget-mode model verifier refines them.
package relate

import (
	"context"
	"regexp"
	"sort"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

// pattern is one template over the text between two mentions.
type pattern struct {
	re         *regexp.Regexp
	predicate  provenance.Predicate
	confidence float64
	// reversed swaps subject and object (passive constructions).
	reversed bool
	// objectType restricts the object mention's entity type, "" for any.
	objectType provenance.EntityType
}

var patterns = []pattern{
	{re: regexp.MustCompile(`(?i)\b(?:was|were)\s+founded\s+by\b`), predicate: provenance.PredFounded, confidence: 0.85, reversed: true},
	{re: regexp.MustCompile(`(?i)\bfounded\b`), predicate: provenance.PredFounded, confidence: 0.80},
	{re: regexp.MustCompile(`(?i)\b(?:co-?founder|founder)\s+of\b`), predicate: provenance.PredFounded, confidence: 0.80},
	{re: regexp.MustCompile(`(?i)\b(?:works?\s+(?:at|for)|employed\s+(?:at|by)|joined|hired\s+by)\b`), predicate: provenance.PredEmployedBy, confidence: 0.80},
	{re: regexp.MustCompile(`(?i)\b(?:ceo|cto|president|director|engineer|head)\s+(?:of|at)\b`), predicate: provenance.PredEmployedBy, confidence: 0.75},
	{re: regexp.MustCompile(`(?i)\b(?:based|located|headquartered)\s+in\b`), predicate: provenance.PredLocatedIn, confidence: 0.85, objectType: provenance.TypeGPE},
	{re: regexp.MustCompile(`(?i)\bmoved\s+to\b`), predicate: provenance.PredLocatedIn, confidence: 0.70, objectType: provenance.TypeGPE},
	{re: regexp.MustCompile(`(?i)\b(?:cites|cited|quoting|according\s+to)\b`), predicate: provenance.PredCites, confidence: 0.75},
	{re: regexp.MustCompile(`(?i)\b(?:subsidiary|division|unit|part)\s+of\b`), predicate: provenance.PredPartOf, confidence: 0.85},
	{re: regexp.MustCompile(`(?i)\b(?:written|authored)\s+by\b`), predicate: provenance.PredAuthoredBy, confidence: 0.80},
	{re: regexp.MustCompile(`(?i)\bwrote\b`), predicate: provenance.PredAuthoredBy, confidence: 0.75, reversed: true},
}

// maxPairGap bounds the byte distance between two mentions considered for a
// relation; connectors rarely span further in one sentence.
const maxPairGap = 200

// Verifier answers whether the evidence supports the claim.
type Verifier interface {
	Verify(ctx context.Context, subject, predicate, object, evidence string) (bool, error)
}

// Options tune extraction.
type Options struct {
	// ConfidenceThreshold drops proposals scoring below it.
	ConfidenceThreshold float64
	// Verifier optionally re-checks each proposal; nil skips verification.
	Verifier Verifier
}

// Extract proposes relations for one chunk. Only chunks with at least two
// mentions linked to distinct entities yield anything. Proposals with the
// same rel_id collapse; the same claim from other evidence chunks stays a
// separate edge.
func Extract(ctx context.Context, chunk provenance.Chunk, mentions []provenance.Mention, opt Options) ([]provenance.Relation, error) {
	if opt.ConfidenceThreshold <= 0 {
		opt.ConfidenceThreshold = 0.70
	}
	linked := make([]provenance.Mention, 0, len(mentions))
	for _, m := range mentions {
		if m.EntityID != "" {
			linked = append(linked, m)
		}
	}
	if len(linked) < 2 {
		return nil, nil
	}

	byID := make(map[string]provenance.Relation)
	for i := 0; i < len(linked); i++ {
		for j := i + 1; j < len(linked); j++ {
			a, b := linked[i], linked[j]
			if a.EntityID == b.EntityID {
				continue
			}
			if b.StartInChunk-a.EndInChunk > maxPairGap {
				continue
			}
			between := chunk.Text[a.EndInChunk:b.StartInChunk]
			for _, p := range patterns {
				if !p.re.MatchString(between) {
					continue
				}
				subj, obj := a, b
				if p.reversed {
					subj, obj = b, a
				}
				if p.objectType != "" && obj.EntityType != p.objectType {
					continue
				}
				rel := buildRelation(chunk, subj, obj, a, b, p)
				ok, conf := verify(ctx, opt.Verifier, subj, obj, rel)
				if !ok {
					continue
				}
				rel.Confidence = conf
				if rel.Confidence < opt.ConfidenceThreshold {
					continue
				}
				if _, dup := byID[rel.RelID]; !dup {
					byID[rel.RelID] = rel
				}
				break // first matching template wins for this pair
			}
		}
	}

	out := make([]provenance.Relation, 0, len(byID))
	for _, rel := range byID {
		out = append(out, rel)
	}
	sortRelations(out)
	return out, nil
}

func buildRelation(chunk provenance.Chunk, subj, obj, first, second provenance.Mention, p pattern) provenance.Relation {
	quoteStart := first.StartInChunk
	quoteEnd := second.EndInChunk
	return provenance.Relation{
		RelID:           identity.RelationID(subj.EntityID, string(p.predicate), obj.EntityID, chunk.ChunkID),
		SubjectEntityID: subj.EntityID,
		Predicate:       p.predicate,
		ObjectEntityID:  obj.EntityID,
		Confidence:      p.confidence,
		EvidenceChunkID: chunk.ChunkID,
		EvidenceRange:   [2]int{chunk.StartOffset + quoteStart, chunk.StartOffset + quoteEnd},
		EvidenceQuote:   chunk.Text[quoteStart:quoteEnd],
	}
}

// verify consults the model verifier when configured. A supporting answer
// lifts confidence; a refuting answer kills the proposal; verifier errors
// keep the pattern's base confidence (budget mode is best-effort).
func verify(ctx context.Context, v Verifier, subj, obj provenance.Mention, rel provenance.Relation) (bool, float64) {
	if v == nil {
		return true, rel.Confidence
	}
	supported, err := v.Verify(ctx, subj.SurfaceText, string(rel.Predicate), obj.SurfaceText, rel.EvidenceQuote)
	if err != nil {
		return true, rel.Confidence
	}
	if !supported {
		return false, 0
	}
	return true, max(rel.Confidence, 0.85)
}

func sortRelations(rels []provenance.Relation) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].EvidenceRange[0] != rels[j].EvidenceRange[0] {
			return rels[i].EvidenceRange[0] < rels[j].EvidenceRange[0]
		}
		return rels[i].RelID < rels[j].RelID
	})
}
