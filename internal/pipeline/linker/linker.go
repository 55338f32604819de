// Package linker unifies mentions into canonical entities. It is the only
// component allowed to create or mutate canonical entities; it returns the
// resulting records as a transformation and the indexer commits them inside
// one graph transaction per batch.
package linker

import (
	"context"
	"math"
	"strings"

	"github.com/antzucaro/matchr"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

// Catalog is the read surface the linker needs over already-persisted
// entities.
type Catalog interface {
	GetEntity(ctx context.Context, entityID string) (provenance.Entity, bool, error)
	EntitiesByType(ctx context.Context, t provenance.EntityType) ([]provenance.Entity, error)
}

// Options tune the similarity bands.
type Options struct {
	// ExactThreshold: similarity at or above links with high confidence.
	ExactThreshold float64
	// FuzzyThreshold: similarity at or above links with measured confidence;
	// below it a new canonical entity is created.
	FuzzyThreshold float64
	// MentionVectors optionally carries context embeddings keyed by
	// mention_id; when a stored entity also has one, cosine similarity
	// competes with edit similarity.
	MentionVectors map[string][]float32
}

// Result is one batch's transformation: mentions with entity assignments and
// the entity records to upsert.
type Result struct {
	Mentions []provenance.Mention
	// Entities keyed by entity_id; mention_count carries the full new count
	// (existing count plus this batch's references).
	Entities map[string]provenance.Entity
	Created  int
	Merged   int
}

// Link assigns every mention a canonical entity. Algorithm per mention:
// exact candidate ID hit wins; otherwise the best of edit similarity and
// context-embedding cosine against same-typed entities decides between
// linking and creating.
func Link(ctx context.Context, mentions []provenance.Mention, catalog Catalog, opt Options) (Result, error) {
	if opt.ExactThreshold <= 0 {
		opt.ExactThreshold = 0.90
	}
	if opt.FuzzyThreshold <= 0 {
		opt.FuzzyThreshold = 0.70
	}
	res := Result{Entities: make(map[string]provenance.Entity)}

	for _, m := range mentions {
		normalized := normalizeSurface(m.SurfaceText)
		if normalized == "" {
			continue
		}
		candidateID := identity.EntityID(normalized, string(m.EntityType))

		ent, conf, created, err := res.resolve(ctx, catalog, candidateID, normalized, m.EntityType, opt.MentionVectors[m.MentionID], opt)
		if err != nil {
			return Result{}, err
		}
		if created {
			res.Created++
		}

		ent.MentionCount++
		if normalized != normalizeSurface(ent.CanonicalName) && !containsAlias(ent.Aliases, normalized) {
			ent.Aliases = append(ent.Aliases, normalized)
		}
		res.Entities[ent.EntityID] = ent

		m.EntityID = ent.EntityID
		m.LinkConfidence = conf
		res.Mentions = append(res.Mentions, m)
	}
	return res, nil
}

// resolve finds or creates the canonical entity for one normalized surface.
func (r *Result) resolve(ctx context.Context, catalog Catalog, candidateID, normalized string, typ provenance.EntityType, vec []float32, opt Options) (provenance.Entity, float64, bool, error) {
	// Batch-local state first: two mentions of one new entity must not
	// create it twice.
	if ent, ok := r.Entities[candidateID]; ok {
		return ent, 1.0, false, nil
	}
	ent, ok, err := catalog.GetEntity(ctx, candidateID)
	if err != nil {
		return provenance.Entity{}, 0, false, err
	}
	if ok {
		// Exact hit covers case/whitespace variants too: both normalize to
		// the same candidate ID.
		return ent, 1.0, false, nil
	}

	// Approximate match against same-typed entities, batch-local included.
	best, bestScore, err := r.bestMatch(ctx, catalog, normalized, vec, typ)
	if err != nil {
		return provenance.Entity{}, 0, false, err
	}
	if best != nil && bestScore >= opt.FuzzyThreshold {
		r.Merged++
		return *best, bandConfidence(bestScore, opt), false, nil
	}

	// No plausible match: the new entity is itself the ground truth.
	return provenance.Entity{
		EntityID:      candidateID,
		CanonicalName: normalized,
		EntityType:    typ,
	}, 1.0, true, nil
}

func (r *Result) bestMatch(ctx context.Context, catalog Catalog, normalized string, vec []float32, typ provenance.EntityType) (*provenance.Entity, float64, error) {
	stored, err := catalog.EntitiesByType(ctx, typ)
	if err != nil {
		return nil, 0, err
	}
	var best *provenance.Entity
	bestScore := 0.0
	consider := func(ent provenance.Entity) {
		score := similarity(normalized, vec, ent)
		if score > bestScore {
			e := ent
			best = &e
			bestScore = score
		}
	}
	for _, ent := range stored {
		consider(ent)
	}
	for _, ent := range r.Entities {
		if ent.EntityType == typ {
			consider(ent)
		}
	}
	return best, bestScore, nil
}

// similarity is the maximum of normalized edit similarity over the canonical
// name and aliases, and cosine over context embeddings when both sides carry
// one.
func similarity(normalized string, vec []float32, ent provenance.Entity) float64 {
	score := matchr.JaroWinkler(normalized, normalizeSurface(ent.CanonicalName), false)
	for _, alias := range ent.Aliases {
		if s := matchr.JaroWinkler(normalized, alias, false); s > score {
			score = s
		}
	}
	if len(vec) > 0 && len(ent.ContextVector) == len(vec) {
		if c := cosine(vec, ent.ContextVector); c > score {
			score = c
		}
	}
	return score
}

func cosine(a, b []float32) float64 {
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

// bandConfidence maps a similarity score onto the confidence bands:
// [0.90,1.00) → [0.85,0.99], [0.70,0.90) → [0.60,0.85].
func bandConfidence(score float64, opt Options) float64 {
	if score >= opt.ExactThreshold {
		span := 1.0 - opt.ExactThreshold
		if span <= 0 {
			return 0.99
		}
		return 0.85 + (score-opt.ExactThreshold)/span*(0.99-0.85)
	}
	span := opt.ExactThreshold - opt.FuzzyThreshold
	if span <= 0 {
		return 0.60
	}
	return 0.60 + (score-opt.FuzzyThreshold)/span*(0.85-0.60)
}

// normalizeSurface lowercases, collapses whitespace, and strips punctuation
// at the boundaries.
func normalizeSurface(s string) string {
	s = identity.NormalizeSurface(s)
	return strings.Trim(s, `.,;:!?'"()[]{}`)
}

func containsAlias(aliases []string, s string) bool {
	for _, a := range aliases {
		if a == s {
			return true
		}
	}
	return false
}
