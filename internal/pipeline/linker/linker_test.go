package linker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

type memCatalog struct {
	entities map[string]provenance.Entity
}

func newMemCatalog(entities ...provenance.Entity) *memCatalog {
	c := &memCatalog{entities: make(map[string]provenance.Entity)}
	for _, e := range entities {
		c.entities[e.EntityID] = e
	}
	return c
}

func (c *memCatalog) GetEntity(_ context.Context, id string) (provenance.Entity, bool, error) {
	e, ok := c.entities[id]
	return e, ok, nil
}

func (c *memCatalog) EntitiesByType(_ context.Context, t provenance.EntityType) ([]provenance.Entity, error) {
	var out []provenance.Entity
	for _, e := range c.entities {
		if e.EntityType == t {
			out = append(out, e)
		}
	}
	return out, nil
}

func orgMention(surface string, start int) provenance.Mention {
	return provenance.Mention{
		MentionID:    identity.MentionID("c1", identity.NormalizeSurface(surface), start),
		ChunkID:      "c1",
		SurfaceText:  surface,
		EntityType:   provenance.TypeOrg,
		StartInChunk: start,
		EndInChunk:   start + len(surface),
		Confidence:   0.8,
	}
}

func TestLinkCreatesNewEntity(t *testing.T) {
	res, err := Link(context.Background(), []provenance.Mention{orgMention("OpenAI", 0)}, newMemCatalog(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, 1, res.Created)

	wantID := identity.EntityID("openai", "ORG")
	assert.Equal(t, wantID, res.Mentions[0].EntityID)
	assert.Equal(t, 1.0, res.Mentions[0].LinkConfidence, "a new entity is its own ground truth")

	ent := res.Entities[wantID]
	assert.Equal(t, "openai", ent.CanonicalName)
	assert.Equal(t, 1, ent.MentionCount)
	assert.Empty(t, ent.Aliases)
}

func TestLinkExactHitOnStoredEntity(t *testing.T) {
	id := identity.EntityID("openai", "ORG")
	catalog := newMemCatalog(provenance.Entity{
		EntityID: id, CanonicalName: "openai", EntityType: provenance.TypeOrg, MentionCount: 5,
	})
	res, err := Link(context.Background(), []provenance.Mention{orgMention("OpenAI", 0)}, catalog, Options{})
	require.NoError(t, err)

	assert.Equal(t, id, res.Mentions[0].EntityID)
	assert.Equal(t, 1.0, res.Mentions[0].LinkConfidence)
	assert.Equal(t, 6, res.Entities[id].MentionCount)
	assert.Zero(t, res.Created)
}

func TestLinkUnifiesVariantAcrossDocuments(t *testing.T) {
	// Scenario: "OpenAI" first, then the spaced variant "Open AI".
	mentions := []provenance.Mention{orgMention("OpenAI", 0), orgMention("Open AI", 40)}
	res, err := Link(context.Background(), mentions, newMemCatalog(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Mentions, 2)
	require.Len(t, res.Entities, 1)

	wantID := identity.EntityID("openai", "ORG")
	assert.Equal(t, wantID, res.Mentions[0].EntityID)
	assert.Equal(t, wantID, res.Mentions[1].EntityID)

	ent := res.Entities[wantID]
	assert.Equal(t, 2, ent.MentionCount)
	assert.Contains(t, ent.Aliases, "open ai")
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Merged)
}

func TestLinkBelowFuzzyCreates(t *testing.T) {
	catalog := newMemCatalog(provenance.Entity{
		EntityID:      identity.EntityID("acme corp", "ORG"),
		CanonicalName: "acme corp",
		EntityType:    provenance.TypeOrg,
	})
	res, err := Link(context.Background(), []provenance.Mention{orgMention("Zenith Widgets", 0)}, catalog, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, identity.EntityID("zenith widgets", "ORG"), res.Mentions[0].EntityID)
}

func TestLinkTypeSeparation(t *testing.T) {
	catalog := newMemCatalog(provenance.Entity{
		EntityID:      identity.EntityID("jordan", "PERSON"),
		CanonicalName: "jordan",
		EntityType:    provenance.TypePerson,
	})
	m := orgMention("Jordan", 0)
	m.EntityType = provenance.TypeGPE
	res, err := Link(context.Background(), []provenance.Mention{m}, catalog, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created, "same surface, different type must not merge")
	assert.Equal(t, identity.EntityID("jordan", "GPE"), res.Mentions[0].EntityID)
}

func TestBandConfidence(t *testing.T) {
	opt := Options{ExactThreshold: 0.90, FuzzyThreshold: 0.70}

	assert.InDelta(t, 0.85, bandConfidence(0.90, opt), 1e-9)
	assert.InDelta(t, 0.99, bandConfidence(1.00, opt), 1e-9)
	assert.InDelta(t, 0.60, bandConfidence(0.70, opt), 1e-9)
	assert.InDelta(t, 0.85, bandConfidence(0.90, opt), 1e-9)
	mid := bandConfidence(0.80, opt)
	assert.Greater(t, mid, 0.60)
	assert.Less(t, mid, 0.85)
}

func TestLinkPrefersContextVectorWhenCloser(t *testing.T) {
	stored := provenance.Entity{
		EntityID:      identity.EntityID("acme corporation", "ORG"),
		CanonicalName: "acme corporation",
		EntityType:    provenance.TypeOrg,
		ContextVector: []float32{1, 0, 0},
	}
	m := orgMention("ACME Holdings Group", 0)
	res, err := Link(context.Background(), []provenance.Mention{m}, newMemCatalog(stored), Options{
		MentionVectors: map[string][]float32{m.MentionID: {1, 0, 0}},
	})
	require.NoError(t, err)
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, stored.EntityID, res.Mentions[0].EntityID, "identical context vectors merge despite distant surfaces")
	assert.Zero(t, res.Created)
}

func TestNormalizeSurface(t *testing.T) {
	assert.Equal(t, "open ai", normalizeSurface(`"Open  AI,"`))
	assert.Equal(t, "acme corp", normalizeSurface("Acme Corp."))
}
