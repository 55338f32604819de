package relate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

func linkedMention(chunkText, surface string, typ provenance.EntityType) provenance.Mention {
	start := strings.Index(chunkText, surface)
	return provenance.Mention{
		MentionID:    identity.MentionID("c", identity.NormalizeSurface(surface), start),
		ChunkID:      "c",
		SurfaceText:  surface,
		EntityType:   typ,
		StartInChunk: start,
		EndInChunk:   start + len(surface),
		EntityID:     identity.EntityID(surface, string(typ)),
		Confidence:   0.8,
	}
}

func chunkWith(text string) provenance.Chunk {
	return provenance.Chunk{
		ChunkID:     identity.ChunkID("d", 100),
		DocID:       "d",
		StartOffset: 100,
		EndOffset:   100 + len(text),
		Text:        text,
	}
}

func TestExtractFoundedBy(t *testing.T) {
	text := "Acme Corp was founded by Jane Smith in 1999."
	chunk := chunkWith(text)
	acme := linkedMention(text, "Acme Corp", provenance.TypeOrg)
	jane := linkedMention(text, "Jane Smith", provenance.TypePerson)

	rels, err := Extract(context.Background(), chunk, []provenance.Mention{acme, jane}, Options{})
	require.NoError(t, err)
	require.Len(t, rels, 1)

	rel := rels[0]
	assert.Equal(t, provenance.PredFounded, rel.Predicate)
	assert.Equal(t, jane.EntityID, rel.SubjectEntityID, "passive voice reverses subject and object")
	assert.Equal(t, acme.EntityID, rel.ObjectEntityID)
	assert.Equal(t, chunk.ChunkID, rel.EvidenceChunkID)
	assert.Equal(t, "Acme Corp was founded by Jane Smith", rel.EvidenceQuote)
	assert.Equal(t, 100+0, rel.EvidenceRange[0])
	assert.Equal(t, text[rel.EvidenceRange[0]-100:rel.EvidenceRange[1]-100], rel.EvidenceQuote)
}

func TestExtractLocatedInRequiresGPE(t *testing.T) {
	text := "Initech is headquartered in Berlin."
	chunk := chunkWith(text)
	org := linkedMention(text, "Initech", provenance.TypeOrg)
	city := linkedMention(text, "Berlin", provenance.TypeGPE)

	rels, err := Extract(context.Background(), chunk, []provenance.Mention{org, city}, Options{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, provenance.PredLocatedIn, rels[0].Predicate)

	// Same connector, object not a GPE: nothing.
	notCity := linkedMention(text, "Berlin", provenance.TypeOrg)
	rels, err = Extract(context.Background(), chunk, []provenance.Mention{org, notCity}, Options{})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestExtractNeedsTwoDistinctEntities(t *testing.T) {
	text := "Acme and Acme again."
	chunk := chunkWith(text)
	a := linkedMention(text, "Acme", provenance.TypeOrg)
	b := a
	b.StartInChunk = strings.LastIndex(text, "Acme")
	b.EndInChunk = b.StartInChunk + 4

	rels, err := Extract(context.Background(), chunk, []provenance.Mention{a, b}, Options{})
	require.NoError(t, err)
	assert.Empty(t, rels)

	rels, err = Extract(context.Background(), chunk, []provenance.Mention{a}, Options{})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestExtractDedupesIdenticalProposals(t *testing.T) {
	text := "Jane Smith founded Acme. Jane Smith founded Acme."
	chunk := chunkWith(text)
	// Four mentions: two of each, all pairs propose the same claim from the
	// same evidence chunk; one edge must survive.
	j1 := linkedMention(text, "Jane Smith", provenance.TypePerson)
	a1 := linkedMention(text, "Acme", provenance.TypeOrg)
	j2 := j1
	j2.StartInChunk = strings.LastIndex(text, "Jane Smith")
	j2.EndInChunk = j2.StartInChunk + len("Jane Smith")
	a2 := a1
	a2.StartInChunk = strings.LastIndex(text, "Acme")
	a2.EndInChunk = a2.StartInChunk + len("Acme")

	rels, err := Extract(context.Background(), chunk, []provenance.Mention{j1, a1, j2, a2}, Options{})
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestSameClaimDifferentEvidenceKeepsDistinctIDs(t *testing.T) {
	textA := "Jane Smith founded Acme."
	textB := "As reported, Jane Smith founded Acme."
	chunkA := chunkWith(textA)
	chunkB := provenance.Chunk{
		ChunkID: identity.ChunkID("d", 500), DocID: "d",
		StartOffset: 500, EndOffset: 500 + len(textB), Text: textB,
	}

	relsA, err := Extract(context.Background(), chunkA,
		[]provenance.Mention{linkedMention(textA, "Jane Smith", provenance.TypePerson), linkedMention(textA, "Acme", provenance.TypeOrg)}, Options{})
	require.NoError(t, err)
	mb1 := linkedMention(textB, "Jane Smith", provenance.TypePerson)
	mb2 := linkedMention(textB, "Acme", provenance.TypeOrg)
	mb1.ChunkID, mb2.ChunkID = chunkB.ChunkID, chunkB.ChunkID
	relsB, err := Extract(context.Background(), chunkB, []provenance.Mention{mb1, mb2}, Options{})
	require.NoError(t, err)

	require.Len(t, relsA, 1)
	require.Len(t, relsB, 1)
	assert.NotEqual(t, relsA[0].RelID, relsB[0].RelID)
	assert.Equal(t, relsA[0].SubjectEntityID, relsB[0].SubjectEntityID)
}

type fakeVerifier struct {
	supported bool
	err       error
	calls     int
}

func (f *fakeVerifier) Verify(context.Context, string, string, string, string) (bool, error) {
	f.calls++
	return f.supported, f.err
}

func TestVerifierRefutesProposal(t *testing.T) {
	text := "Jane Smith founded Acme."
	chunk := chunkWith(text)
	mentions := []provenance.Mention{
		linkedMention(text, "Jane Smith", provenance.TypePerson),
		linkedMention(text, "Acme", provenance.TypeOrg),
	}

	v := &fakeVerifier{supported: false}
	rels, err := Extract(context.Background(), chunk, mentions, Options{Verifier: v})
	require.NoError(t, err)
	assert.Empty(t, rels)
	assert.Equal(t, 1, v.calls)
}

func TestVerifierSupportLiftsConfidence(t *testing.T) {
	text := "Initech moved to Berlin."
	chunk := chunkWith(text)
	mentions := []provenance.Mention{
		linkedMention(text, "Initech", provenance.TypeOrg),
		linkedMention(text, "Berlin", provenance.TypeGPE),
	}

	// moved-to base confidence 0.70; support lifts it to 0.85.
	rels, err := Extract(context.Background(), chunk, mentions, Options{Verifier: &fakeVerifier{supported: true}})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 0.85, rels[0].Confidence)

	// A verifier error keeps the base confidence.
	rels, err = Extract(context.Background(), chunk, mentions, Options{Verifier: &fakeVerifier{err: errors.New("busy")}})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 0.70, rels[0].Confidence)
}
