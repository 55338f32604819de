package coref

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

func mention(chunkID, text string, start int, typ provenance.EntityType, full string) provenance.Mention {
	end := start + len(text)
	return provenance.Mention{
		MentionID:    identity.MentionID(chunkID, identity.NormalizeSurface(text), start),
		ChunkID:      chunkID,
		SurfaceText:  text,
		EntityType:   typ,
		StartInChunk: start,
		EndInChunk:   end,
		Confidence:   0.8,
	}
}

func TestResolveClustersIdenticalSurfaces(t *testing.T) {
	text := "Acme builds rockets. Acme also builds engines."
	chunk := provenance.Chunk{ChunkID: "c1", Text: text}
	m1 := mention("c1", "Acme", 0, provenance.TypeOrg, text)
	m2 := mention("c1", "Acme", strings.LastIndex(text, "Acme"), provenance.TypeOrg, text)

	res := Resolve(context.Background(), chunk, []provenance.Mention{m1, m2})
	require.Len(t, res.Clusters, 2)
	assert.Equal(t, res.Clusters[m1.MentionID], res.Clusters[m2.MentionID])
}

func TestResolveDistinctSurfacesDistinctClusters(t *testing.T) {
	text := "Acme hired Jane Smith."
	chunk := provenance.Chunk{ChunkID: "c1", Text: text}
	m1 := mention("c1", "Acme", 0, provenance.TypeOrg, text)
	m2 := mention("c1", "Jane Smith", strings.Index(text, "Jane"), provenance.TypePerson, text)

	res := Resolve(context.Background(), chunk, []provenance.Mention{m1, m2})
	assert.NotEqual(t, res.Clusters[m1.MentionID], res.Clusters[m2.MentionID])
}

func TestResolvePronounAttachesToNearestCompatible(t *testing.T) {
	text := "Jane Smith founded Acme Corp. She later sold it."
	chunk := provenance.Chunk{ChunkID: "c1", Text: text}
	jane := mention("c1", "Jane Smith", 0, provenance.TypePerson, text)
	acme := mention("c1", "Acme Corp", strings.Index(text, "Acme"), provenance.TypeOrg, text)

	res := Resolve(context.Background(), chunk, []provenance.Mention{jane, acme})
	require.NotEmpty(t, res.Pronouns)

	byWord := make(map[string]string)
	for _, p := range res.Pronouns {
		byWord[strings.ToLower(text[p.Start:p.End])] = p.MentionID
	}
	assert.Equal(t, jane.MentionID, byWord["she"], "she resolves to the person")
	assert.Equal(t, acme.MentionID, byWord["it"], "it resolves to the org")
}

func TestResolveNoMentions(t *testing.T) {
	res := Resolve(context.Background(), provenance.Chunk{ChunkID: "c1", Text: "He left."}, nil)
	assert.Empty(t, res.Clusters)
	assert.Empty(t, res.Pronouns)
}

func TestResolveDeterministicClusterIDs(t *testing.T) {
	text := "Acme builds rockets."
	chunk := provenance.Chunk{ChunkID: "c1", Text: text}
	m := mention("c1", "Acme", 0, provenance.TypeOrg, text)

	a := Resolve(context.Background(), chunk, []provenance.Mention{m})
	b := Resolve(context.Background(), chunk, []provenance.Mention{m})
	assert.Equal(t, a.Clusters[m.MentionID], b.Clusters[m.MentionID])
}
