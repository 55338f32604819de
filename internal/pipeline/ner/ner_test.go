package ner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

func chunkOf(text string) provenance.Chunk {
	return provenance.Chunk{
		ChunkID:     identity.ChunkID("d", 0),
		DocID:       "d",
		StartOffset: 0,
		EndOffset:   len(text),
		Text:        text,
	}
}

func typesOf(mentions []provenance.Mention) map[string]provenance.EntityType {
	out := make(map[string]provenance.EntityType)
	for _, m := range mentions {
		out[m.SurfaceText] = m.EntityType
	}
	return out
}

func TestPatternTaggerFindsOrgAndDate(t *testing.T) {
	text := "Acme Corp was founded in 1999. The company later joined Initech Inc. in Berlin."
	res, err := Extract(context.Background(), chunkOf(text), NewPatternTagger())
	require.NoError(t, err)
	require.NotEmpty(t, res.Mentions)

	types := typesOf(res.Mentions)
	assert.Equal(t, provenance.TypeOrg, types["Acme Corp"])
	assert.Equal(t, provenance.TypeOrg, types["Initech Inc"])
	assert.Equal(t, provenance.TypeDate, types["1999"])
	assert.Equal(t, provenance.TypeGPE, types["Berlin"])
}

func TestPatternTaggerPersonViaTitle(t *testing.T) {
	text := "In the interview, Dr. Jane Smith explained the merger."
	res, err := Extract(context.Background(), chunkOf(text), NewPatternTagger())
	require.NoError(t, err)
	types := typesOf(res.Mentions)
	assert.Equal(t, provenance.TypePerson, types["Jane Smith"])
}

func TestExtractSpanOffsetsAreExact(t *testing.T) {
	text := "Meet Kubernetes today."
	res, err := Extract(context.Background(), chunkOf(text), NewPatternTagger())
	require.NoError(t, err)
	require.NotEmpty(t, res.Mentions)
	for _, m := range res.Mentions {
		assert.Equal(t, text[m.StartInChunk:m.EndInChunk], m.SurfaceText)
	}
}

func TestExtractEmptyChunk(t *testing.T) {
	res, err := Extract(context.Background(), chunkOf(""), NewPatternTagger())
	require.NoError(t, err)
	assert.Empty(t, res.Mentions)
	assert.Zero(t, res.SkippedBadUnicode)
}

func TestExtractBadUnicodeSkipsWithCounter(t *testing.T) {
	c := chunkOf(string([]byte{0xff, 0xfe, 'h', 'i'}))
	res, err := Extract(context.Background(), c, NewPatternTagger())
	require.NoError(t, err)
	assert.Empty(t, res.Mentions)
	assert.Equal(t, 1, res.SkippedBadUnicode)
}

type staticTagger struct{ spans []Span }

func (s *staticTagger) Tag(context.Context, string) ([]Span, error) { return s.spans, nil }

func TestExtractDedupesByMentionID(t *testing.T) {
	text := "OpenAI and OpenAI again"
	tagger := &staticTagger{spans: []Span{
		{Start: 0, End: 6, Type: provenance.TypeOrg, Confidence: 0.6},
		{Start: 0, End: 6, Type: provenance.TypeOrg, Confidence: 0.9},
		{Start: 11, End: 17, Type: provenance.TypeOrg, Confidence: 0.7},
	}}
	res, err := Extract(context.Background(), chunkOf(text), tagger)
	require.NoError(t, err)
	require.Len(t, res.Mentions, 2)
	assert.Equal(t, 0.9, res.Mentions[0].Confidence, "duplicate keeps the higher confidence")
	assert.NotEqual(t, res.Mentions[0].MentionID, res.Mentions[1].MentionID)
}

func TestExtractDropsOutOfBoundsSpans(t *testing.T) {
	tagger := &staticTagger{spans: []Span{
		{Start: -1, End: 3, Type: provenance.TypeOrg, Confidence: 0.9},
		{Start: 2, End: 99, Type: provenance.TypeOrg, Confidence: 0.9},
		{Start: 5, End: 5, Type: provenance.TypeOrg, Confidence: 0.9},
	}}
	res, err := Extract(context.Background(), chunkOf("short text"), tagger)
	require.NoError(t, err)
	assert.Empty(t, res.Mentions)
}

func TestMapModelLabel(t *testing.T) {
	assert.Equal(t, provenance.TypePerson, mapModelLabel("B-PER"))
	assert.Equal(t, provenance.TypeOrg, mapModelLabel("I-ORG"))
	assert.Equal(t, provenance.TypeGPE, mapModelLabel("LOC"))
	assert.Equal(t, provenance.TypeOther, mapModelLabel("MISC"))
}

func TestMergeSpansModelWins(t *testing.T) {
	base := []Span{{Start: 0, End: 5, Type: provenance.TypeOrg, Confidence: 0.4}}
	model := []Span{{Start: 2, End: 8, Type: provenance.TypePerson, Confidence: 0.75}}
	merged := mergeSpans(base, model)
	require.Len(t, merged, 1)
	assert.Equal(t, provenance.TypePerson, merged[0].Type)

	disjoint := []Span{{Start: 10, End: 14, Type: provenance.TypeDate, Confidence: 0.9}}
	merged = mergeSpans(disjoint, model)
	assert.Len(t, merged, 2)
}

func TestExtractJSONArray(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, extractJSONArray("Sure! Here you go: [{\"a\":1}] hope that helps"))
	assert.Equal(t, "[]", extractJSONArray("no json here"))
}
