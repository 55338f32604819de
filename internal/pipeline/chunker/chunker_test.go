package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

const docID = "0000000000000000000000000000000000000000000000000000000000000000"

func TestChunkCoverageAndOverlap(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	chunks, err := Chunk(docID, text, nil, Options{ChunkSizeBytes: 1000, OverlapBytes: 200})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndOffset)

	for i, c := range chunks {
		assert.Less(t, c.StartOffset, c.EndOffset, "chunk %d must be non-empty", i)
		assert.LessOrEqual(t, c.EndOffset-c.StartOffset, 1000)
		assert.Equal(t, text[c.StartOffset:c.EndOffset], c.Text)
		assert.Equal(t, identity.ChunkID(docID, c.StartOffset), c.ChunkID)
		if i > 0 {
			prev := chunks[i-1]
			assert.Greater(t, c.StartOffset, prev.StartOffset, "forward progress")
			assert.LessOrEqual(t, c.StartOffset, prev.EndOffset, "no gaps in coverage")
		}
	}
}

func TestChunkPrefersParagraphBreaks(t *testing.T) {
	para1 := strings.Repeat("alpha beta gamma. ", 30) // ~540 bytes
	para2 := strings.Repeat("delta epsilon zeta. ", 30)
	text := para1 + "\n\n" + para2

	chunks, err := Chunk(docID, text, nil, Options{ChunkSizeBytes: 700, OverlapBytes: 100})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, len(para1)+2, chunks[0].EndOffset, "first cut lands after the paragraph break")
}

func TestChunkNeverSplitsMultibyteRunes(t *testing.T) {
	text := strings.Repeat("héllo wörld überall ", 300)
	chunks, err := Chunk(docID, text, nil, Options{ChunkSizeBytes: 257, OverlapBytes: 50})
	require.NoError(t, err)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text), "chunk [%d,%d) splits a codepoint", c.StartOffset, c.EndOffset)
	}
}

func TestChunkForwardProgressOnUnbreakableText(t *testing.T) {
	text := strings.Repeat("x", 5000) // no whitespace at all
	chunks, err := Chunk(docID, text, nil, Options{ChunkSizeBytes: 1000, OverlapBytes: 200})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartOffset, chunks[i-1].StartOffset)
	}
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndOffset)
}

func TestChunkEmptyText(t *testing.T) {
	chunks, err := Chunk(docID, "", nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkRejectsInvalidUTF8(t *testing.T) {
	_, err := Chunk(docID, string([]byte{0xff, 0xfe, 'a'}), nil, Options{})
	assert.Error(t, err)
}

func TestChunkAttachesAnchors(t *testing.T) {
	page2 := 2
	text := strings.Repeat("a sentence here. ", 100)
	lm, err := provenance.NewLocationMap(map[int]provenance.Anchor{
		0:   {HeadingPath: []string{"Intro"}},
		800: {PageNumber: &page2, HeadingPath: []string{"Body"}},
	})
	require.NoError(t, err)

	chunks, err := Chunk(docID, text, lm, Options{ChunkSizeBytes: 600, OverlapBytes: 100})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	assert.Equal(t, []string{"Intro"}, chunks[0].HeadingPath)
	assert.Nil(t, chunks[0].PageNumber)

	last := chunks[len(chunks)-1]
	require.NotNil(t, last.PageNumber)
	assert.Equal(t, 2, *last.PageNumber)
	assert.Equal(t, []string{"Body"}, last.HeadingPath)
}

func TestChunkDeterministicIDs(t *testing.T) {
	text := strings.Repeat("repeatable content with words. ", 80)
	a, err := Chunk(docID, text, nil, Options{ChunkSizeBytes: 500, OverlapBytes: 100})
	require.NoError(t, err)
	b, err := Chunk(docID, text, nil, Options{ChunkSizeBytes: 500, OverlapBytes: 100})
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ChunkID, b[i].ChunkID)
	}
}
