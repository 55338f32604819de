package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/About", "https://example.com/About"},
		{"strips trailing slash", "https://example.com/about/", "https://example.com/about"},
		{"strips fragment", "https://example.com/a#section-2", "https://example.com/a"},
		{"sorts query params", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"drops session params", "https://example.com/a?utm_source=x&q=go", "https://example.com/a?q=go"},
		{"decodes percent encoding", "https://example.com/%7Euser", "https://example.com/~user"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "not a url", "/relative/path", "://nohost"} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestDocIDEqualForEquivalentURLs(t *testing.T) {
	a, err := DocID("HTTPS://Example.com/about/?utm_source=tw")
	require.NoError(t, err)
	b, err := DocID("https://example.com/about")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	sum := sha256.Sum256([]byte("https://example.com/about"))
	assert.Equal(t, hex.EncodeToString(sum[:]), a)
}

func TestChunkIDPadding(t *testing.T) {
	assert.Equal(t, "abc:0000000042", ChunkID("abc", 42))
	assert.Equal(t, "abc:0000000000", ChunkID("abc", 0))
}

func TestMentionIDOffsetSensitivity(t *testing.T) {
	a := MentionID("c", "openai", 10)
	b := MentionID("c", "openai", 11)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, MentionID("c", "openai", 10))
}

func TestEntityIDNormalizesSurface(t *testing.T) {
	assert.Equal(t, EntityID("OpenAI", "ORG"), EntityID("  openai ", "ORG"))
	assert.NotEqual(t, EntityID("openai", "ORG"), EntityID("openai", "PERSON"))
	assert.NotEqual(t, EntityID("open ai", "ORG"), EntityID("openai", "ORG"))
}

func TestRelationIDIncludesEvidence(t *testing.T) {
	a := RelationID("s", "FOUNDED", "o", "chunk-1")
	b := RelationID("s", "FOUNDED", "o", "chunk-2")
	assert.NotEqual(t, a, b)
}

func TestNormalizeSurface(t *testing.T) {
	assert.Equal(t, "open ai", NormalizeSurface("  Open\t AI \n"))
}
