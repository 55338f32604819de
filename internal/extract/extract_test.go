package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/faults"
	"citegraph/internal/provenance"
)

func TestRegistryResolveOrder(t *testing.T) {
	reg := NewRegistry(NewPDFExtractor(), NewVideoExtractor(""), NewWebExtractor())

	ex, err := reg.Resolve("https://example.com/paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, provenance.SourcePDF, ex.Kind())

	ex, err = reg.Resolve("https://example.com/talk.wav")
	require.NoError(t, err)
	assert.Equal(t, provenance.SourceVideo, ex.Kind())

	ex, err = reg.Resolve("https://example.com/about")
	require.NoError(t, err)
	assert.Equal(t, provenance.SourceWeb, ex.Kind())

	_, err = reg.Resolve("ftp://example.com/x")
	require.Error(t, err)
	assert.Equal(t, faults.Validation, faults.KindOf(err))
}

func TestWebExtractorValidate(t *testing.T) {
	e := NewWebExtractor()
	assert.NoError(t, e.Validate("https://example.com/about"))
	assert.Equal(t, faults.Validation, faults.KindOf(e.Validate("notaurl")))
	assert.Equal(t, faults.Validation, faults.KindOf(e.Validate("file:///etc/passwd")))
}

func TestWebExtractorExtract(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>Acme Corp — About</title></head>
<body><article><h1>About Acme Corp</h1>
<p>Acme Corp was founded by Jane Smith in 1999. It builds rockets.</p>
<h2>History</h2>
<p>The company moved to Berlin in 2005 and kept growing for many years afterwards.</p>
</article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	ext, err := NewWebExtractor().Extract(context.Background(), srv.URL+"/about")
	require.NoError(t, err)

	assert.Equal(t, provenance.SourceWeb, ext.Kind)
	assert.Contains(t, ext.Text, "Jane Smith")
	assert.Contains(t, ext.Text, "# ")
	require.NotNil(t, ext.Locs)

	// Offsets inside the History section resolve to its heading path.
	idx := strings.Index(ext.Text, "moved to Berlin")
	require.Greater(t, idx, 0)
	anchor := ext.Locs.Resolve(idx)
	require.NotEmpty(t, anchor.HeadingPath)
	assert.Equal(t, "History", anchor.HeadingPath[len(anchor.HeadingPath)-1])
}

func TestWebExtractorServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWebExtractor().Extract(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, faults.Transient, faults.KindOf(err))
}

func TestWebExtractorNotFoundIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWebExtractor().Extract(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Equal(t, faults.Validation, faults.KindOf(err))
}

func TestHeadingLocationMapNesting(t *testing.T) {
	md := "# Top\n\nintro text\n\n## Sub\n\nsub text\n\n# Next\n\nnext text\n"
	lm, err := headingLocationMap(md)
	require.NoError(t, err)

	at := func(needle string) provenance.Anchor {
		i := strings.Index(md, needle)
		require.GreaterOrEqual(t, i, 0)
		return lm.Resolve(i)
	}
	assert.Equal(t, []string{"Top"}, at("intro").HeadingPath)
	assert.Equal(t, []string{"Top", "Sub"}, at("sub text").HeadingPath)
	assert.Equal(t, []string{"Next"}, at("next text").HeadingPath)
}

func TestDecodeWAVRejectsWrongFormat(t *testing.T) {
	_, err := decodeWAV([]byte("definitely not a wav file, far too short anyway"))
	assert.Error(t, err)
}

func TestVideoValidateWithoutModel(t *testing.T) {
	e := NewVideoExtractor("")
	err := e.Validate("https://example.com/talk.wav")
	require.Error(t, err)
	assert.Equal(t, faults.Validation, faults.KindOf(err))
}
