package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citegraph/internal/config"
	"citegraph/internal/faults"
)

func newChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, tok := range strings.SplitAfter(content, " ") {
				fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		})
	}))
}

func TestHTTPGenerate(t *testing.T) {
	srv := newChatServer(t, "the answer [1]")
	defer srv.Close()

	p := NewHTTP(TierMini, config.GenerativeTierConfig{BaseURL: srv.URL, Model: "m"})
	out, err := p.Generate(context.Background(), "question", Options{System: "cite your sources"})
	require.NoError(t, err)
	assert.Equal(t, "the answer [1]", out)
}

func TestHTTPStreamGenerate(t *testing.T) {
	srv := newChatServer(t, "a b c")
	defer srv.Close()

	p := NewHTTP(TierMini, config.GenerativeTierConfig{BaseURL: srv.URL, Model: "m"})
	var got strings.Builder
	err := p.StreamGenerate(context.Background(), "q", Options{}, StreamHandlerFunc(func(tok string) {
		got.WriteString(tok)
	}))
	require.NoError(t, err)
	assert.Equal(t, "a b c", got.String())
}

func TestEstimateCost(t *testing.T) {
	p := NewHTTP(TierPro, config.GenerativeTierConfig{CostPer1K: 0.01})
	cost := p.EstimateCost(strings.Repeat("x", 4000)) // ~1000 tokens
	assert.InDelta(t, 0.01, cost, 1e-9)
}

type failingProvider struct{ err error }

func (f *failingProvider) Name() string                  { return "failing" }
func (f *failingProvider) EstimateCost(string) float64   { return 0 }
func (f *failingProvider) Generate(context.Context, string, Options) (string, error) {
	return "", f.err
}
func (f *failingProvider) StreamGenerate(context.Context, string, Options, StreamHandler) error {
	return f.err
}

func TestChainFallsBackThenTagsTransient(t *testing.T) {
	srv := newChatServer(t, "ok")
	defer srv.Close()

	chain, err := NewChain(
		&failingProvider{err: errors.New("503")},
		NewHTTP(TierNano, config.GenerativeTierConfig{BaseURL: srv.URL}),
	)
	require.NoError(t, err)
	out, err := chain.Generate(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	deadChain, err := NewChain(&failingProvider{err: errors.New("503")})
	require.NoError(t, err)
	_, err = deadChain.Generate(context.Background(), "q", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, faults.Transient, faults.KindOf(err))
}

func TestBuildRequiresAtLeastOneTier(t *testing.T) {
	_, err := Build(config.GenerativeConfig{Tier: TierMini})
	assert.Error(t, err)

	p, err := Build(config.GenerativeConfig{
		Tier:  TierMini,
		Tiers: map[string]config.GenerativeTierConfig{TierMini: {BaseURL: "http://localhost:1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, TierMini+"/", p.Name())
}
