// Package embeddings provides the embedding-provider abstraction: a tiered
// HTTP client for hosted endpoints, a deterministic local provider, and a
// factory that builds the configured fallback chain.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"time"

	"citegraph/internal/config"
)

// Provider converts text to embedding vectors. Implementations must report a
// fixed dimensionality matching the vector collection.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Health(ctx context.Context) error
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// httpProvider calls an OpenAI-compatible embeddings endpoint.
type httpProvider struct {
	tier string
	cfg  config.EmbeddingTierConfig
}

// NewHTTP constructs a provider for one configured tier.
func NewHTTP(tier string, cfg config.EmbeddingTierConfig) Provider {
	return &httpProvider{tier: tier, cfg: cfg}
}

func (p *httpProvider) Name() string   { return p.tier + "/" + p.cfg.Model }
func (p *httpProvider) Dimension() int { return p.cfg.Dimensions }

func (p *httpProvider) Health(ctx context.Context) error {
	_, err := p.EmbedBatch(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embedding endpoint %s unreachable: %w", p.tier, err)
	}
	return nil
}

func (p *httpProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, _ := json.Marshal(embedReq{Model: p.cfg.Model, Input: texts})
	timeout := time.Duration(p.cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := p.cfg.Path
	if path == "" {
		path = "/v1/embeddings"
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(b))
	}

	var er embedResp
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(texts))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		if len(er.Data[i].Embedding) != p.cfg.Dimensions {
			return nil, fmt.Errorf("embedding dimension %d does not match configured %d", len(er.Data[i].Embedding), p.cfg.Dimensions)
		}
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// deterministicProvider hashes byte 3-grams into a fixed-size, L2-normalized
// vector. It backs the local-small tier and tests: same text, same vector,
// no network.
type deterministicProvider struct {
	dim int
}

// NewDeterministic constructs the local provider at the given dimension.
func NewDeterministic(dim int) Provider {
	if dim <= 0 {
		dim = 256
	}
	return &deterministicProvider{dim: dim}
}

func (d *deterministicProvider) Name() string                      { return "local-small/trigram" }
func (d *deterministicProvider) Dimension() int                    { return d.dim }
func (d *deterministicProvider) Health(_ context.Context) error    { return nil }

func (d *deterministicProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicProvider) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		addGram(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func addGram(gram []byte, v []float32) {
	h := fnv.New64a()
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	v[idx] += float32(int32(hv>>32)) / float32(1<<31)
}
