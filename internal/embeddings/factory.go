package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"citegraph/internal/config"
	"citegraph/internal/faults"
)

// ErrProviderUnavailable is returned when the whole fallback chain failed.
var ErrProviderUnavailable = errors.New("provider_unavailable")

// poolSize bounds concurrent in-flight calls per provider chain; waiters
// queue FIFO and give up after poolWait with a transient failure.
const (
	poolSize = 8
	poolWait = 5 * time.Second
)

// chainProvider tries providers in declared order. All providers in a chain
// must share one dimensionality; the vector collection is created at it.
type chainProvider struct {
	providers []Provider
	sem       chan struct{}
}

// NewChain builds a fallback chain. The first provider is primary.
func NewChain(providers ...Provider) (Provider, error) {
	if len(providers) == 0 {
		return nil, errors.New("empty provider chain")
	}
	dim := providers[0].Dimension()
	for _, p := range providers[1:] {
		if p.Dimension() != dim {
			return nil, fmt.Errorf("provider %s dimension %d differs from primary %d", p.Name(), p.Dimension(), dim)
		}
	}
	return &chainProvider{providers: providers, sem: make(chan struct{}, poolSize)}, nil
}

func (c *chainProvider) acquire(ctx context.Context) (func(), error) {
	timer := time.NewTimer(poolWait)
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
		return func() { <-c.sem }, nil
	case <-timer.C:
		return nil, faults.Newf(faults.Transient, "embedding provider pool saturated for %s", poolWait)
	case <-ctx.Done():
		return nil, faults.New(faults.Cancelled, ctx.Err())
	}
}

func (c *chainProvider) Name() string   { return c.providers[0].Name() }
func (c *chainProvider) Dimension() int { return c.providers[0].Dimension() }

func (c *chainProvider) Health(ctx context.Context) error {
	var lastErr error
	for _, p := range c.providers {
		if lastErr = p.Health(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *chainProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	var lastErr error
	for _, p := range c.providers {
		vecs, err := p.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("provider", p.Name()).Msg("embedding_provider_failed_trying_fallback")
		if ctx.Err() != nil {
			break
		}
	}
	return nil, faults.New(faults.Transient, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr))
}

// Build resolves the configured tier plus fallbacks into one Provider.
// Unknown tiers fall back to the deterministic local provider.
func Build(cfg config.EmbeddingsConfig) (Provider, error) {
	tiers := append([]string{cfg.Tier}, cfg.Fallback...)
	providers := make([]Provider, 0, len(tiers))
	for _, tier := range tiers {
		if tc, ok := cfg.Tiers[tier]; ok && tc.BaseURL != "" {
			providers = append(providers, NewHTTP(tier, tc))
			continue
		}
		dim := 256
		if tc, ok := cfg.Tiers[tier]; ok && tc.Dimensions > 0 {
			dim = tc.Dimensions
		}
		providers = append(providers, NewDeterministic(dim))
	}
	return NewChain(providers...)
}
