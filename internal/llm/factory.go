package llm

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

type chainProvider struct {
	providers []Provider
	sem       chan struct{}
}

// poolSize bounds concurrent in-flight calls per provider chain; waiters
// queue FIFO and give up after poolWait with a transient failure.
const (
	poolSize = 8
	poolWait = 5 * time.Second
)

// NewChain builds a fallback chain; the first provider is primary.
func NewChain(providers ...Provider) (Provider, error) {
	if len(providers) == 0 {
		return nil, errors.New("empty provider chain")
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
		return nil, faults.Newf(faults.Transient, "generative provider pool saturated for %s", poolWait)
	case <-ctx.Done():
		return nil, faults.New(faults.Cancelled, ctx.Err())
	}
}

func (c *chainProvider) Name() string { return c.providers[0].Name() }

func (c *chainProvider) EstimateCost(prompt string) float64 {
	return c.providers[0].EstimateCost(prompt)
}

func (c *chainProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	var lastErr error
	for _, p := range c.providers {
		out, err := p.Generate(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("provider", p.Name()).Msg("generative_provider_failed_trying_fallback")
		if ctx.Err() != nil {
			break
		}
	}
	return "", faults.New(faults.Transient, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr))
}

func (c *chainProvider) StreamGenerate(ctx context.Context, prompt string, opts Options, h StreamHandler) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	var lastErr error
	for _, p := range c.providers {
		if lastErr = p.StreamGenerate(ctx, prompt, opts, h); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return faults.New(faults.Transient, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr))
}

// Build resolves the configured tier plus fallbacks into one Provider.
func Build(cfg config.GenerativeConfig) (Provider, error) {
	tiers := append([]string{cfg.Tier}, cfg.Fallback...)
	providers := make([]Provider, 0, len(tiers))
	for _, tier := range tiers {
		tc, ok := cfg.Tiers[tier]
		if !ok || tc.BaseURL == "" {
			continue
		}
		providers = append(providers, NewHTTP(tier, tc))
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no generative tier configured for %q", cfg.Tier)
	}
	return NewChain(providers...)
}
