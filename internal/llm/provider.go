// Package llm provides the generative-provider abstraction. The core only
// sees this interface; vendor endpoints hide behind the OpenAI-compatible
// wire format the way the embedding client hides its endpoints.
package llm

import "context"

// Options tune one generation call.
type Options struct {
	MaxTokens   int
	Temperature float64
	System      string
}

// StreamHandler receives tokens during streaming generation.
type StreamHandler interface {
	OnDelta(token string)
}

// StreamHandlerFunc adapts a func to StreamHandler.
type StreamHandlerFunc func(token string)

func (f StreamHandlerFunc) OnDelta(token string) { f(token) }

// Provider is a generative language model behind a tier.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	StreamGenerate(ctx context.Context, prompt string, opts Options, h StreamHandler) error
	// EstimateCost returns the approximate cost in USD of generating from
	// this prompt at this tier.
	EstimateCost(prompt string) float64
	Name() string
}

// Tier names, cheapest first.
const (
	TierNano     = "nano"
	TierMini     = "mini"
	TierStandard = "standard"
	TierPro      = "pro"
)
