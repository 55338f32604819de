// Package testhelpers holds small fakes shared by tests across packages.
package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"

	"citegraph/internal/llm"
)

// FakeGenerative is a scripted generative provider for tests.
type FakeGenerative struct {
	Resp string
	Err  error
	// StreamDeltas overrides Resp for streaming tests.
	StreamDeltas []string
	// Prompts records every prompt seen.
	Prompts []string
}

func (f *FakeGenerative) Name() string                { return "fake" }
func (f *FakeGenerative) EstimateCost(string) float64 { return 0 }

func (f *FakeGenerative) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return "", f.Err
	}
	return f.Resp, nil
}

func (f *FakeGenerative) StreamGenerate(_ context.Context, prompt string, _ llm.Options, h llm.StreamHandler) error {
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return f.Err
	}
	deltas := f.StreamDeltas
	if len(deltas) == 0 {
		deltas = []string{f.Resp}
	}
	for _, d := range deltas {
		h.OnDelta(d)
	}
	return nil
}

// NewTestServer returns an httptest.Server for the given handler func.
func NewTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}
