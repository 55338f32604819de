package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"citegraph/internal/config"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// httpProvider talks to an OpenAI-compatible chat-completions endpoint.
type httpProvider struct {
	tier string
	cfg  config.GenerativeTierConfig
}

// NewHTTP constructs a provider for one configured tier.
func NewHTTP(tier string, cfg config.GenerativeTierConfig) Provider {
	return &httpProvider{tier: tier, cfg: cfg}
}

func (p *httpProvider) Name() string { return p.tier + "/" + p.cfg.Model }

func (p *httpProvider) EstimateCost(prompt string) float64 {
	// Rough 4 bytes per token heuristic; good enough for budget-mode gating.
	tokens := float64(len(prompt)) / 4
	return tokens / 1000 * p.cfg.CostPer1K
}

func (p *httpProvider) do(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	msgs := []chatMessage{}
	if opts.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: opts.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	body, _ := json.Marshal(chatReq{
		Model:       p.cfg.Model,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      stream,
	})
	timeout := time.Duration(p.cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// The cancel travels with the body: closing the body releases the timer.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("generation error: %s: %s", resp.Status, string(b))
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

func (p *httpProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	resp, err := p.do(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var cr chatResp
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("parse generation response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("generation returned no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

func (p *httpProvider) StreamGenerate(ctx context.Context, prompt string, opts Options, h StreamHandler) error {
	resp, err := p.do(ctx, prompt, opts, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}
		var cr chatResp
		if err := json.Unmarshal([]byte(payload), &cr); err != nil {
			continue
		}
		if len(cr.Choices) > 0 && cr.Choices[0].Delta.Content != "" {
			h.OnDelta(cr.Choices[0].Delta.Content)
		}
	}
	return scanner.Err()
}
