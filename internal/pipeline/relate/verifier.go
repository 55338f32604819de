package relate

import (
	"context"
	"fmt"
	"strings"

	"citegraph/internal/llm"
)

const verifyPrompt = `Does the evidence support the claim? Answer with exactly YES or NO.

Claim: %s %s %s
Evidence: %q`

// LMVerifier asks the generative provider whether an evidence quote supports
// a proposed relation. It runs in budget mode: short prompt, few tokens,
// temperature zero.
type LMVerifier struct {
	Provider llm.Provider
}

func (v *LMVerifier) Verify(ctx context.Context, subject, predicate, object, evidence string) (bool, error) {
	out, err := v.Provider.Generate(ctx, fmt.Sprintf(verifyPrompt, subject, humanPredicate(predicate), object, evidence), llm.Options{
		MaxTokens:   4,
		Temperature: 0,
	})
	if err != nil {
		return false, err
	}
	answer := strings.ToUpper(strings.TrimSpace(out))
	return strings.HasPrefix(answer, "YES"), nil
}

func humanPredicate(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "_", " "))
}
