package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged validation", New(Validation, base), Validation},
		{"tagged transient", New(Transient, base), Transient},
		{"wrapped fault survives %w", fmt.Errorf("stage ner: %w", New(DataIntegrity, base)), DataIntegrity},
		{"context canceled", context.Canceled, Cancelled},
		{"deadline exceeded", context.DeadlineExceeded, Transient},
		{"untagged defaults transient", base, Transient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestNewNilPassthrough(t *testing.T) {
	assert.NoError(t, New(Transient, nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Newf(Transient, "dial tcp: timeout")))
	assert.False(t, Retryable(Newf(Validation, "bad url")))
	assert.False(t, Retryable(Newf(Cancelled, "stopped")))
	assert.False(t, Retryable(Newf(DataIntegrity, "offset out of bounds")))
}

func TestUnwrap(t *testing.T) {
	base := errors.New("inner")
	assert.ErrorIs(t, New(Transient, base), base)
}
