// Package faults tags pipeline errors with the kind that drives the retry
// policy. A stage returns a plain error wrapped with one of the four kinds;
// the job manager decides requeue-or-terminate from the kind and the attempt
// count alone.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// Validation failures are terminal and never retried: the input itself
	// is unusable (malformed URL, unsupported source, empty content).
	Validation Kind = "validation"
	// Transient failures are retried with backoff (network, provider 5xx,
	// rate limits, store transaction timeouts).
	Transient Kind = "transient"
	// DataIntegrity failures abort without retry: the source produced
	// inconsistent derived state (offsets out of bounds, bad UTF-8).
	DataIntegrity Kind = "data_integrity"
	// Cancelled marks a user- or operator-requested stop.
	Cancelled Kind = "cancelled"
)

// Fault is an error carrying a Kind.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// New wraps err with the given kind. A nil err returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Err: err}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Fault{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of err. Context cancellation maps to Cancelled,
// deadlines to Transient. Untagged errors default to Transient so unknown
// failures get the retry budget rather than a silent terminal state.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Transient
}

// Retryable reports whether the retry policy may requeue this failure.
func Retryable(err error) bool {
	return KindOf(err) == Transient
}
