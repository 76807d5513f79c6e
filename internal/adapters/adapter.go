// Package adapters defines the external evidence source contract and the
// reliability guard the Reason Engine wraps every source with.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// Candidate is one unscored evidence item returned by a source.
type Candidate struct {
	Source      string
	ReasonType  string // filing, news, other
	Title       string
	Summary     string
	SourceURL   string
	PublishedAt *time.Time
}

// TimeRange bounds a fetch window. Start must not be after End.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Validate checks the window ordering.
func (r TimeRange) Validate() error {
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: time range start must be before end", domain.ErrInvalidInput)
	}
	return nil
}

// Adapter is the single capability the Reason Engine needs from a source.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, symbol string, market domain.Market, window TimeRange) ([]Candidate, error)
}

// SourceError wraps adapter failures with retryability so the engine can
// isolate and report them per source.
type SourceError struct {
	Source    string
	Retryable bool
	Err       error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewSourceError builds a SourceError, inferring retryability from the cause
// when not forced: deadline and transient errors are retryable.
func NewSourceError(source string, err error, retryable bool) *SourceError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTransient) {
		retryable = true
	}
	return &SourceError{Source: source, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is a retryable source failure.
func IsRetryable(err error) bool {
	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		return srcErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTransient)
}
