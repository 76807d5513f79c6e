package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Reason types attached to a price event.
const (
	ReasonTypeFiling = "filing"
	ReasonTypeNews   = "news"
	ReasonTypeOther  = "other"
)

// NormalizeReasonType validates a reason type string.
func NormalizeReasonType(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case ReasonTypeFiling, ReasonTypeNews, ReasonTypeOther:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: reason_type must be filing, news, or other", ErrInvalidInput)
}

// ReasonStatus is derived from an event's reason rows.
const (
	ReasonStatusCollecting = "collecting_evidence"
	ReasonStatusVerified   = "verified"
)

// PriceEvent is a detected significant move. Immutable after creation.
type PriceEvent struct {
	ID               string
	Market           Market
	Symbol           string
	ChangePct        float64
	WindowMinutes    int
	DetectedAt       time.Time
	ExchangeTimezone string
	SessionLabel     SessionLabel
	DeltaRealert     bool
}

// EventReason is one ranked explanation candidate attached to an event.
type EventReason struct {
	ID              string
	EventID         string
	Rank            int
	ReasonType      string
	ConfidenceScore float64
	Summary         string
	SourceURL       string
	PublishedAt     time.Time
	Breakdown       ConfidenceBreakdown
	ExplanationText string
}

// Signal names used in confidence breakdowns.
const (
	SignalSourceReliability = "source_reliability"
	SignalEventMatch        = "event_match"
	SignalTimeProximity     = "time_proximity"
)

// ConfidenceBreakdown preserves the scoring inputs verbatim so clients can
// reconstruct the total.
type ConfidenceBreakdown struct {
	Weights        map[string]float64 `json:"weights"`
	Signals        map[string]float64 `json:"signals"`
	ScoreBreakdown ScoreBreakdown     `json:"score_breakdown"`
}

// ScoreBreakdown holds the published per-signal products and their total,
// all rounded to 2 decimals.
type ScoreBreakdown struct {
	SourceReliability float64 `json:"source_reliability"`
	EventMatch        float64 `json:"event_match"`
	TimeProximity     float64 `json:"time_proximity"`
	Total             float64 `json:"total"`
}

// Validate checks that the breakdown is internally consistent: weights sum to
// 1 and the total matches the weighted signal sum within 0.01.
func (b ConfidenceBreakdown) Validate() error {
	var weightSum float64
	for _, w := range b.Weights {
		weightSum += w
	}
	if math.Abs(weightSum-1.0) > 0.001 {
		return fmt.Errorf("%w: breakdown weights must sum to 1, got %.4f", ErrInvalidInput, weightSum)
	}
	var total float64
	for name, w := range b.Weights {
		signal, ok := b.Signals[name]
		if !ok {
			return fmt.Errorf("%w: breakdown missing signal %q", ErrInvalidInput, name)
		}
		if signal < 0 || signal > 1 {
			return fmt.Errorf("%w: signal %q out of [0,1]: %.4f", ErrInvalidInput, name, signal)
		}
		total += w * signal
	}
	if math.Abs(b.ScoreBreakdown.Total-total) > 0.01 {
		return fmt.Errorf("%w: breakdown total %.4f does not match weighted sum %.4f",
			ErrInvalidInput, b.ScoreBreakdown.Total, total)
	}
	return nil
}

// ReasonStatusFor derives the event's reason status: collecting_evidence when
// the event has no reasons or none carries a source URL, verified otherwise.
func ReasonStatusFor(reasons []EventReason) string {
	for _, reason := range reasons {
		if strings.TrimSpace(reason.SourceURL) != "" {
			return ReasonStatusVerified
		}
	}
	return ReasonStatusCollecting
}
