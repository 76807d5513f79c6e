// Package reports implements the reason-report state machine:
// received -> reviewed -> resolved, with an append-only transition log and
// confidence revisions written on resolve.
package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// Report states.
const (
	StatusReceived = "received"
	StatusReviewed = "reviewed"
	StatusResolved = "resolved"
)

// Report types a user can file.
const (
	TypeInaccurateReason    = "inaccurate_reason"
	TypeWrongSource         = "wrong_source"
	TypeOutdatedInformation = "outdated_information"
	TypeOther               = "other"
)

// NormalizeReportType validates a report type string.
func NormalizeReportType(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case TypeInaccurateReason, TypeWrongSource, TypeOutdatedInformation, TypeOther:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: report_type must be inaccurate_reason, wrong_source, outdated_information, or other", domain.ErrInvalidInput)
}

// allowedTransitions encodes the forward-only state machine. The skip from
// received straight to resolved is allowed.
var allowedTransitions = map[string]map[string]bool{
	StatusReceived: {StatusReviewed: true, StatusResolved: true},
	StatusReviewed: {StatusResolved: true},
	StatusResolved: {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to string) bool {
	return allowedTransitions[from][to]
}

// Report is one user-filed claim against a reason.
type Report struct {
	ID         string
	UserID     string
	EventID    string
	ReasonID   string
	ReportType string
	Note       string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transition is one append-only state-change row.
type Transition struct {
	ID         string
	ReportID   string
	EventID    string
	ReasonID   string
	FromStatus string // empty for the initial received entry
	ToStatus   string
	Note       string
	ChangedAt  time.Time
}

// Revision records a confidence adjustment applied to a reason at resolve
// time.
type Revision struct {
	ID               string
	ReportID         string
	EventID          string
	ReasonID         string
	RevisionReason   string
	ConfidenceBefore float64
	ConfidenceAfter  float64
	RevisedAt        time.Time
}
