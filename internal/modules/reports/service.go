package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// Rerunner re-evaluates one reason against fresh evidence and persists the
// updated score. Implemented by the reason engine.
type Rerunner interface {
	Rerun(ctx context.Context, event domain.PriceEvent, reason domain.EventReason) (domain.EventReason, error)
}

// EventStore is the slice of the events repository the service needs.
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (domain.PriceEvent, error)
	GetReason(ctx context.Context, reasonID string) (domain.EventReason, error)
}

// Service drives the report state machine and resolve-time revisions.
type Service struct {
	repo     *Repository
	events   EventStore
	rerunner Rerunner
	clk      clock.Clock
	ids      clock.IDs
	log      zerolog.Logger
}

// NewService creates a reports service.
func NewService(repo *Repository, events EventStore, rerunner Rerunner, clk clock.Clock, ids clock.IDs, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		events:   events,
		rerunner: rerunner,
		clk:      clk,
		ids:      ids,
		log:      log.With().Str("component", "reports").Logger(),
	}
}

// File creates a report in state received after verifying the reason belongs
// to the event. A second open report by the same user for the same reason is
// rejected with ErrDuplicateOpenReport.
func (s *Service) File(ctx context.Context, userID, eventID, reasonID, reportType, note string) (Report, error) {
	normalized, err := NormalizeReportType(reportType)
	if err != nil {
		return Report{}, err
	}
	reason, err := s.events.GetReason(ctx, reasonID)
	if err != nil {
		return Report{}, err
	}
	if reason.EventID != eventID {
		return Report{}, fmt.Errorf("%w: reason does not belong to event", domain.ErrInvalidInput)
	}

	now := s.clk.Now()
	report := Report{
		ID:         s.ids.NewID(),
		UserID:     userID,
		EventID:    eventID,
		ReasonID:   reasonID,
		ReportType: normalized,
		Note:       strings.TrimSpace(note),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := s.repo.Create(ctx, report, s.ids.NewID())
	if err != nil {
		return Report{}, err
	}
	s.log.Info().
		Str("report_id", created.ID).
		Str("event_id", eventID).
		Str("reason_id", reasonID).
		Str("report_type", normalized).
		Msg("Reason report filed")
	return created, nil
}

// Advance moves a report to toStatus. When the move is to resolved and
// adjustConfidence is set, the reason is re-scored against fresh evidence and
// a revision row records the before/after confidence at the transition time.
func (s *Service) Advance(ctx context.Context, reportID, toStatus, note string, adjustConfidence bool) (Report, error) {
	toStatus = strings.ToLower(strings.TrimSpace(toStatus))
	switch toStatus {
	case StatusReviewed, StatusResolved:
	default:
		return Report{}, fmt.Errorf("%w: status must be reviewed or resolved", domain.ErrInvalidInput)
	}

	changedAt := s.clk.Now()
	updated, err := s.repo.Advance(ctx, reportID, toStatus, strings.TrimSpace(note), s.ids.NewID(), changedAt)
	if err != nil {
		return Report{}, err
	}

	if toStatus == StatusResolved && adjustConfidence {
		if err := s.revise(ctx, updated, changedAt); err != nil {
			// The transition itself committed; the revision is best effort.
			s.log.Error().Err(err).
				Str("report_id", updated.ID).
				Str("reason_id", updated.ReasonID).
				Msg("Confidence revision failed")
		}
	}
	return updated, nil
}

func (s *Service) revise(ctx context.Context, report Report, revisedAt time.Time) error {
	event, err := s.events.GetEvent(ctx, report.EventID)
	if err != nil {
		return err
	}
	before, err := s.events.GetReason(ctx, report.ReasonID)
	if err != nil {
		return err
	}
	after, err := s.rerunner.Rerun(ctx, event, before)
	if err != nil {
		return err
	}
	return s.repo.InsertRevision(ctx, Revision{
		ID:               s.ids.NewID(),
		ReportID:         report.ID,
		EventID:          report.EventID,
		ReasonID:         report.ReasonID,
		RevisionReason:   report.ReportType,
		ConfidenceBefore: before.ConfidenceScore,
		ConfidenceAfter:  after.ConfidenceScore,
		RevisedAt:        revisedAt,
	})
}
