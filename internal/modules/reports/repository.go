package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/database"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// ErrDuplicateOpenReport signals a second non-resolved report for the same
// (user, event, reason). The handler maps it to duplicate_reason_report.
var ErrDuplicateOpenReport = errors.New("open report already exists")

// Repository handles reason_reports, reason_status_transitions, and
// reason_revisions.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a reports repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "reports").Logger()}
}

// Create files a report in state received and appends the initial
// transition in the same commit. A second open report for the same
// (user, event, reason) fails with ErrDuplicateOpenReport.
func (r *Repository) Create(ctx context.Context, report Report, transitionID string) (Report, error) {
	report.Status = StatusReceived
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var openCount int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM reason_reports
			 WHERE user_id = ? AND event_id = ? AND reason_id = ? AND status != ?`,
			report.UserID, report.EventID, report.ReasonID, StatusResolved).Scan(&openCount)
		if err != nil {
			return fmt.Errorf("failed to count open reports: %w", err)
		}
		if openCount > 0 {
			return ErrDuplicateOpenReport
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO reason_reports (id, user_id, event_id, reason_id, report_type, note, status, created_at_utc, updated_at_utc)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.ID, report.UserID, report.EventID, report.ReasonID, report.ReportType,
			nullIfEmpty(report.Note), report.Status,
			domain.FormatUTC(report.CreatedAt), domain.FormatUTC(report.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}

		return insertTransition(ctx, tx, Transition{
			ID:       transitionID,
			ReportID: report.ID,
			EventID:  report.EventID,
			ReasonID: report.ReasonID,
			ToStatus: StatusReceived,
			Note:     report.Note,
			ChangedAt: report.CreatedAt,
		})
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

// Advance moves a report forward and appends the log row in one commit.
// Backward or repeated moves fail with ErrInvalidInput. The updated report
// is returned.
func (r *Repository) Advance(ctx context.Context, reportID, toStatus, note, transitionID string, changedAt time.Time) (Report, error) {
	var updated Report
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, user_id, event_id, reason_id, report_type, COALESCE(note, ''), status, created_at_utc, updated_at_utc
			 FROM reason_reports WHERE id = ?`, reportID)
		report, err := scanReport(row)
		if err != nil {
			return err
		}
		if !CanTransition(report.Status, toStatus) {
			return fmt.Errorf("%w: cannot transition report from %s to %s", domain.ErrInvalidInput, report.Status, toStatus)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE reason_reports SET status = ?, updated_at_utc = ? WHERE id = ?`,
			toStatus, domain.FormatUTC(changedAt), reportID)
		if err != nil {
			return fmt.Errorf("failed to update report status: %w", err)
		}

		if err := insertTransition(ctx, tx, Transition{
			ID:         transitionID,
			ReportID:   report.ID,
			EventID:    report.EventID,
			ReasonID:   report.ReasonID,
			FromStatus: report.Status,
			ToStatus:   toStatus,
			Note:       note,
			ChangedAt:  changedAt,
		}); err != nil {
			return err
		}

		updated = report
		updated.Status = toStatus
		updated.UpdatedAt = changedAt
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	return updated, nil
}

// InsertRevision records a confidence adjustment row.
func (r *Repository) InsertRevision(ctx context.Context, revision Revision) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reason_revisions (id, report_id, event_id, reason_id, revision_reason, confidence_before, confidence_after, revised_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		revision.ID, revision.ReportID, revision.EventID, revision.ReasonID,
		revision.RevisionReason, revision.ConfidenceBefore, revision.ConfidenceAfter,
		domain.FormatUTC(revision.RevisedAt))
	if err != nil {
		return fmt.Errorf("failed to insert revision: %w", err)
	}
	return nil
}

func insertTransition(ctx context.Context, tx *sql.Tx, transition Transition) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reason_status_transitions (id, report_id, event_id, reason_id, from_status, to_status, note, changed_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		transition.ID, transition.ReportID, transition.EventID, transition.ReasonID,
		nullIfEmpty(transition.FromStatus), transition.ToStatus, nullIfEmpty(transition.Note),
		domain.FormatUTC(transition.ChangedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// Get loads one report.
func (r *Repository) Get(ctx context.Context, reportID string) (Report, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, event_id, reason_id, report_type, COALESCE(note, ''), status, created_at_utc, updated_at_utc
		 FROM reason_reports WHERE id = ?`, reportID)
	return scanReport(row)
}

// TransitionsByEvent returns the full transition log for every report on an
// event, ascending by change time.
func (r *Repository) TransitionsByEvent(ctx context.Context, eventID string) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, report_id, event_id, reason_id, COALESCE(from_status, ''), to_status, COALESCE(note, ''), changed_at_utc
		 FROM reason_status_transitions WHERE event_id = ? ORDER BY changed_at_utc, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var transition Transition
		var changedAt string
		if err := rows.Scan(&transition.ID, &transition.ReportID, &transition.EventID, &transition.ReasonID,
			&transition.FromStatus, &transition.ToStatus, &transition.Note, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transition.ChangedAt, err = domain.ParseUTC(changedAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt changed_at for transition %s: %w", transition.ID, err)
		}
		transitions = append(transitions, transition)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return transitions, nil
}

// RevisionsByEvent returns revisions ascending by revised_at.
func (r *Repository) RevisionsByEvent(ctx context.Context, eventID string) ([]Revision, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, report_id, event_id, reason_id, revision_reason, confidence_before, confidence_after, revised_at_utc
		 FROM reason_revisions WHERE event_id = ? ORDER BY revised_at_utc, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var revision Revision
		var revisedAt string
		if err := rows.Scan(&revision.ID, &revision.ReportID, &revision.EventID, &revision.ReasonID,
			&revision.RevisionReason, &revision.ConfidenceBefore, &revision.ConfidenceAfter, &revisedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revision.RevisedAt, err = domain.ParseUTC(revisedAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt revised_at for revision %s: %w", revision.ID, err)
		}
		revisions = append(revisions, revision)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}
	return revisions, nil
}

// Hint reports whether any report exists for the event and the status of the
// most recent transition. Implements the events detail revision_hint.
func (r *Repository) Hint(ctx context.Context, eventID string) (bool, string, error) {
	var latest string
	err := r.db.QueryRowContext(ctx,
		`SELECT to_status FROM reason_status_transitions
		 WHERE event_id = ? ORDER BY changed_at_utc DESC, id DESC LIMIT 1`, eventID).Scan(&latest)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to query hint: %w", err)
	}
	return true, latest, nil
}

// HasReports reports whether any report was ever filed for the event.
func (r *Repository) HasReports(ctx context.Context, eventID string) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reason_reports WHERE event_id = ?`, eventID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count reports: %w", err)
	}
	return count > 0, nil
}

func scanReport(row *sql.Row) (Report, error) {
	var report Report
	var createdAt, updatedAt string
	err := row.Scan(&report.ID, &report.UserID, &report.EventID, &report.ReasonID,
		&report.ReportType, &report.Note, &report.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, fmt.Errorf("%w: report", domain.ErrNotFound)
	}
	if err != nil {
		return Report{}, fmt.Errorf("failed to scan report: %w", err)
	}
	report.CreatedAt, err = domain.ParseUTC(createdAt)
	if err != nil {
		return Report{}, fmt.Errorf("corrupt created_at for report %s: %w", report.ID, err)
	}
	report.UpdatedAt, err = domain.ParseUTC(updatedAt)
	if err != nil {
		return Report{}, fmt.Errorf("corrupt updated_at for report %s: %w", report.ID, err)
	}
	return report, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
