// Package events persists price events with their reasons and serves the
// event feed.
package events

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/database"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/reasons"
)

// listWindow bounds the event feed.
const listWindow = 30 * 24 * time.Hour

// ListFilter narrows the event feed.
type ListFilter struct {
	Symbol       string
	Market       domain.Market
	SessionLabel domain.SessionLabel
	From         time.Time
	To           time.Time
}

// explanationPayload is the stored form of the explanation_json column.
type explanationPayload struct {
	Breakdown       domain.ConfidenceBreakdown `json:"confidence_breakdown"`
	ExplanationText string                     `json:"explanation_text"`
}

// Repository handles price_events, event_reasons, and reason_fetch_audits.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an events repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "events").Logger()}
}

// SaveEventWithReasons commits the event, its reasons, and the fetch audits
// in one transaction, so a reader never sees an event without its reason
// list.
func (r *Repository) SaveEventWithReasons(ctx context.Context, event domain.PriceEvent, reasonRows []domain.EventReason, audits []reasons.FetchAudit) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO price_events
			 (id, market, symbol, change_pct, window_minutes, detected_at_utc, exchange_timezone, session_label, delta_realert)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, string(event.Market), event.Symbol, event.ChangePct, event.WindowMinutes,
			domain.FormatUTC(event.DetectedAt), event.ExchangeTimezone, string(event.SessionLabel),
			boolToInt(event.DeltaRealert))
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("%w: event %s", domain.ErrConflict, event.ID)
			}
			return fmt.Errorf("failed to insert event: %w", err)
		}

		for _, reason := range reasonRows {
			if err := insertReason(ctx, tx, reason); err != nil {
				return err
			}
		}
		for _, audit := range audits {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO reason_fetch_audits
				 (id, event_id, source, duration_ms, candidate_count, error, retryable, fetched_at_utc)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				audit.ID, audit.EventID, audit.Source, audit.Duration.Milliseconds(),
				audit.CandidateCount, nullIfEmpty(audit.Err), boolToInt(audit.Retryable),
				domain.FormatUTC(audit.FetchedAt))
			if err != nil {
				return fmt.Errorf("failed to insert fetch audit: %w", err)
			}
		}
		return nil
	})
}

func insertReason(ctx context.Context, tx *sql.Tx, reason domain.EventReason) error {
	if err := reason.Breakdown.Validate(); err != nil {
		return fmt.Errorf("reason %s: %w", reason.ID, err)
	}
	explanation, err := json.Marshal(explanationPayload{
		Breakdown:       reason.Breakdown,
		ExplanationText: reason.ExplanationText,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal explanation: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_reasons
		 (id, event_id, rank, reason_type, confidence_score, summary, source_url, published_at_utc, explanation_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reason.ID, reason.EventID, reason.Rank, reason.ReasonType, reason.ConfidenceScore,
		reason.Summary, reason.SourceURL, domain.FormatUTC(reason.PublishedAt), string(explanation))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: reason rank or url for event %s", domain.ErrConflict, reason.EventID)
		}
		return fmt.Errorf("failed to insert reason: %w", err)
	}
	return nil
}

// UpdateReason replaces a reason's score, breakdown, summary, and
// explanation. Used by the rerun path.
func (r *Repository) UpdateReason(ctx context.Context, reason domain.EventReason) error {
	if err := reason.Breakdown.Validate(); err != nil {
		return fmt.Errorf("reason %s: %w", reason.ID, err)
	}
	explanation, err := json.Marshal(explanationPayload{
		Breakdown:       reason.Breakdown,
		ExplanationText: reason.ExplanationText,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal explanation: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE event_reasons SET confidence_score = ?, summary = ?, explanation_json = ? WHERE id = ?`,
		reason.ConfidenceScore, reason.Summary, string(explanation), reason.ID)
	if err != nil {
		return fmt.Errorf("failed to update reason: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: reason %s", domain.ErrNotFound, reason.ID)
	}
	return nil
}

// GetEvent loads one event.
func (r *Repository) GetEvent(ctx context.Context, id string) (domain.PriceEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, market, symbol, change_pct, window_minutes, detected_at_utc, exchange_timezone, session_label, delta_realert
		 FROM price_events WHERE id = ?`, id)
	return scanEvent(row)
}

// GetReasons loads an event's reasons ordered by rank.
func (r *Repository) GetReasons(ctx context.Context, eventID string) ([]domain.EventReason, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, rank, reason_type, confidence_score, summary, source_url, published_at_utc, explanation_json
		 FROM event_reasons WHERE event_id = ? ORDER BY rank`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reasons: %w", err)
	}
	defer rows.Close()

	var reasonRows []domain.EventReason
	for rows.Next() {
		reason, err := scanReason(rows)
		if err != nil {
			return nil, err
		}
		reasonRows = append(reasonRows, reason)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reasons: %w", err)
	}
	return reasonRows, nil
}

// GetReason loads one reason row.
func (r *Repository) GetReason(ctx context.Context, reasonID string) (domain.EventReason, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, rank, reason_type, confidence_score, summary, source_url, published_at_utc, explanation_json
		 FROM event_reasons WHERE id = ?`, reasonID)
	reason, err := scanReason(row)
	if err != nil {
		return domain.EventReason{}, err
	}
	return reason, nil
}

// List returns the caller's watchlist events within the 30-day window,
// descending detected_at, keyset-paged.
func (r *Repository) List(ctx context.Context, userID string, filter ListFilter, size int, cursor string, now time.Time) ([]domain.PriceEvent, string, error) {
	query := strings.Builder{}
	query.WriteString(
		`SELECT e.id, e.market, e.symbol, e.change_pct, e.window_minutes, e.detected_at_utc, e.exchange_timezone, e.session_label, e.delta_realert
		 FROM price_events e
		 JOIN watchlist_items w ON w.market = e.market AND w.symbol = e.symbol AND w.user_id = ?
		 WHERE e.detected_at_utc >= ?`)
	args := []any{userID, domain.FormatUTC(now.Add(-listWindow))}

	if filter.Symbol != "" {
		query.WriteString(" AND e.symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Market != "" {
		query.WriteString(" AND e.market = ?")
		args = append(args, string(filter.Market))
	}
	if filter.SessionLabel != "" {
		query.WriteString(" AND e.session_label = ?")
		args = append(args, string(filter.SessionLabel))
	}
	if !filter.From.IsZero() {
		query.WriteString(" AND e.detected_at_utc >= ?")
		args = append(args, domain.FormatUTC(filter.From))
	}
	if !filter.To.IsZero() {
		query.WriteString(" AND e.detected_at_utc <= ?")
		args = append(args, domain.FormatUTC(filter.To))
	}
	if cursor != "" {
		detectedAt, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query.WriteString(" AND (e.detected_at_utc < ? OR (e.detected_at_utc = ? AND e.id < ?))")
		args = append(args, detectedAt, detectedAt, id)
	}

	query.WriteString(" ORDER BY e.detected_at_utc DESC, e.id DESC LIMIT ?")
	args = append(args, size+1)

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.PriceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, "", err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating events: %w", err)
	}

	nextCursor := ""
	if len(events) > size {
		events = events[:size]
		last := events[len(events)-1]
		nextCursor = encodeCursor(domain.FormatUTC(last.DetectedAt), last.ID)
	}
	return events, nextCursor, nil
}

// TopByMagnitude returns the strongest events for the given watchlist items
// since the cutoff, for brief aggregation.
func (r *Repository) TopByMagnitude(ctx context.Context, pairs [][2]string, since time.Time, limit int) ([]domain.PriceEvent, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	query := strings.Builder{}
	query.WriteString(
		`SELECT id, market, symbol, change_pct, window_minutes, detected_at_utc, exchange_timezone, session_label, delta_realert
		 FROM price_events WHERE detected_at_utc >= ? AND (`)
	args := []any{domain.FormatUTC(since)}
	for i, pair := range pairs {
		if i > 0 {
			query.WriteString(" OR ")
		}
		query.WriteString("(market = ? AND symbol = ?)")
		args = append(args, pair[0], pair[1])
	}
	query.WriteString(") ORDER BY ABS(change_pct) DESC, detected_at_utc DESC LIMIT ?")
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top events: %w", err)
	}
	defer rows.Close()

	var events []domain.PriceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top events: %w", err)
	}
	return events, nil
}

// HasFailedFetches reports whether any source fetch failed for the given
// events. The brief builder downgrades to partial_aggregation when true.
func (r *Repository) HasFailedFetches(ctx context.Context, eventIDs []string) (bool, error) {
	if len(eventIDs) == 0 {
		return false, nil
	}
	query := strings.Builder{}
	query.WriteString(`SELECT COUNT(*) FROM reason_fetch_audits WHERE error IS NOT NULL AND event_id IN (`)
	args := make([]any, 0, len(eventIDs))
	for i, id := range eventIDs {
		if i > 0 {
			query.WriteString(", ")
		}
		query.WriteString("?")
		args = append(args, id)
	}
	query.WriteString(")")

	var count int
	if err := r.db.QueryRowContext(ctx, query.String(), args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count failed fetches: %w", err)
	}
	return count > 0, nil
}

func encodeCursor(detectedAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(detectedAt + "|" + id))
}

func decodeCursor(cursor string) (detectedAt, id string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("%w: malformed cursor", domain.ErrInvalidInput)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: malformed cursor", domain.ErrInvalidInput)
	}
	return parts[0], parts[1], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.PriceEvent, error) {
	var event domain.PriceEvent
	var market, detectedAt, label string
	var deltaRealert int
	err := row.Scan(&event.ID, &market, &event.Symbol, &event.ChangePct, &event.WindowMinutes,
		&detectedAt, &event.ExchangeTimezone, &label, &deltaRealert)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PriceEvent{}, fmt.Errorf("%w: event", domain.ErrNotFound)
	}
	if err != nil {
		return domain.PriceEvent{}, fmt.Errorf("failed to scan event: %w", err)
	}
	event.Market = domain.Market(market)
	event.SessionLabel = domain.SessionLabel(label)
	event.DeltaRealert = deltaRealert != 0
	event.DetectedAt, err = domain.ParseUTC(detectedAt)
	if err != nil {
		return domain.PriceEvent{}, fmt.Errorf("corrupt detected_at for event %s: %w", event.ID, err)
	}
	return event, nil
}

func scanReason(row rowScanner) (domain.EventReason, error) {
	var reason domain.EventReason
	var publishedAt, explanation string
	err := row.Scan(&reason.ID, &reason.EventID, &reason.Rank, &reason.ReasonType,
		&reason.ConfidenceScore, &reason.Summary, &reason.SourceURL, &publishedAt, &explanation)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EventReason{}, fmt.Errorf("%w: reason", domain.ErrNotFound)
	}
	if err != nil {
		return domain.EventReason{}, fmt.Errorf("failed to scan reason: %w", err)
	}
	reason.PublishedAt, err = domain.ParseUTC(publishedAt)
	if err != nil {
		return domain.EventReason{}, fmt.Errorf("corrupt published_at for reason %s: %w", reason.ID, err)
	}
	var payload explanationPayload
	if err := json.Unmarshal([]byte(explanation), &payload); err != nil {
		return domain.EventReason{}, fmt.Errorf("corrupt explanation for reason %s: %w", reason.ID, err)
	}
	reason.Breakdown = payload.Breakdown
	reason.ExplanationText = payload.ExplanationText
	return reason, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
