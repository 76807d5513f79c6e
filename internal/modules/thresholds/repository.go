// Package thresholds stores per-user alert thresholds keyed by window.
package thresholds

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// Threshold is one per-window alert level.
type Threshold struct {
	UserID        string
	WindowMinutes int
	ThresholdPct  float64
	UpdatedAt     time.Time
}

// Repository handles threshold rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a thresholds repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "thresholds").Logger()}
}

// Upsert writes the threshold for (user, window), one row per window.
func (r *Repository) Upsert(ctx context.Context, threshold Threshold) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO thresholds (user_id, window_minutes, threshold_pct, updated_at_utc)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, window_minutes)
		 DO UPDATE SET threshold_pct = excluded.threshold_pct, updated_at_utc = excluded.updated_at_utc`,
		threshold.UserID, threshold.WindowMinutes, threshold.ThresholdPct, domain.FormatUTC(threshold.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert threshold: %w", err)
	}
	return nil
}

// ListByUser returns the user's thresholds ordered by window.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Threshold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, window_minutes, threshold_pct, updated_at_utc FROM thresholds
		 WHERE user_id = ? ORDER BY window_minutes`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []Threshold
	for rows.Next() {
		var threshold Threshold
		var updatedAt string
		if err := rows.Scan(&threshold.UserID, &threshold.WindowMinutes, &threshold.ThresholdPct, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		threshold.UpdatedAt, err = domain.ParseUTC(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt updated_at for threshold: %w", err)
		}
		thresholds = append(thresholds, threshold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thresholds: %w", err)
	}
	return thresholds, nil
}

// MinWatcherThreshold returns the lowest custom threshold among users
// watching (market, symbol) for a window. ok is false when no watcher has
// one, leaving detection on the system default.
func (r *Repository) MinWatcherThreshold(ctx context.Context, market domain.Market, symbol string, windowMinutes int) (float64, bool, error) {
	var pct sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(t.threshold_pct) FROM thresholds t
		 JOIN watchlist_items w ON w.user_id = t.user_id
		 WHERE w.market = ? AND w.symbol = ? AND t.window_minutes = ?`,
		string(market), symbol, windowMinutes).Scan(&pct)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query watcher thresholds: %w", err)
	}
	if !pct.Valid {
		return 0, false, nil
	}
	return pct.Float64, true, nil
}

// Effective returns the user's threshold for a window, falling back to the
// system default.
func (r *Repository) Effective(ctx context.Context, userID string, windowMinutes int, systemDefault float64) (float64, error) {
	var pct float64
	err := r.db.QueryRowContext(ctx,
		`SELECT threshold_pct FROM thresholds WHERE user_id = ? AND window_minutes = ?`,
		userID, windowMinutes).Scan(&pct)
	if err == sql.ErrNoRows {
		return systemDefault, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query effective threshold: %w", err)
	}
	return pct, nil
}
