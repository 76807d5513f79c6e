// Package feedback stores helpful / not_helpful votes on reasons and serves
// their aggregation.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/database"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// Votes a user can cast.
const (
	VoteHelpful    = "helpful"
	VoteNotHelpful = "not_helpful"
)

// NormalizeVote validates a vote string.
func NormalizeVote(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case VoteHelpful, VoteNotHelpful:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: vote must be helpful or not_helpful", domain.ErrInvalidInput)
}

// Aggregate is the helpfulness summary for one (market, symbol).
type Aggregate struct {
	Market        domain.Market `json:"market"`
	Symbol        string        `json:"symbol"`
	HelpfulCount  int           `json:"helpful_count"`
	TotalCount    int           `json:"total_count"`
	HelpfulRatio  float64       `json:"helpful_ratio"`
	LowConfidence bool          `json:"low_confidence"`
}

// Repository handles feedback rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a feedback repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "feedback").Logger()}
}

// Upsert records a vote keyed by (user, event, reason). Last write wins;
// overwritten reports whether a previous vote existed. The read and the
// write share one transaction so concurrent votes agree on the flag.
func (r *Repository) Upsert(ctx context.Context, userID, eventID, reasonID, vote string, at time.Time) (overwritten bool, err error) {
	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT vote FROM reason_feedback WHERE user_id = ? AND event_id = ? AND reason_id = ?`,
			userID, eventID, reasonID).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			overwritten = false
		case err != nil:
			return fmt.Errorf("failed to query feedback: %w", err)
		default:
			overwritten = true
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO reason_feedback (user_id, event_id, reason_id, vote, updated_at_utc)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, event_id, reason_id)
			 DO UPDATE SET vote = excluded.vote, updated_at_utc = excluded.updated_at_utc`,
			userID, eventID, reasonID, vote, domain.FormatUTC(at))
		if err != nil {
			return fmt.Errorf("failed to upsert feedback: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return overwritten, nil
}

// Get returns the caller's vote for a reason, ErrNotFound when absent.
func (r *Repository) Get(ctx context.Context, userID, eventID, reasonID string) (string, error) {
	var vote string
	err := r.db.QueryRowContext(ctx,
		`SELECT vote FROM reason_feedback WHERE user_id = ? AND event_id = ? AND reason_id = ?`,
		userID, eventID, reasonID).Scan(&vote)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: feedback", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query feedback: %w", err)
	}
	return vote, nil
}

// AggregateBySymbol summarizes helpfulness per (market, symbol). Symbols
// with fewer than minSamples votes are flagged low confidence.
func (r *Repository) AggregateBySymbol(ctx context.Context, minSamples int) ([]Aggregate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.market, e.symbol,
		        SUM(CASE WHEN f.vote = ? THEN 1 ELSE 0 END) AS helpful,
		        COUNT(*) AS total
		 FROM reason_feedback f
		 JOIN price_events e ON e.id = f.event_id
		 GROUP BY e.market, e.symbol
		 ORDER BY e.market, e.symbol`, VoteHelpful)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate feedback: %w", err)
	}
	defer rows.Close()

	var aggregates []Aggregate
	for rows.Next() {
		var agg Aggregate
		var market string
		if err := rows.Scan(&market, &agg.Symbol, &agg.HelpfulCount, &agg.TotalCount); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		agg.Market = domain.Market(market)
		if agg.TotalCount > 0 {
			agg.HelpfulRatio = domain.Round2(float64(agg.HelpfulCount) / float64(agg.TotalCount))
		}
		agg.LowConfidence = agg.TotalCount < minSamples
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregates: %w", err)
	}
	return aggregates, nil
}
