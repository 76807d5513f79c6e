// Package briefs aggregates recent watchlist events into pre-market and
// post-close digests with per-user read state and time-window expiry.
package briefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/database"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// Brief types.
const (
	TypePreMarket = "pre_market"
	TypePostClose = "post_close"
)

// Per-user read states.
const (
	StatusUnread = "unread"
	StatusRead   = "read"
)

// Fallback reasons for thin or impossible aggregation.
const (
	FallbackNoEvents           = "no_events"
	FallbackPartialAggregation = "partial_aggregation"
	FallbackMarketHoliday      = "market_holiday"
	FallbackInsufficientData   = "insufficient_data"
)

// Brief is one generated digest.
type Brief struct {
	ID             string
	UserID         string
	BriefType      string
	Title          string
	Summary        string
	GeneratedAt    time.Time
	Markets        []domain.Market
	FallbackReason string // empty when content is complete
	Status         string
	ExpiresAt      time.Time // zero means no expiry
}

// Expired reports whether the brief's window has passed.
func (b Brief) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && !now.Before(b.ExpiresAt)
}

// Item is one ordered content entry referencing a price event.
type Item struct {
	BriefID        string
	Position       int
	EventID        string
	Symbol         string
	Market         domain.Market
	Summary        string
	SourceURL      string
	EventDetailURL string
}

// Meta summarizes the inbox for list responses.
type Meta struct {
	Total   int `json:"total"`
	Unread  int `json:"unread"`
	Expired int `json:"expired"`
}

// Repository handles brief rows and their content items.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a briefs repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "briefs").Logger()}
}

// Insert stores a brief and its items in one commit.
func (r *Repository) Insert(ctx context.Context, brief Brief, items []Item) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var expiresAt any
		if !brief.ExpiresAt.IsZero() {
			expiresAt = domain.FormatUTC(brief.ExpiresAt)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO briefs (id, user_id, brief_type, title, summary, generated_at_utc, markets, fallback_reason, status, expires_at_utc)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			brief.ID, brief.UserID, brief.BriefType, brief.Title, brief.Summary,
			domain.FormatUTC(brief.GeneratedAt), joinMarkets(brief.Markets),
			nullIfEmpty(brief.FallbackReason), StatusUnread, expiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert brief: %w", err)
		}
		for _, item := range items {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO brief_items (brief_id, position, event_id, symbol, market, summary, source_url, event_detail_url)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				brief.ID, item.Position, item.EventID, item.Symbol, string(item.Market),
				item.Summary, item.SourceURL, item.EventDetailURL)
			if err != nil {
				return fmt.Errorf("failed to insert brief item: %w", err)
			}
		}
		return nil
	})
}

// ListByUser returns the caller's briefs newest first plus inbox counts.
// Expired briefs stay listed; only detail fetches reject them.
func (r *Repository) ListByUser(ctx context.Context, userID string, size int, now time.Time) ([]Brief, Meta, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, brief_type, title, summary, generated_at_utc, markets, COALESCE(fallback_reason, ''), status, COALESCE(expires_at_utc, '')
		 FROM briefs WHERE user_id = ? ORDER BY generated_at_utc DESC, id DESC LIMIT ?`,
		userID, size)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("failed to query briefs: %w", err)
	}
	defer rows.Close()

	var briefs []Brief
	var meta Meta
	for rows.Next() {
		brief, err := scanBrief(rows)
		if err != nil {
			return nil, Meta{}, err
		}
		meta.Total++
		if brief.Status == StatusUnread {
			meta.Unread++
		}
		if brief.Expired(now) {
			meta.Expired++
		}
		briefs = append(briefs, brief)
	}
	if err := rows.Err(); err != nil {
		return nil, Meta{}, fmt.Errorf("error iterating briefs: %w", err)
	}
	return briefs, meta, nil
}

// Get loads one brief with its ordered items, scoped to the owning user.
func (r *Repository) Get(ctx context.Context, userID, briefID string) (Brief, []Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, brief_type, title, summary, generated_at_utc, markets, COALESCE(fallback_reason, ''), status, COALESCE(expires_at_utc, '')
		 FROM briefs WHERE id = ? AND user_id = ?`, briefID, userID)
	brief, err := scanBrief(row)
	if err != nil {
		return Brief{}, nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT brief_id, position, event_id, symbol, market, summary, source_url, event_detail_url
		 FROM brief_items WHERE brief_id = ? ORDER BY position`, briefID)
	if err != nil {
		return Brief{}, nil, fmt.Errorf("failed to query brief items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var market string
		if err := rows.Scan(&item.BriefID, &item.Position, &item.EventID, &item.Symbol,
			&market, &item.Summary, &item.SourceURL, &item.EventDetailURL); err != nil {
			return Brief{}, nil, fmt.Errorf("failed to scan brief item: %w", err)
		}
		item.Market = domain.Market(market)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Brief{}, nil, fmt.Errorf("error iterating brief items: %w", err)
	}
	return brief, items, nil
}

// MarkRead moves a brief to read. Idempotent.
func (r *Repository) MarkRead(ctx context.Context, userID, briefID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE briefs SET status = ? WHERE id = ? AND user_id = ?`, StatusRead, briefID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark brief read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count marked briefs: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: brief", domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBrief(row rowScanner) (Brief, error) {
	var brief Brief
	var generatedAt, markets, expiresAt string
	err := row.Scan(&brief.ID, &brief.UserID, &brief.BriefType, &brief.Title, &brief.Summary,
		&generatedAt, &markets, &brief.FallbackReason, &brief.Status, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Brief{}, fmt.Errorf("%w: brief", domain.ErrNotFound)
	}
	if err != nil {
		return Brief{}, fmt.Errorf("failed to scan brief: %w", err)
	}
	brief.GeneratedAt, err = domain.ParseUTC(generatedAt)
	if err != nil {
		return Brief{}, fmt.Errorf("corrupt generated_at for brief %s: %w", brief.ID, err)
	}
	if expiresAt != "" {
		brief.ExpiresAt, err = domain.ParseUTC(expiresAt)
		if err != nil {
			return Brief{}, fmt.Errorf("corrupt expires_at for brief %s: %w", brief.ID, err)
		}
	}
	brief.Markets = splitMarkets(markets)
	return brief, nil
}

func joinMarkets(markets []domain.Market) string {
	parts := make([]string, 0, len(markets))
	for _, market := range markets {
		parts = append(parts, string(market))
	}
	return strings.Join(parts, ",")
}

func splitMarkets(raw string) []domain.Market {
	var markets []domain.Market
	for _, part := range strings.Split(raw, ",") {
		if part != "" {
			markets = append(markets, domain.Market(part))
		}
	}
	return markets
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
