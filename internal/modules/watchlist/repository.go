package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/database"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// Repository handles watchlist rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a watchlist repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "watchlist").Logger()}
}

// Add inserts an item. When (user, market, symbol) already exists, the
// existing row is returned with duplicate=true.
func (r *Repository) Add(ctx context.Context, item Item) (Item, bool, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watchlist_items (id, user_id, market, symbol, created_at_utc) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.UserID, string(item.Market), item.Symbol, domain.FormatUTC(item.CreatedAt))
	if err == nil {
		return item, false, nil
	}
	if !database.IsUniqueViolation(err) {
		return Item{}, false, fmt.Errorf("failed to insert watchlist item: %w", err)
	}

	existing, err := r.get(ctx, item.UserID, item.Market, item.Symbol)
	if err != nil {
		return Item{}, false, err
	}
	return existing, true, nil
}

func (r *Repository) get(ctx context.Context, userID string, market domain.Market, symbol string) (Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, market, symbol, created_at_utc FROM watchlist_items
		 WHERE user_id = ? AND market = ? AND symbol = ?`,
		userID, string(market), symbol)
	return scanItem(row)
}

// List returns a page of the user's items, newest first.
func (r *Repository) List(ctx context.Context, userID string, page, size int) ([]Item, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watchlist_items WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count watchlist items: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, market, symbol, created_at_utc FROM watchlist_items
		 WHERE user_id = ? ORDER BY created_at_utc DESC, id LIMIT ? OFFSET ?`,
		userID, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query watchlist items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating watchlist items: %w", err)
	}
	return items, total, nil
}

// Delete removes the caller's item. Another user's item reads as not found.
func (r *Repository) Delete(ctx context.Context, userID, itemID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM watchlist_items WHERE id = ? AND user_id = ?`, itemID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete watchlist item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: watchlist item", domain.ErrNotFound)
	}
	return nil
}

// UsersWatching returns the user ids tracking (market, symbol). The notifier
// fans alerts out over this set.
func (r *Repository) UsersWatching(ctx context.Context, market domain.Market, symbol string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM watchlist_items WHERE market = ? AND symbol = ? ORDER BY user_id`,
		string(market), symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchers: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan watcher: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchers: %w", err)
	}
	return userIDs, nil
}

// SymbolsFor returns the (market, symbol) pairs the user tracks.
func (r *Repository) SymbolsFor(ctx context.Context, userID string) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, market, symbol, created_at_utc FROM watchlist_items WHERE user_id = ?`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user symbols: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user symbols: %w", err)
	}
	return items, nil
}

// UsersWithItems returns the distinct users holding at least one watchlist
// item in the market. The brief builder fans out over this set.
func (r *Repository) UsersWithItems(ctx context.Context, market domain.Market) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM watchlist_items WHERE market = ? ORDER BY user_id`,
		string(market))
	if err != nil {
		return nil, fmt.Errorf("failed to query market users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market users: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	var market, createdAt string
	err := row.Scan(&item.ID, &item.UserID, &market, &item.Symbol, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: watchlist item", domain.ErrNotFound)
	}
	if err != nil {
		return Item{}, fmt.Errorf("failed to scan watchlist item: %w", err)
	}
	item.Market = domain.Market(market)
	item.CreatedAt, err = domain.ParseUTC(createdAt)
	if err != nil {
		return Item{}, fmt.Errorf("corrupt created_at for item %s: %w", item.ID, err)
	}
	return item, nil
}
