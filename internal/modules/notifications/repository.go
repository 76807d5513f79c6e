// Package notifications stores alert rows and drives the per-user cooldown
// and delta re-alert policy.
package notifications

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

// Delivery channels. Email rows are recorded only; no transport is attached.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
)

// Notification states. sent -> read by user action, sent -> cooldown by the
// promotion ticker. Never backward.
const (
	StatusSent     = "sent"
	StatusRead     = "read"
	StatusCooldown = "cooldown"
)

// Notification is one alert row. (user, event, channel) is the dispatch
// idempotence key.
type Notification struct {
	ID      string
	UserID  string
	EventID string
	Channel string
	Status  string
	Message string
	Delta   bool
	SentAt  time.Time
}

// LastAlert is the most recent notification for a (user, symbol, channel),
// joined with its event so the delta rule can compare magnitudes.
type LastAlert struct {
	ChangePct float64
	SentAt    time.Time
}

// Repository handles notification rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a notifications repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "notifications").Logger()}
}

// Insert stores a notification. A duplicate (user, event, channel) returns
// ErrConflict; dispatch treats that as already-sent.
func (r *Repository) Insert(ctx context.Context, notification Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, event_id, channel, status, message, delta, sent_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		notification.ID, notification.UserID, notification.EventID, notification.Channel,
		notification.Status, notification.Message, boolToInt(notification.Delta),
		domain.FormatUTC(notification.SentAt))
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: notification already dispatched", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListByUser returns the caller's notifications newest first plus the count
// of rows still in state sent.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Notification, int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, event_id, channel, status, message, delta, sent_at_utc
		 FROM notifications WHERE user_id = ? ORDER BY sent_at_utc DESC, id DESC`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	unread := 0
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		if notification.Status == StatusSent {
			unread++
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, unread, nil
}

// MarkRead moves a sent notification to read. Reading an already-read row is
// a no-op; a cooldown row cannot become read.
func (r *Repository) MarkRead(ctx context.Context, userID, notificationID string) (Notification, error) {
	var updated Notification
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, user_id, event_id, channel, status, message, delta, sent_at_utc
			 FROM notifications WHERE id = ? AND user_id = ?`, notificationID, userID)
		notification, err := scanNotification(row)
		if err != nil {
			return err
		}
		switch notification.Status {
		case StatusRead:
			updated = notification
			return nil
		case StatusSent:
		default:
			return fmt.Errorf("%w: notification in state %s cannot be marked read", domain.ErrInvalidInput, notification.Status)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE notifications SET status = ? WHERE id = ?`, StatusRead, notificationID); err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}
		notification.Status = StatusRead
		updated = notification
		return nil
	})
	if err != nil {
		return Notification{}, err
	}
	return updated, nil
}

// Last returns the most recent alert for (user, symbol, channel) with the
// magnitude of the event that triggered it. found is false when the user was
// never alerted for the symbol on that channel.
func (r *Repository) Last(ctx context.Context, userID string, market domain.Market, symbol, channel string) (LastAlert, bool, error) {
	var last LastAlert
	var sentAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT e.change_pct, n.sent_at_utc
		 FROM notifications n
		 JOIN price_events e ON e.id = n.event_id
		 WHERE n.user_id = ? AND e.market = ? AND e.symbol = ? AND n.channel = ?
		 ORDER BY n.sent_at_utc DESC, n.id DESC LIMIT 1`,
		userID, string(market), symbol, channel).Scan(&last.ChangePct, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LastAlert{}, false, nil
	}
	if err != nil {
		return LastAlert{}, false, fmt.Errorf("failed to query last alert: %w", err)
	}
	last.SentAt, err = domain.ParseUTC(sentAt)
	if err != nil {
		return LastAlert{}, false, fmt.Errorf("corrupt sent_at on last alert: %w", err)
	}
	return last, true, nil
}

// PromoteStale moves unread in_app rows sent before the cutoff into the
// cooldown state. Returns the number of rows promoted.
func (r *Repository) PromoteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?
		 WHERE status = ? AND channel = ? AND sent_at_utc < ?`,
		StatusCooldown, StatusSent, ChannelInApp, domain.FormatUTC(before))
	if err != nil {
		return 0, fmt.Errorf("failed to promote stale notifications: %w", err)
	}
	promoted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count promoted notifications: %w", err)
	}
	return promoted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (Notification, error) {
	var notification Notification
	var delta int
	var sentAt string
	err := row.Scan(&notification.ID, &notification.UserID, &notification.EventID,
		&notification.Channel, &notification.Status, &notification.Message, &delta, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, fmt.Errorf("%w: notification", domain.ErrNotFound)
	}
	if err != nil {
		return Notification{}, fmt.Errorf("failed to scan notification: %w", err)
	}
	notification.Delta = delta != 0
	notification.SentAt, err = domain.ParseUTC(sentAt)
	if err != nil {
		return Notification{}, fmt.Errorf("corrupt sent_at for notification %s: %w", notification.ID, err)
	}
	return notification, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
