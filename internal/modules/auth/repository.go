package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/database"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// Repository handles user rows. Emails compare case-insensitively; the
// stored email keeps the caller's casing.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a user repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "auth").Logger()}
}

// Create inserts a user. A duplicate email returns ErrConflict.
func (r *Repository) Create(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, locale, created_at_utc) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.Locale, domain.FormatUTC(user.CreatedAt))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByEmail finds a user by case-insensitive email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, locale, created_at_utc FROM users WHERE lower(email) = lower(?)`,
		strings.TrimSpace(email))
	return scanUser(row)
}

// GetByID finds a user by id.
func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, locale, created_at_utc FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	var createdAt string
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Locale, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("%w: user", domain.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	user.CreatedAt, err = domain.ParseUTC(createdAt)
	if err != nil {
		return User{}, fmt.Errorf("corrupt created_at for user %s: %w", user.ID, err)
	}
	return user, nil
}
