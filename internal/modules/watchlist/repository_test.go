package watchlist

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/domain"
	ohtest "github.com/ohmystock/ohmystock/internal/testing"
)

func seedUser(t *testing.T, repo *Repository, userID string) {
	t.Helper()
	_, err := repo.db.Exec(
		`INSERT INTO users (id, email, password_hash, locale, created_at_utc) VALUES (?, ?, 'x', 'ko-KR', ?)`,
		userID, userID+"@example.com", "2025-08-20T00:00:00Z")
	require.NoError(t, err)
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db := ohtest.NewTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	seedUser(t, repo, "u1")
	seedUser(t, repo, "u2")
	return repo
}

func item(id, userID, symbol string) Item {
	return Item{
		ID: id, UserID: userID, Market: domain.MarketUS, Symbol: symbol,
		CreatedAt: time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func TestAddAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, dup, err := repo.Add(ctx, item("w1", "u1", "AAPL"))
	require.NoError(t, err)
	assert.False(t, dup)

	items, total, err := repo.List(ctx, "u1", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "AAPL", items[0].Symbol)
}

func TestAddDuplicateReturnsExisting(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, _, err := repo.Add(ctx, item("w1", "u1", "AAPL"))
	require.NoError(t, err)

	second, dup, err := repo.Add(ctx, item("w2", "u1", "AAPL"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)

	// Same symbol for another user is not a duplicate.
	_, dup, err = repo.Add(ctx, item("w3", "u2", "AAPL"))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestDeleteThenReAdd(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.Add(ctx, item("w1", "u1", "AAPL"))
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "u1", "w1"))

	items, _, err := repo.List(ctx, "u1", 1, 20)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, dup, err := repo.Add(ctx, item("w2", "u1", "AAPL"))
	require.NoError(t, err)
	assert.False(t, dup, "re-adding after delete is not a duplicate")
}

func TestDeleteForeignItemNotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.Add(ctx, item("w1", "u1", "AAPL"))
	require.NoError(t, err)

	err = repo.Delete(ctx, "u2", "w1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUsersWatching(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.Add(ctx, item("w1", "u1", "AAPL"))
	require.NoError(t, err)
	_, _, err = repo.Add(ctx, item("w2", "u2", "AAPL"))
	require.NoError(t, err)
	_, _, err = repo.Add(ctx, item("w3", "u2", "TSLA"))
	require.NoError(t, err)

	watchers, err := repo.UsersWatching(ctx, domain.MarketUS, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, watchers)
}
