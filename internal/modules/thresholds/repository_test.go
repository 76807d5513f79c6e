package thresholds

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

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db := ohtest.NewTestDB(t)
	_, err := db.Conn().Exec(
		`INSERT INTO users (id, email, password_hash, locale, created_at_utc) VALUES ('u1', 'u1@example.com', 'x', 'ko-KR', '2025-08-20T00:00:00Z')`)
	require.NoError(t, err)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestUpsertThenListAppearsOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, Threshold{UserID: "u1", WindowMinutes: 5, ThresholdPct: 2.5, UpdatedAt: at}))
	require.NoError(t, repo.Upsert(ctx, Threshold{UserID: "u1", WindowMinutes: 5, ThresholdPct: 4.0, UpdatedAt: at.Add(time.Hour)}))

	rows, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].WindowMinutes)
	assert.InDelta(t, 4.0, rows[0].ThresholdPct, 1e-9)
}

func TestEffectiveFallsBackToDefault(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pct, err := repo.Effective(ctx, "u1", 5, 3.0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, pct, 1e-9)

	require.NoError(t, repo.Upsert(ctx, Threshold{
		UserID: "u1", WindowMinutes: 5, ThresholdPct: 1.5,
		UpdatedAt: time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC),
	}))
	pct, err = repo.Effective(ctx, "u1", 5, 3.0)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, pct, 1e-9)
}

func TestMinWatcherThresholdPicksMostSensitiveWatcher(t *testing.T) {
	db := ohtest.NewTestDB(t)
	conn := db.Conn()
	_, err := conn.Exec(
		`INSERT INTO users (id, email, password_hash, locale, created_at_utc) VALUES
		 ('u1', 'u1@example.com', 'x', 'ko-KR', '2025-08-20T00:00:00Z'),
		 ('u2', 'u2@example.com', 'x', 'ko-KR', '2025-08-20T00:00:00Z'),
		 ('u3', 'u3@example.com', 'x', 'ko-KR', '2025-08-20T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.Exec(
		`INSERT INTO watchlist_items (id, user_id, market, symbol, created_at_utc) VALUES
		 ('w1', 'u1', 'US', 'AAPL', '2025-08-20T00:00:00Z'),
		 ('w2', 'u2', 'US', 'AAPL', '2025-08-20T00:00:00Z'),
		 ('w3', 'u3', 'US', 'MSFT', '2025-08-20T00:00:00Z')`)
	require.NoError(t, err)

	repo := NewRepository(conn, zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

	_, ok, err := repo.MinWatcherThreshold(ctx, domain.MarketUS, "AAPL", 5)
	require.NoError(t, err)
	assert.False(t, ok, "no custom thresholds yet")

	require.NoError(t, repo.Upsert(ctx, Threshold{UserID: "u1", WindowMinutes: 5, ThresholdPct: 2.0, UpdatedAt: at}))
	require.NoError(t, repo.Upsert(ctx, Threshold{UserID: "u2", WindowMinutes: 5, ThresholdPct: 4.5, UpdatedAt: at}))
	// u3 watches a different symbol; its threshold must not leak in.
	require.NoError(t, repo.Upsert(ctx, Threshold{UserID: "u3", WindowMinutes: 5, ThresholdPct: 0.5, UpdatedAt: at}))

	pct, ok, err := repo.MinWatcherThreshold(ctx, domain.MarketUS, "AAPL", 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2.0, pct, 1e-9)

	_, ok, err = repo.MinWatcherThreshold(ctx, domain.MarketUS, "AAPL", 1440)
	require.NoError(t, err)
	assert.False(t, ok, "thresholds are per window")
}
