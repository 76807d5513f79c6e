package feedback

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
	conn := db.Conn()
	for _, stmt := range []string{
		`INSERT INTO users (id, email, password_hash, locale, created_at_utc) VALUES ('u1', 'u1@example.com', 'x', 'ko-KR', '2025-08-20T00:00:00Z')`,
		`INSERT INTO price_events (id, market, symbol, change_pct, window_minutes, detected_at_utc, exchange_timezone, session_label)
		 VALUES ('evt-1', 'US', 'AAPL', 4.2, 5, '2025-08-20T14:30:00Z', 'America/New_York', 'regular')`,
		`INSERT INTO event_reasons (id, event_id, rank, reason_type, confidence_score, summary, source_url, published_at_utc, explanation_json)
		 VALUES ('rsn-1', 'evt-1', 1, 'news', 0.9, 's', 'https://reuters.com/a', '2025-08-20T12:00:00Z', '{}')`,
	} {
		_, err := conn.Exec(stmt)
		require.NoError(t, err)
	}
	return NewRepository(conn, zerolog.Nop())
}

var voteAt = time.Date(2025, 8, 20, 15, 0, 0, 0, time.UTC)

func TestUpsertIsIdempotentWithOverwrittenFlag(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	overwritten, err := repo.Upsert(ctx, "u1", "evt-1", "rsn-1", VoteHelpful, voteAt)
	require.NoError(t, err)
	assert.False(t, overwritten)

	overwritten, err = repo.Upsert(ctx, "u1", "evt-1", "rsn-1", VoteHelpful, voteAt.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, overwritten)

	vote, err := repo.Get(ctx, "u1", "evt-1", "rsn-1")
	require.NoError(t, err)
	assert.Equal(t, VoteHelpful, vote)
}

func TestUpsertLastWriteWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "u1", "evt-1", "rsn-1", VoteHelpful, voteAt)
	require.NoError(t, err)
	overwritten, err := repo.Upsert(ctx, "u1", "evt-1", "rsn-1", VoteNotHelpful, voteAt.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, overwritten)

	vote, err := repo.Get(ctx, "u1", "evt-1", "rsn-1")
	require.NoError(t, err)
	assert.Equal(t, VoteNotHelpful, vote)
}

func TestUpsertRollsBackOnUnknownReason(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "u1", "evt-1", "rsn-missing", VoteHelpful, voteAt)
	require.Error(t, err, "foreign key on reason_id rejects the write")

	_, err = repo.Get(ctx, "u1", "evt-1", "rsn-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound, "the failed vote leaves no row behind")
}

func TestNormalizeVote(t *testing.T) {
	vote, err := NormalizeVote(" Helpful ")
	require.NoError(t, err)
	assert.Equal(t, VoteHelpful, vote)

	_, err = NormalizeVote("meh")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAggregateBySymbol(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "u1", "evt-1", "rsn-1", VoteHelpful, voteAt)
	require.NoError(t, err)

	aggregates, err := repo.AggregateBySymbol(ctx, 5)
	require.NoError(t, err)
	require.Len(t, aggregates, 1)
	agg := aggregates[0]
	assert.Equal(t, "AAPL", agg.Symbol)
	assert.Equal(t, 1, agg.HelpfulCount)
	assert.Equal(t, 1, agg.TotalCount)
	assert.InDelta(t, 1.0, agg.HelpfulRatio, 1e-9)
	assert.True(t, agg.LowConfidence, "below min_samples")
}
