package briefs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/modules/watchlist"
	"github.com/ohmystock/ohmystock/internal/observ"
	ohtest "github.com/ohmystock/ohmystock/internal/testing"
)

// Wednesday, inside the US regular session.
var briefAt = time.Date(2025, 8, 20, 14, 30, 0, 0, time.UTC)

type fakeEvents struct {
	events  []domain.PriceEvent
	reasons map[string][]domain.EventReason
	failed  bool
	queried bool
}

func (f *fakeEvents) TopByMagnitude(_ context.Context, pairs [][2]string, _ time.Time, limit int) ([]domain.PriceEvent, error) {
	f.queried = true
	if len(pairs) == 0 {
		return nil, nil
	}
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeEvents) GetReasons(_ context.Context, eventID string) ([]domain.EventReason, error) {
	return f.reasons[eventID], nil
}

func (f *fakeEvents) HasFailedFetches(context.Context, []string) (bool, error) {
	return f.failed, nil
}

type builderFixture struct {
	builder *Builder
	repo    *Repository
	events  *fakeEvents
	clk     *clock.Fixed
	conn    *sql.DB
}

func newBuilderFixture(t *testing.T, cfg config.BriefConfig) *builderFixture {
	t.Helper()
	db := ohtest.NewTestDB(t)
	conn := db.Conn()
	_, err := conn.Exec(
		`INSERT INTO users (id, email, password_hash, locale, created_at_utc) VALUES ('u1', 'u1@example.com', 'x', 'ko-KR', '2025-08-20T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.Exec(
		`INSERT INTO watchlist_items (id, user_id, market, symbol, created_at_utc) VALUES ('wl-1', 'u1', 'US', 'AAPL', '2025-08-20T00:00:00Z')`)
	require.NoError(t, err)

	repo := NewRepository(conn, zerolog.Nop())
	events := &fakeEvents{reasons: map[string][]domain.EventReason{}}
	clk := clock.NewFixed(briefAt)
	builder := NewBuilder(repo, events, watchlist.NewRepository(conn, zerolog.Nop()), cfg,
		clk, clock.NewSequenceIDs("brf"), observ.NewForTest(), zerolog.Nop())
	return &builderFixture{builder: builder, repo: repo, events: events, clk: clk, conn: conn}
}

func defaultBriefConfig() config.BriefConfig {
	return config.BriefConfig{
		Lookback:     24 * time.Hour,
		TopN:         5,
		ContentFloor: 1,
		PostCloseTTL: 24 * time.Hour,
	}
}

func sampleEvent(id string, changePct float64) domain.PriceEvent {
	return domain.PriceEvent{
		ID:               id,
		Market:           domain.MarketUS,
		Symbol:           "AAPL",
		ChangePct:        changePct,
		WindowMinutes:    5,
		DetectedAt:       briefAt.Add(-2 * time.Hour),
		ExchangeTimezone: "America/New_York",
		SessionLabel:     domain.SessionRegular,
	}
}

func TestBuildCarriesTopReasonIntoItems(t *testing.T) {
	f := newBuilderFixture(t, defaultBriefConfig())
	f.events.events = []domain.PriceEvent{sampleEvent("evt-1", 7.5), sampleEvent("evt-2", 4.2)}
	f.events.reasons["evt-1"] = []domain.EventReason{{
		ID: "rsn-1", EventID: "evt-1", Rank: 1,
		Summary: "Earnings beat", SourceURL: "https://reuters.com/a",
	}}
	ctx := context.Background()

	f.builder.BuildForMarket(ctx, TypePreMarket, domain.MarketUS)

	briefs, meta, err := f.repo.ListByUser(ctx, "u1", 20, briefAt)
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.Equal(t, 1, meta.Unread)

	brief, items, err := f.repo.Get(ctx, "u1", briefs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, TypePreMarket, brief.BriefType)
	assert.Empty(t, brief.FallbackReason)
	assert.Equal(t, StatusUnread, brief.Status)
	assert.Equal(t, []domain.Market{domain.MarketUS}, brief.Markets)
	assert.True(t, brief.ExpiresAt.After(briefAt), "pre-market brief expires at the next regular open")

	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Position)
	assert.Equal(t, "evt-1", items[0].EventID)
	assert.Equal(t, "Earnings beat", items[0].Summary)
	assert.Equal(t, "https://reuters.com/a", items[0].SourceURL)
	assert.Equal(t, "/v1/events/evt-1", items[0].EventDetailURL)
	assert.Contains(t, items[1].Summary, "AAPL rose 4.20% over 5m", "reasonless events fall back to the move text")
}

func TestBuildNoEventsFallback(t *testing.T) {
	f := newBuilderFixture(t, defaultBriefConfig())
	ctx := context.Background()

	f.builder.BuildForMarket(ctx, TypePreMarket, domain.MarketUS)

	briefs, _, err := f.repo.ListByUser(ctx, "u1", 20, briefAt)
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.Equal(t, FallbackNoEvents, briefs[0].FallbackReason)

	_, items, err := f.repo.Get(ctx, "u1", briefs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestBuildPartialAggregationFallback(t *testing.T) {
	f := newBuilderFixture(t, defaultBriefConfig())
	f.events.events = []domain.PriceEvent{sampleEvent("evt-1", 7.5)}
	f.events.failed = true
	ctx := context.Background()

	f.builder.BuildForMarket(ctx, TypePostClose, domain.MarketUS)

	briefs, _, err := f.repo.ListByUser(ctx, "u1", 20, briefAt)
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.Equal(t, FallbackPartialAggregation, briefs[0].FallbackReason)
	_, items, err := f.repo.Get(ctx, "u1", briefs[0].ID)
	require.NoError(t, err)
	assert.Len(t, items, 1, "partial aggregation still ships what was found")
}

func TestBuildInsufficientDataFallback(t *testing.T) {
	cfg := defaultBriefConfig()
	cfg.ContentFloor = 2
	f := newBuilderFixture(t, cfg)
	f.events.events = []domain.PriceEvent{sampleEvent("evt-1", 7.5)}
	ctx := context.Background()

	f.builder.BuildForMarket(ctx, TypePostClose, domain.MarketUS)

	briefs, _, err := f.repo.ListByUser(ctx, "u1", 20, briefAt)
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.Equal(t, FallbackInsufficientData, briefs[0].FallbackReason)
}

func TestBuildMarketHolidayFallback(t *testing.T) {
	f := newBuilderFixture(t, defaultBriefConfig())
	f.events.events = []domain.PriceEvent{sampleEvent("evt-1", 7.5)}
	f.clk.Set(time.Date(2025, 8, 23, 14, 30, 0, 0, time.UTC)) // Saturday
	ctx := context.Background()

	f.builder.BuildForMarket(ctx, TypePreMarket, domain.MarketUS)

	briefs, _, err := f.repo.ListByUser(ctx, "u1", 20, f.clk.Now())
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.Equal(t, FallbackMarketHoliday, briefs[0].FallbackReason)
	assert.False(t, f.events.queried, "holiday short-circuits aggregation")
}

func TestBuildPostCloseExpiry(t *testing.T) {
	f := newBuilderFixture(t, defaultBriefConfig())
	ctx := context.Background()

	f.builder.BuildForMarket(ctx, TypePostClose, domain.MarketUS)

	briefs, _, err := f.repo.ListByUser(ctx, "u1", 20, briefAt)
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.Equal(t, briefAt.Add(24*time.Hour), briefs[0].ExpiresAt)
}

func TestListCountsExpired(t *testing.T) {
	f := newBuilderFixture(t, defaultBriefConfig())
	ctx := context.Background()
	f.builder.BuildForMarket(ctx, TypePostClose, domain.MarketUS)

	later := briefAt.Add(25 * time.Hour)
	briefs, meta, err := f.repo.ListByUser(ctx, "u1", 20, later)
	require.NoError(t, err)
	require.Len(t, briefs, 1, "expired briefs stay listed")
	assert.True(t, briefs[0].Expired(later))
	assert.Equal(t, Meta{Total: 1, Unread: 1, Expired: 1}, meta)
}

func TestMarkReadScopedAndIdempotent(t *testing.T) {
	f := newBuilderFixture(t, defaultBriefConfig())
	ctx := context.Background()
	f.builder.BuildForMarket(ctx, TypePostClose, domain.MarketUS)
	briefs, _, err := f.repo.ListByUser(ctx, "u1", 20, briefAt)
	require.NoError(t, err)
	briefID := briefs[0].ID

	require.NoError(t, f.repo.MarkRead(ctx, "u1", briefID))
	require.NoError(t, f.repo.MarkRead(ctx, "u1", briefID))

	_, meta, err := f.repo.ListByUser(ctx, "u1", 20, briefAt)
	require.NoError(t, err)
	assert.Zero(t, meta.Unread)

	err = f.repo.MarkRead(ctx, "other", briefID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
