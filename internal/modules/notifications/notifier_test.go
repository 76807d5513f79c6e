package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/observ"
	ohtest "github.com/ohmystock/ohmystock/internal/testing"
)

var notifyAt = time.Date(2025, 8, 20, 14, 30, 0, 0, time.UTC)

type fakeWatchers struct {
	users []string
}

func (f *fakeWatchers) UsersWatching(context.Context, domain.Market, string) ([]string, error) {
	return f.users, nil
}

type fakeThresholds struct {
	overrides map[string]float64
}

func (f *fakeThresholds) Effective(_ context.Context, userID string, _ int, systemDefault float64) (float64, error) {
	if pct, ok := f.overrides[userID]; ok {
		return pct, nil
	}
	return systemDefault, nil
}

type notifierFixture struct {
	notifier   *Notifier
	repo       *Repository
	conn       *sql.DB
	clk        *clock.Fixed
	watchers   *fakeWatchers
	thresholds *fakeThresholds
}

func newNotifierFixture(t *testing.T) *notifierFixture {
	t.Helper()
	db := ohtest.NewTestDB(t)
	conn := db.Conn()
	for _, userID := range []string{"u1", "u2"} {
		_, err := conn.Exec(
			`INSERT INTO users (id, email, password_hash, locale, created_at_utc) VALUES (?, ?, 'x', 'ko-KR', '2025-08-20T00:00:00Z')`,
			userID, userID+"@example.com")
		require.NoError(t, err)
	}

	repo := NewRepository(conn, zerolog.Nop())
	clk := clock.NewFixed(notifyAt)
	watchers := &fakeWatchers{users: []string{"u1"}}
	thresholds := &fakeThresholds{overrides: map[string]float64{}}
	notifier := NewNotifier(repo, watchers, thresholds,
		config.NotifierConfig{
			CooldownByChannel: map[string]time.Duration{
				ChannelInApp: 30 * time.Minute,
				ChannelEmail: 30 * time.Minute,
			},
			PromotionAfter: 24 * time.Hour,
		},
		config.DetectorConfig{
			DefaultThresholdPct: map[int]float64{5: 3.0, 1440: 5.0},
			DeltaPctForRealert:  2.0,
		},
		clk, clock.NewSequenceIDs("ntf"), observ.NewForTest(), zerolog.Nop())
	return &notifierFixture{notifier: notifier, repo: repo, conn: conn, clk: clk, watchers: watchers, thresholds: thresholds}
}

// seedEvent inserts the price event row the notifier's join depends on.
func (f *notifierFixture) seedEvent(t *testing.T, id string, changePct float64, session domain.SessionLabel, detectedAt time.Time) domain.PriceEvent {
	t.Helper()
	event := domain.PriceEvent{
		ID:               id,
		Market:           domain.MarketUS,
		Symbol:           "AAPL",
		ChangePct:        changePct,
		WindowMinutes:    5,
		DetectedAt:       detectedAt,
		ExchangeTimezone: "America/New_York",
		SessionLabel:     session,
	}
	_, err := f.conn.Exec(
		`INSERT INTO price_events (id, market, symbol, change_pct, window_minutes, detected_at_utc, exchange_timezone, session_label)
		 VALUES (?, 'US', 'AAPL', ?, 5, ?, 'America/New_York', ?)`,
		id, changePct, domain.FormatUTC(detectedAt), string(session))
	require.NoError(t, err)
	return event
}

func TestNotifySendsOnBothChannels(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	event := f.seedEvent(t, "evt-1", 4.2, domain.SessionRegular, notifyAt)

	f.notifier.Notify(ctx, event)

	items, unread, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, unread)
	seen := map[string]bool{}
	for _, item := range items {
		seen[item.Channel] = true
		assert.Equal(t, StatusSent, item.Status)
		assert.False(t, item.Delta)
		assert.Contains(t, item.Message, "AAPL (US) rose 4.20% over 5m")
	}
	assert.True(t, seen[ChannelInApp])
	assert.True(t, seen[ChannelEmail])
}

func TestNotifyHonorsPerUserThreshold(t *testing.T) {
	f := newNotifierFixture(t)
	f.watchers.users = []string{"u1", "u2"}
	f.thresholds.overrides["u2"] = 6.0
	ctx := context.Background()
	event := f.seedEvent(t, "evt-1", 4.2, domain.SessionRegular, notifyAt)

	f.notifier.Notify(ctx, event)

	_, unread1, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, unread1)
	items2, _, err := f.repo.ListByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, items2, "u2's 6.0 threshold exceeds the 4.2 move")
}

func TestNotifyCooldownSuppressesSmallFollowUp(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-1", 4.2, domain.SessionRegular, notifyAt))

	f.clk.Advance(10 * time.Minute)
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-2", 5.0, domain.SessionRegular, notifyAt.Add(10*time.Minute)))

	items, _, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, items, 2, "0.8pp follow-up stays inside the cooldown")
}

func TestNotifyDeltaRealertBypassesCooldown(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-1", 4.2, domain.SessionRegular, notifyAt))

	f.clk.Advance(10 * time.Minute)
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-2", 7.5, domain.SessionRegular, notifyAt.Add(10*time.Minute)))

	items, _, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 4, "3.3pp jump re-alerts on both channels")
	deltas := 0
	for _, item := range items {
		if item.Delta {
			deltas++
			assert.Contains(t, item.Message, "delta re-alert")
			assert.Equal(t, "evt-2", item.EventID)
		}
	}
	assert.Equal(t, 2, deltas)
}

func TestNotifyResumesAfterCooldownElapses(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-1", 4.2, domain.SessionRegular, notifyAt))

	f.clk.Advance(31 * time.Minute)
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-2", 4.5, domain.SessionRegular, notifyAt.Add(31*time.Minute)))

	items, _, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 4)
	for _, item := range items {
		assert.False(t, item.Delta)
	}
}

func TestNotifySkipsClosedSession(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-1", 4.2, domain.SessionClosed, notifyAt))

	items, _, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNotifyDispatchIsIdempotentPerEvent(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	event := f.seedEvent(t, "evt-1", 4.2, domain.SessionRegular, notifyAt)

	f.notifier.Notify(ctx, event)
	f.notifier.Notify(ctx, event)

	items, _, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestMarkReadTransitions(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-1", 4.2, domain.SessionRegular, notifyAt))

	items, _, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	target := items[0]

	read, err := f.repo.MarkRead(ctx, "u1", target.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, read.Status)

	again, err := f.repo.MarkRead(ctx, "u1", target.ID)
	require.NoError(t, err, "marking read twice is a no-op")
	assert.Equal(t, StatusRead, again.Status)

	_, _, err = f.repo.Last(ctx, "u1", domain.MarketUS, "AAPL", target.Channel)
	require.NoError(t, err)

	_, err = f.repo.MarkRead(ctx, "u2", target.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "scoped to the owning user")

	_, unread, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestPromoteStaleAgesUnreadInApp(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	f.notifier.Notify(ctx, f.seedEvent(t, "evt-1", 4.2, domain.SessionRegular, notifyAt))

	f.clk.Advance(25 * time.Hour)
	f.notifier.PromoteStale(ctx)

	items, unread, err := f.repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	byChannel := map[string]string{}
	for _, item := range items {
		byChannel[item.Channel] = item.Status
	}
	assert.Equal(t, StatusCooldown, byChannel[ChannelInApp])
	assert.Equal(t, StatusSent, byChannel[ChannelEmail], "promotion only ages in_app rows")
	assert.Equal(t, 1, unread)

	_, err = f.repo.MarkRead(ctx, "u1", idOfChannel(items, ChannelInApp))
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "cooldown rows cannot become read")
}

func idOfChannel(items []Notification, channel string) string {
	for _, item := range items {
		if item.Channel == channel {
			return item.ID
		}
	}
	return ""
}

func TestRenderMessageDirection(t *testing.T) {
	event := domain.PriceEvent{Symbol: "005930", Market: domain.MarketKR, ChangePct: -3.4, WindowMinutes: 5, SessionLabel: domain.SessionRegular}
	message := renderMessage(event, false)
	assert.Equal(t, fmt.Sprintf("005930 (KR) fell 3.40%% over 5m during the %s session", domain.SessionRegular), message)
}
