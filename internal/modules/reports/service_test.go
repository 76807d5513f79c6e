package reports

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
	ohtest "github.com/ohmystock/ohmystock/internal/testing"
)

var reportAt = time.Date(2025, 8, 20, 15, 0, 0, 0, time.UTC)

type fakeEventStore struct {
	event  domain.PriceEvent
	reason domain.EventReason
}

func (f *fakeEventStore) GetEvent(_ context.Context, eventID string) (domain.PriceEvent, error) {
	if eventID != f.event.ID {
		return domain.PriceEvent{}, domain.ErrNotFound
	}
	return f.event, nil
}

func (f *fakeEventStore) GetReason(_ context.Context, reasonID string) (domain.EventReason, error) {
	if reasonID != f.reason.ID {
		return domain.EventReason{}, domain.ErrNotFound
	}
	return f.reason, nil
}

type fakeRerunner struct {
	after float64
	calls int
	err   error
}

func (f *fakeRerunner) Rerun(_ context.Context, _ domain.PriceEvent, reason domain.EventReason) (domain.EventReason, error) {
	f.calls++
	if f.err != nil {
		return domain.EventReason{}, f.err
	}
	reason.ConfidenceScore = f.after
	return reason, nil
}

func newTestService(t *testing.T) (*Service, *Repository, *fakeRerunner, *clock.Fixed) {
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

	repo := NewRepository(conn, zerolog.Nop())
	store := &fakeEventStore{
		event: domain.PriceEvent{ID: "evt-1", Market: domain.MarketUS, Symbol: "AAPL", ChangePct: 4.2, WindowMinutes: 5, DetectedAt: reportAt.Add(-30 * time.Minute)},
		reason: domain.EventReason{
			ID:              "rsn-1",
			EventID:         "evt-1",
			Rank:            1,
			ReasonType:      domain.ReasonTypeNews,
			ConfidenceScore: 0.9,
			Summary:         "s",
			SourceURL:       "https://reuters.com/a",
			PublishedAt:     reportAt.Add(-3 * time.Hour),
		},
	}
	rerunner := &fakeRerunner{after: 0.55}
	clk := clock.NewFixed(reportAt)
	service := NewService(repo, store, rerunner, clk, clock.NewSequenceIDs("rep"), zerolog.Nop())
	return service, repo, rerunner, clk
}

func TestFileCreatesReceivedReportWithInitialTransition(t *testing.T) {
	service, repo, _, _ := newTestService(t)
	ctx := context.Background()

	report, err := service.File(ctx, "u1", "evt-1", "rsn-1", "Inaccurate_Reason", " wrong article ")
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, report.Status)
	assert.Equal(t, TypeInaccurateReason, report.ReportType)
	assert.Equal(t, "wrong article", report.Note)
	assert.Equal(t, reportAt, report.CreatedAt)

	transitions, err := repo.TransitionsByEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Empty(t, transitions[0].FromStatus)
	assert.Equal(t, StatusReceived, transitions[0].ToStatus)
}

func TestFileRejectsSecondOpenReport(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.File(ctx, "u1", "evt-1", "rsn-1", TypeWrongSource, "")
	require.NoError(t, err)
	_, err = service.File(ctx, "u1", "evt-1", "rsn-1", TypeOther, "")
	assert.ErrorIs(t, err, ErrDuplicateOpenReport)
}

func TestFileAllowedAgainAfterResolve(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	report, err := service.File(ctx, "u1", "evt-1", "rsn-1", TypeWrongSource, "")
	require.NoError(t, err)
	_, err = service.Advance(ctx, report.ID, StatusResolved, "fixed", false)
	require.NoError(t, err)

	_, err = service.File(ctx, "u1", "evt-1", "rsn-1", TypeOther, "")
	assert.NoError(t, err)
}

func TestFileRejectsForeignReason(t *testing.T) {
	service, _, _, _ := newTestService(t)

	_, err := service.File(context.Background(), "u1", "evt-other", "rsn-1", TypeOther, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFileRejectsUnknownReportType(t *testing.T) {
	service, _, _, _ := newTestService(t)

	_, err := service.File(context.Background(), "u1", "evt-1", "rsn-1", "spam", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAdvanceWalksForwardOnly(t *testing.T) {
	service, _, _, clk := newTestService(t)
	ctx := context.Background()

	report, err := service.File(ctx, "u1", "evt-1", "rsn-1", TypeOutdatedInformation, "")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	reviewed, err := service.Advance(ctx, report.ID, StatusReviewed, "looking", false)
	require.NoError(t, err)
	assert.Equal(t, StatusReviewed, reviewed.Status)
	assert.Equal(t, reportAt.Add(time.Minute), reviewed.UpdatedAt)

	clk.Advance(time.Minute)
	resolved, err := service.Advance(ctx, report.ID, StatusResolved, "done", false)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)

	_, err = service.Advance(ctx, report.ID, StatusReviewed, "", false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "resolved is terminal")
}

func TestAdvanceAllowsSkipToResolved(t *testing.T) {
	service, repo, _, _ := newTestService(t)
	ctx := context.Background()

	report, err := service.File(ctx, "u1", "evt-1", "rsn-1", TypeOther, "")
	require.NoError(t, err)
	resolved, err := service.Advance(ctx, report.ID, StatusResolved, "", false)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)

	transitions, err := repo.TransitionsByEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, StatusReceived, transitions[1].FromStatus)
	assert.Equal(t, StatusResolved, transitions[1].ToStatus)
}

func TestAdvanceRejectsUnknownStatus(t *testing.T) {
	service, _, _, _ := newTestService(t)

	_, err := service.Advance(context.Background(), "whatever", "archived", "", false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestResolveWithAdjustConfidenceWritesRevision(t *testing.T) {
	service, repo, rerunner, clk := newTestService(t)
	ctx := context.Background()

	report, err := service.File(ctx, "u1", "evt-1", "rsn-1", TypeInaccurateReason, "")
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = service.Advance(ctx, report.ID, StatusResolved, "re-scored", true)
	require.NoError(t, err)
	assert.Equal(t, 1, rerunner.calls)

	revisions, err := repo.RevisionsByEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, revisions, 1)
	revision := revisions[0]
	assert.Equal(t, report.ID, revision.ReportID)
	assert.Equal(t, "rsn-1", revision.ReasonID)
	assert.Equal(t, TypeInaccurateReason, revision.RevisionReason)
	assert.InDelta(t, 0.9, revision.ConfidenceBefore, 1e-9)
	assert.InDelta(t, 0.55, revision.ConfidenceAfter, 1e-9)
	assert.Equal(t, reportAt.Add(2*time.Minute), revision.RevisedAt)
}

func TestResolveWithoutAdjustSkipsRerun(t *testing.T) {
	service, repo, rerunner, _ := newTestService(t)
	ctx := context.Background()

	report, err := service.File(ctx, "u1", "evt-1", "rsn-1", TypeWrongSource, "")
	require.NoError(t, err)
	_, err = service.Advance(ctx, report.ID, StatusResolved, "", false)
	require.NoError(t, err)

	assert.Zero(t, rerunner.calls)
	revisions, err := repo.RevisionsByEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, revisions)
}

func TestResolveSurvivesRerunFailure(t *testing.T) {
	service, repo, rerunner, _ := newTestService(t)
	rerunner.err = domain.ErrTransient
	ctx := context.Background()

	report, err := service.File(ctx, "u1", "evt-1", "rsn-1", TypeOther, "")
	require.NoError(t, err)
	resolved, err := service.Advance(ctx, report.ID, StatusResolved, "", true)
	require.NoError(t, err, "the transition commits even when re-scoring fails")
	assert.Equal(t, StatusResolved, resolved.Status)

	revisions, err := repo.RevisionsByEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, revisions)
}

func TestHintReflectsLatestTransition(t *testing.T) {
	service, repo, _, clk := newTestService(t)
	ctx := context.Background()

	has, latest, err := repo.Hint(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, latest)

	report, err := service.File(ctx, "u1", "evt-1", "rsn-1", TypeOther, "")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = service.Advance(ctx, report.ID, StatusReviewed, "", false)
	require.NoError(t, err)

	has, latest, err = repo.Hint(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, StatusReviewed, latest)
}

func TestCanTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusReceived, StatusReviewed))
	assert.True(t, CanTransition(StatusReceived, StatusResolved))
	assert.True(t, CanTransition(StatusReviewed, StatusResolved))
	assert.False(t, CanTransition(StatusReviewed, StatusReceived))
	assert.False(t, CanTransition(StatusResolved, StatusReviewed))
	assert.False(t, CanTransition(StatusResolved, StatusResolved))
}
