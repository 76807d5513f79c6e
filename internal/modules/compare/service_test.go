package compare

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/domain"
	ohtest "github.com/ohmystock/ohmystock/internal/testing"
)

var compareAt = time.Date(2025, 8, 20, 15, 0, 0, 0, time.UTC)

type fakeEvents struct {
	event      domain.PriceEvent
	reasons    []domain.EventReason
	getCalls   int
	reasonCall int
}

func (f *fakeEvents) GetEvent(_ context.Context, eventID string) (domain.PriceEvent, error) {
	f.getCalls++
	if eventID != f.event.ID {
		return domain.PriceEvent{}, domain.ErrNotFound
	}
	return f.event, nil
}

func (f *fakeEvents) GetReasons(context.Context, string) ([]domain.EventReason, error) {
	f.reasonCall++
	return f.reasons, nil
}

func reasonWith(id, summary string) domain.EventReason {
	return domain.EventReason{
		ID:          id,
		EventID:     "evt-1",
		ReasonType:  domain.ReasonTypeNews,
		Summary:     summary,
		SourceURL:   "https://reuters.com/" + id,
		PublishedAt: compareAt.Add(-2 * time.Hour),
	}
}

func newCompareFixture(t *testing.T, changePct float64, reasons []domain.EventReason) (*Service, *fakeEvents, *clock.Fixed) {
	t.Helper()
	db := ohtest.NewTestDB(t)
	events := &fakeEvents{
		event:   domain.PriceEvent{ID: "evt-1", Market: domain.MarketUS, Symbol: "AAPL", ChangePct: changePct, WindowMinutes: 5},
		reasons: reasons,
	}
	clk := clock.NewFixed(compareAt)
	service := NewService(db.Conn(), events, config.CompareConfig{
		MinCompareItems: 2,
		ImbalanceRatio:  4.0,
		CacheTTL:        5 * time.Minute,
	}, clk, zerolog.Nop())
	return service, events, clk
}

func TestGetReadyCard(t *testing.T) {
	service, _, _ := newCompareFixture(t, 4.2, []domain.EventReason{
		reasonWith("a", "Quarterly earnings beat estimates, record profit"),
		reasonWith("b", "Regulator opens probe into accounting, lawsuit risk"),
	})

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, payload.Status)
	assert.Empty(t, payload.FallbackReason)
	assert.Len(t, payload.Positive, 1)
	assert.Len(t, payload.Negative, 1)
	assert.Empty(t, payload.Uncertain)
	assert.NotEmpty(t, payload.BiasWarning)
}

func TestPositiveTextOnFallingEventLandsNegative(t *testing.T) {
	bullish := reasonWith("a", "Record profit and strong growth reported")
	bearish := reasonWith("b", "Shares plunge after downgrade and weak guidance")
	assert.Equal(t, AxisNegative, classify(bullish, -5.1), "bullish text opposes a falling move")
	assert.Equal(t, AxisNegative, classify(bearish, -5.1))

	// Both items on one axis means the card cannot render as a comparison.
	service, _, _ := newCompareFixture(t, -5.1, []domain.EventReason{bullish, bearish})
	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, payload.Status)
	assert.Equal(t, FallbackAxisImbalance, payload.FallbackReason)
	assert.Empty(t, payload.Positive)
	assert.Empty(t, payload.Negative)
	assert.Len(t, payload.Uncertain, 2)
}

func TestNeutralTextIsUncertain(t *testing.T) {
	service, _, _ := newCompareFixture(t, 4.2, []domain.EventReason{
		reasonWith("a", "Company schedules shareholder meeting"),
		reasonWith("b", "Annual report published on schedule"),
	})

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Len(t, payload.Uncertain, 2)
	assert.Equal(t, StatusUnavailable, payload.Status)
	assert.Equal(t, FallbackAmbiguousClassification, payload.FallbackReason)
}

func TestMalformedReasonKeepsEmptyFields(t *testing.T) {
	malformed := domain.EventReason{ID: "a", EventID: "evt-1", ReasonType: domain.ReasonTypeOther, Summary: "Record profit surge"}
	service, _, _ := newCompareFixture(t, 4.2, []domain.EventReason{
		malformed,
		reasonWith("b", "Probe and lawsuit announced"),
	})

	assert.Equal(t, AxisUncertain, classify(malformed, 4.2), "missing source_url forces uncertain despite polar text")

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, payload.Uncertain, 2)
	// Empty published_at sorts after the dated item.
	assert.Empty(t, payload.Uncertain[1].SourceURL)
	assert.Empty(t, payload.Uncertain[1].PublishedAt)
	assert.Equal(t, "Record profit surge", payload.Uncertain[1].Summary)
}

func TestInsufficientEvidenceFallback(t *testing.T) {
	service, _, _ := newCompareFixture(t, 4.2, []domain.EventReason{
		reasonWith("a", "Earnings beat"),
	})

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, payload.Status)
	assert.Equal(t, FallbackInsufficientEvidence, payload.FallbackReason)
}

func TestMissingSourceMetadataFallback(t *testing.T) {
	service, _, _ := newCompareFixture(t, 4.2, []domain.EventReason{
		{ID: "a", EventID: "evt-1", Summary: "Record surge"},
		{ID: "b", EventID: "evt-1", Summary: "Lawsuit filed"},
	})

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, payload.Status)
	assert.Equal(t, FallbackMissingSourceMetadata, payload.FallbackReason)
	assert.Len(t, payload.Uncertain, 2)
}

func TestAxisImbalanceFallback(t *testing.T) {
	reasons := []domain.EventReason{
		reasonWith("n", "Lawsuit and probe announced"),
	}
	for i := 0; i < 5; i++ {
		reasons = append(reasons, reasonWith(string(rune('a'+i)), "Earnings beat, record profit surge"))
	}
	service, _, _ := newCompareFixture(t, 4.2, reasons)

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, payload.Status)
	assert.Equal(t, FallbackAxisImbalance, payload.FallbackReason)
	assert.Empty(t, payload.Positive, "fallback cards never ship a one-sided axis")
	assert.Empty(t, payload.Negative)
	assert.Len(t, payload.Uncertain, 6)
}

func TestOneSidedEvidenceShipsAxisImbalance(t *testing.T) {
	service, _, _ := newCompareFixture(t, 4.2, []domain.EventReason{
		reasonWith("a", "Earnings beat, record profit"),
		reasonWith("b", "New contract win and strong growth"),
	})

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, payload.Status)
	assert.Equal(t, FallbackAxisImbalance, payload.FallbackReason)
	assert.Empty(t, payload.Positive)
	assert.Empty(t, payload.Negative)
	require.Len(t, payload.Uncertain, 2)
	// Equal timestamps tie-break on source_url, descending.
	assert.Equal(t, "https://reuters.com/b", payload.Uncertain[0].SourceURL)
	assert.Equal(t, "https://reuters.com/a", payload.Uncertain[1].SourceURL)
}

func TestImbalanceRatioBoundaryFallsBack(t *testing.T) {
	// 4:1 sits exactly on the configured ratio and is already biased.
	reasons := []domain.EventReason{
		reasonWith("n", "Lawsuit and probe announced"),
	}
	for i := 0; i < 4; i++ {
		reasons = append(reasons, reasonWith(string(rune('a'+i)), "Earnings beat, record profit surge"))
	}
	service, _, _ := newCompareFixture(t, 4.2, reasons)

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, payload.Status)
	assert.Equal(t, FallbackAxisImbalance, payload.FallbackReason)
	assert.Len(t, payload.Uncertain, 5)
}

func TestLopsidedButTolerableSplitStaysReady(t *testing.T) {
	// 3:1 is under the 4.0 ratio, so the card still renders.
	reasons := []domain.EventReason{
		reasonWith("n", "Lawsuit and probe announced"),
	}
	for i := 0; i < 3; i++ {
		reasons = append(reasons, reasonWith(string(rune('a'+i)), "Earnings beat, record profit surge"))
	}
	service, _, _ := newCompareFixture(t, 4.2, reasons)

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, payload.Status)
	assert.Len(t, payload.Positive, 3)
	assert.Len(t, payload.Negative, 1)
}

func TestExplicitAxisMarkerOverridesHeuristic(t *testing.T) {
	service, _, _ := newCompareFixture(t, 4.2, []domain.EventReason{
		reasonWith("a", "sentiment: negative despite record profit surge"),
		reasonWith("b", "axis=positive on new contract"),
	})

	payload, err := service.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Len(t, payload.Negative, 1)
	assert.Len(t, payload.Positive, 1)
	assert.Equal(t, StatusReady, payload.Status)
}

func TestKoreanPolarityTerms(t *testing.T) {
	assert.Positive(t, polarity("신규 수주 확보로 급등"))
	assert.Negative(t, polarity("소송 리스크로 급락"))
}

func TestCacheServesWithinTTL(t *testing.T) {
	service, events, clk := newCompareFixture(t, 4.2, []domain.EventReason{
		reasonWith("a", "Earnings beat, record profit"),
		reasonWith("b", "Lawsuit filed, probe opened"),
	})
	ctx := context.Background()

	first, err := service.Get(ctx, "evt-1")
	require.NoError(t, err)
	require.Equal(t, 1, events.getCalls)

	clk.Advance(time.Minute)
	second, err := service.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, events.getCalls, "fresh cache skips recomputation")
	assert.Equal(t, first, second)

	clk.Advance(10 * time.Minute)
	_, err = service.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 2, events.getCalls, "stale cache triggers a rebuild")
}

func TestEvictDropsStaleRows(t *testing.T) {
	service, events, clk := newCompareFixture(t, 4.2, []domain.EventReason{
		reasonWith("a", "Earnings beat, record profit"),
		reasonWith("b", "Lawsuit filed, probe opened"),
	})
	ctx := context.Background()
	_, err := service.Get(ctx, "evt-1")
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	service.Evict(ctx)

	_, err = service.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 2, events.getCalls)
}
