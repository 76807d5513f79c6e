package feed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/adapters"
	"github.com/ohmystock/ohmystock/internal/catalog"
	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/detector"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/observ"
	"github.com/ohmystock/ohmystock/internal/queue"
)

func TestHeadlinesProduceGateableCandidates(t *testing.T) {
	cat := catalog.New("test", catalog.Seed())
	source := NewHeadlines("newswire", cat, 1)

	window := adapters.TimeRange{
		Start: time.Date(2025, 8, 20, 13, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 8, 20, 15, 0, 0, 0, time.UTC),
	}
	candidates, err := source.Fetch(context.Background(), "AAPL", domain.MarketUS, window)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	for _, candidate := range candidates {
		assert.NotEmpty(t, candidate.Summary)
		assert.Contains(t, candidate.SourceURL, "https://")
		require.NotNil(t, candidate.PublishedAt)
		assert.False(t, candidate.PublishedAt.Before(window.Start))
		assert.False(t, candidate.PublishedAt.After(window.End))
	}
}

func TestHeadlinesURLsAreUnique(t *testing.T) {
	cat := catalog.New("test", catalog.Seed())
	source := NewHeadlines("newswire", cat, 1)
	window := adapters.TimeRange{
		Start: time.Date(2025, 8, 20, 13, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 8, 20, 15, 0, 0, 0, time.UTC),
	}

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		candidates, err := source.Fetch(context.Background(), "MSFT", domain.MarketUS, window)
		require.NoError(t, err)
		for _, candidate := range candidates {
			assert.False(t, seen[candidate.SourceURL], "duplicate url %s", candidate.SourceURL)
			seen[candidate.SourceURL] = true
		}
	}
}

func TestSimulatorKeepsPricesPositive(t *testing.T) {
	cat := catalog.New("test", catalog.Seed())
	clk := clock.NewFixed(time.Date(2025, 8, 20, 14, 30, 0, 0, time.UTC))
	metrics := observ.NewForTest()
	cfg := config.DetectorConfig{
		DefaultThresholdPct: map[int]float64{5: 3.0},
		Debounce:            map[int]time.Duration{5: 5 * time.Minute},
		DeltaPctForRealert:  2.0,
	}
	det := detector.New(cfg, clk, clock.NewSequenceIDs("evt"), nil, metrics, zerolog.Nop())
	work := queue.New(16, metrics, zerolog.Nop())
	simulator := NewSimulator(det, work, cat, clk, zerolog.Nop())

	for i := 0; i < 50; i++ {
		require.NoError(t, simulator.Run())
		clk.Advance(15 * time.Second)
	}
	for key, price := range simulator.prices {
		assert.Greater(t, price, 0.0, key)
	}
}
