// Package feed provides the dev-mode tick source: a random-walk price feed
// over the catalog that keeps the detection pipeline exercised without an
// upstream market-data vendor.
package feed

import (
	"context"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/catalog"
	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/detector"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/queue"
)

// Simulator walks prices for every active catalog security and feeds the
// detector. Detected events go onto the reason queue; a full queue drops the
// event with a warning, the next crossing re-alerts.
type Simulator struct {
	detector *detector.Detector
	queue    *queue.Queue
	cat      *catalog.Catalog
	clk      clock.Clock
	log      zerolog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

// NewSimulator creates a simulator seeded from the clock.
func NewSimulator(det *detector.Detector, q *queue.Queue, cat *catalog.Catalog, clk clock.Clock, log zerolog.Logger) *Simulator {
	return &Simulator{
		detector: det,
		queue:    q,
		cat:      cat,
		clk:      clk,
		log:      log.With().Str("component", "feed_simulator").Logger(),
		rng:      rand.New(rand.NewSource(clk.Now().UnixNano())),
		prices:   make(map[string]float64),
	}
}

// Name implements scheduler.Job.
func (s *Simulator) Name() string { return "tick_simulator" }

// Run emits one tick per active security.
func (s *Simulator) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	for _, market := range domain.Markets() {
		for _, sec := range s.cat.ByMarket(market) {
			price := s.step(market, sec.Ticker)
			events := s.detector.Ingest(context.Background(), detector.Tick{
				Symbol: sec.Ticker,
				Market: market,
				At:     now,
				Price:  price,
			})
			for _, event := range events {
				if err := s.queue.Publish(event); err != nil {
					s.log.Warn().Err(err).
						Str("event_id", event.ID).
						Str("symbol", event.Symbol).
						Msg("Dropping detected event, queue full")
				}
			}
		}
	}
	return nil
}

// step advances one symbol's random walk. Most steps drift under 0.5%; a
// small fraction jump a few percent so thresholds actually trip in dev.
func (s *Simulator) step(market domain.Market, ticker string) float64 {
	key := string(market) + ":" + ticker
	price, ok := s.prices[key]
	if !ok {
		price = 50 + s.rng.Float64()*450
	}

	drift := s.rng.NormFloat64() * 0.004
	if s.rng.Float64() < 0.02 {
		jump := 0.03 + s.rng.Float64()*0.04
		if s.rng.Float64() < 0.5 {
			jump = -jump
		}
		drift += jump
	}

	price *= 1 + drift
	if price < 1 {
		price = 1
	}
	s.prices[key] = price
	return price
}
