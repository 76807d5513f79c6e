// Package detector turns tick streams into price events: rolling percent
// change per window, threshold comparison, debounce with delta re-alert,
// and trading-session labeling.
package detector

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/marketsession"
	"github.com/ohmystock/ohmystock/internal/observ"
)

// Tick is one price observation.
type Tick struct {
	Symbol string
	Market domain.Market
	At     time.Time
	Price  float64
}

type windowKey struct {
	market domain.Market
	symbol string
	window int
}

type debounceState struct {
	lastEmit      time.Time
	lastChangePct float64
}

// FloorSource reports the lowest per-user threshold among users watching a
// symbol, so settings below the system default still detect. Implemented by
// the thresholds repository; a nil source keeps the system defaults.
type FloorSource interface {
	MinWatcherThreshold(ctx context.Context, market domain.Market, symbol string, windowMinutes int) (float64, bool, error)
}

// Detector holds per-(symbol,window) tick buffers and debounce state.
// Ingest is safe for concurrent use.
type Detector struct {
	cfg     config.DetectorConfig
	clk     clock.Clock
	ids     clock.IDs
	floors  FloorSource
	metrics *observ.Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	buffers  map[windowKey][]Tick
	debounce map[windowKey]debounceState
}

// New builds a Detector using the configured windows and thresholds.
func New(cfg config.DetectorConfig, clk clock.Clock, ids clock.IDs, floors FloorSource, metrics *observ.Metrics, log zerolog.Logger) *Detector {
	return &Detector{
		cfg:      cfg,
		clk:      clk,
		ids:      ids,
		floors:   floors,
		metrics:  metrics,
		log:      log.With().Str("component", "detector").Logger(),
		buffers:  make(map[windowKey][]Tick),
		debounce: make(map[windowKey]debounceState),
	}
}

// DefaultThreshold returns the system default threshold for a window.
func (d *Detector) DefaultThreshold(windowMinutes int) (float64, bool) {
	threshold, ok := d.cfg.DefaultThresholdPct[windowMinutes]
	return threshold, ok
}

// Ingest feeds one tick and returns any events it produced, strongest move
// first. NaN/Inf prices and non-positive references drop the symbol for this
// cycle with a warning.
func (d *Detector) Ingest(ctx context.Context, tick Tick) []domain.PriceEvent {
	if math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) {
		d.log.Warn().Str("symbol", tick.Symbol).Msg("Dropping tick with non-finite price")
		return nil
	}
	tick.At = tick.At.UTC()

	// Floor lookups hit the database, so resolve them before taking the lock.
	thresholds := make(map[int]float64, len(d.cfg.DefaultThresholdPct))
	for windowMinutes, systemDefault := range d.cfg.DefaultThresholdPct {
		thresholds[windowMinutes] = d.effectiveThreshold(ctx, tick, windowMinutes, systemDefault)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var events []domain.PriceEvent
	for windowMinutes, threshold := range thresholds {
		if event, ok := d.observe(tick, windowMinutes, threshold); ok {
			events = append(events, event)
		}
	}

	// Simultaneous crossings for the same symbol: stronger move first, then
	// earlier detection.
	sort.SliceStable(events, func(i, j int) bool {
		ai, aj := math.Abs(events[i].ChangePct), math.Abs(events[j].ChangePct)
		if ai != aj {
			return ai > aj
		}
		return events[i].DetectedAt.Before(events[j].DetectedAt)
	})
	return events
}

// effectiveThreshold lowers the system default to the most sensitive
// watcher's threshold. Users can only tighten detection, never loosen it for
// everyone else.
func (d *Detector) effectiveThreshold(ctx context.Context, tick Tick, windowMinutes int, systemDefault float64) float64 {
	if d.floors == nil {
		return systemDefault
	}
	floor, ok, err := d.floors.MinWatcherThreshold(ctx, tick.Market, tick.Symbol, windowMinutes)
	if err != nil {
		d.log.Warn().Err(err).
			Str("symbol", tick.Symbol).
			Msg("Watcher threshold lookup failed, using system default")
		return systemDefault
	}
	if ok && floor < systemDefault {
		return floor
	}
	return systemDefault
}

func (d *Detector) observe(tick Tick, windowMinutes int, threshold float64) (domain.PriceEvent, bool) {
	key := windowKey{market: tick.Market, symbol: tick.Symbol, window: windowMinutes}
	cutoff := tick.At.Add(-time.Duration(windowMinutes) * time.Minute)

	buffer := append(d.buffers[key], tick)
	pruned := buffer[:0]
	for _, t := range buffer {
		if !t.At.Before(cutoff) {
			pruned = append(pruned, t)
		}
	}
	d.buffers[key] = pruned

	if len(pruned) < 2 {
		return domain.PriceEvent{}, false
	}
	reference := pruned[0]
	if reference.Price <= 0 {
		d.log.Warn().
			Str("symbol", tick.Symbol).
			Float64("reference", reference.Price).
			Msg("Dropping symbol for this cycle, non-positive reference price")
		return domain.PriceEvent{}, false
	}

	changePct := (tick.Price - reference.Price) / reference.Price * 100
	if math.IsNaN(changePct) || math.IsInf(changePct, 0) {
		return domain.PriceEvent{}, false
	}
	if math.Abs(changePct) < threshold {
		return domain.PriceEvent{}, false
	}

	state, seen := d.debounce[key]
	deltaRealert := false
	if seen {
		debounceFor := d.cfg.Debounce[windowMinutes]
		if tick.At.Sub(state.lastEmit) < debounceFor {
			if math.Abs(changePct-state.lastChangePct) < d.cfg.DeltaPctForRealert {
				d.metrics.EventsDebounced.Inc()
				return domain.PriceEvent{}, false
			}
			deltaRealert = true
		}
	}
	d.debounce[key] = debounceState{lastEmit: tick.At, lastChangePct: changePct}

	label, err := marketsession.Classify(tick.Market, tick.At)
	if err != nil {
		d.log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("Dropping tick for unknown market")
		return domain.PriceEvent{}, false
	}
	timezone, _ := marketsession.Timezone(tick.Market)
	event := domain.PriceEvent{
		ID:               d.ids.NewID(),
		Market:           tick.Market,
		Symbol:           tick.Symbol,
		ChangePct:        domain.Round2(changePct),
		WindowMinutes:    windowMinutes,
		DetectedAt:       tick.At,
		ExchangeTimezone: timezone,
		SessionLabel:     label,
		DeltaRealert:     deltaRealert,
	}
	d.metrics.EventsDetected.WithLabelValues(string(tick.Market), strconv.Itoa(windowMinutes)).Inc()
	return event, true
}

// EvictStale drops debounce entries and tick buffers that can no longer
// influence detection. Runs on the scheduler.
func (d *Detector) EvictStale() {
	now := d.clk.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, state := range d.debounce {
		if now.Sub(state.lastEmit) > d.cfg.Debounce[key.window] {
			delete(d.debounce, key)
		}
	}
	for key, buffer := range d.buffers {
		cutoff := now.Add(-time.Duration(key.window) * time.Minute)
		if len(buffer) == 0 || buffer[len(buffer)-1].At.Before(cutoff) {
			delete(d.buffers, key)
		}
	}
}
