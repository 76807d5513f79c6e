package reasons

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ohmystock/ohmystock/internal/adapters"
	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/observ"
)

// maxReasons is the rank cap per event.
const maxReasons = 3

// FetchAudit records one adapter fetch for the persisted audit trail.
type FetchAudit struct {
	ID             string
	EventID        string
	Source         string
	Duration       time.Duration
	CandidateCount int
	Err            string
	Retryable      bool
	FetchedAt      time.Time
}

// Store is the persistence the engine needs. The events repository
// implements it.
type Store interface {
	// SaveEventWithReasons commits the event, its reasons, and the fetch
	// audits in one transaction.
	SaveEventWithReasons(ctx context.Context, event domain.PriceEvent, reasons []domain.EventReason, audits []FetchAudit) error
	// UpdateReason replaces a reason row's score, breakdown, and explanation.
	UpdateReason(ctx context.Context, reason domain.EventReason) error
}

// Config holds the engine tunables.
type Config struct {
	Lookback         time.Duration
	Trailing         time.Duration
	FetchConcurrency int
	Gate             Gate
	Scorer           Scorer
}

// Descriptors resolves the lexical descriptors for an event; the catalog
// provides the company name.
type Descriptors interface {
	DescriptorsFor(event domain.PriceEvent) []string
}

// Engine runs the full reason pipeline for detected events.
type Engine struct {
	sources     []adapters.Adapter
	cfg         Config
	store       Store
	descriptors Descriptors
	clk         clock.Clock
	ids         clock.IDs
	metrics     *observ.Metrics
	log         zerolog.Logger
}

// New builds an Engine over guarded adapters.
func New(sources []adapters.Adapter, cfg Config, store Store, descriptors Descriptors, clk clock.Clock, ids clock.IDs, metrics *observ.Metrics, log zerolog.Logger) *Engine {
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}
	return &Engine{
		sources:     sources,
		cfg:         cfg,
		store:       store,
		descriptors: descriptors,
		clk:         clk,
		ids:         ids,
		metrics:     metrics,
		log:         log.With().Str("component", "reason_engine").Logger(),
	}
}

// Process fetches, gates, dedupes, scores, ranks, and persists reasons for a
// newly detected event. Adapter failures are isolated; the event persists
// with whatever passed the gate, possibly nothing.
func (e *Engine) Process(ctx context.Context, event domain.PriceEvent) error {
	candidates, audits := e.fetchAll(ctx, event)

	kept, excluded := e.cfg.Gate.Apply(ctx, candidates, event.DetectedAt)
	for _, exclusion := range excluded {
		e.log.Info().
			Str("event_id", event.ID).
			Str("source_url", exclusion.Candidate.SourceURL).
			Str("reason", exclusion.Reason).
			Bool("retryable", exclusion.Retryable).
			Msg("Candidate excluded by quality gate")
	}

	// A cancelled fetch with nothing gated discards the round; the event is
	// not persisted half-explained.
	if err := ctx.Err(); err != nil && len(kept) == 0 {
		return fmt.Errorf("reason fetch cancelled: %w", err)
	}

	reasons := e.buildReasons(event, dedupe(kept))
	if err := e.store.SaveEventWithReasons(ctx, event, reasons, audits); err != nil {
		return fmt.Errorf("persist event %s: %w", event.ID, err)
	}
	e.log.Info().
		Str("event_id", event.ID).
		Str("symbol", event.Symbol).
		Int("reasons", len(reasons)).
		Int("excluded", len(excluded)).
		Msg("Event persisted with reasons")
	return nil
}

// Rerun refreshes candidates and rescores one reason. When the reason's
// canonical URL is found in the fresh batch, the fresh candidate is scored;
// otherwise the stored fields are rescored as-is. The updated reason is
// persisted and returned so the caller can record the revision.
func (e *Engine) Rerun(ctx context.Context, event domain.PriceEvent, reason domain.EventReason) (domain.EventReason, error) {
	candidates, _ := e.fetchAll(ctx, event)
	kept, _ := e.cfg.Gate.Apply(ctx, candidates, event.DetectedAt)

	target := adapters.Candidate{
		Source:      "stored",
		ReasonType:  reason.ReasonType,
		Title:       "",
		Summary:     reason.Summary,
		SourceURL:   reason.SourceURL,
		PublishedAt: &reason.PublishedAt,
	}
	for _, candidate := range dedupe(kept) {
		if candidate.SourceURL == reason.SourceURL {
			target = candidate
			break
		}
	}

	descriptors := e.descriptors.DescriptorsFor(event)
	total, breakdown := e.cfg.Scorer.Score(target, event.DetectedAt, descriptors)

	updated := reason
	updated.ConfidenceScore = total
	updated.Breakdown = breakdown
	updated.Summary = firstNonEmpty(target.Summary, reason.Summary)
	updated.ExplanationText = BuildExplanationText(event, target, breakdown)
	if err := ValidateExplanation(updated.ExplanationText); err != nil {
		return domain.EventReason{}, err
	}
	if err := e.store.UpdateReason(ctx, updated); err != nil {
		return domain.EventReason{}, fmt.Errorf("update reason %s: %w", reason.ID, err)
	}
	return updated, nil
}

func (e *Engine) fetchAll(ctx context.Context, event domain.PriceEvent) ([]adapters.Candidate, []FetchAudit) {
	window := adapters.TimeRange{
		Start: event.DetectedAt.Add(-e.cfg.Lookback),
		End:   event.DetectedAt.Add(e.cfg.Trailing),
	}

	var mu sync.Mutex
	var candidates []adapters.Candidate
	audits := make([]FetchAudit, 0, len(e.sources))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.FetchConcurrency)
	for _, source := range e.sources {
		source := source
		group.Go(func() error {
			started := e.clk.Now()
			fetched, err := source.Fetch(groupCtx, event.Symbol, event.Market, window)
			elapsed := e.clk.Now().Sub(started)

			audit := FetchAudit{
				ID:             e.ids.NewID(),
				EventID:        event.ID,
				Source:         source.Name(),
				Duration:       elapsed,
				CandidateCount: len(fetched),
				FetchedAt:      started,
			}
			outcome := "ok"
			if err != nil {
				audit.Err = err.Error()
				audit.Retryable = adapters.IsRetryable(err)
				outcome = "error"
				e.log.Warn().Err(err).
					Str("source", source.Name()).
					Str("event_id", event.ID).
					Msg("Adapter fetch failed, continuing without it")
			}
			e.metrics.AdapterFetches.WithLabelValues(source.Name(), outcome).Inc()
			e.metrics.AdapterDuration.WithLabelValues(source.Name()).Observe(elapsed.Seconds())

			mu.Lock()
			candidates = append(candidates, fetched...)
			audits = append(audits, audit)
			mu.Unlock()
			// Adapter failure is isolated: never fail the group.
			return nil
		})
	}
	_ = group.Wait()
	return candidates, audits
}

func (e *Engine) buildReasons(event domain.PriceEvent, candidates []adapters.Candidate) []domain.EventReason {
	descriptors := e.descriptors.DescriptorsFor(event)

	type scored struct {
		candidate adapters.Candidate
		total     float64
		breakdown domain.ConfidenceBreakdown
	}
	items := make([]scored, 0, len(candidates))
	for _, candidate := range candidates {
		total, breakdown := e.cfg.Scorer.Score(candidate, event.DetectedAt, descriptors)
		items = append(items, scored{candidate: candidate, total: total, breakdown: breakdown})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].total != items[j].total {
			return items[i].total > items[j].total
		}
		ri := items[i].breakdown.Signals[domain.SignalSourceReliability]
		rj := items[j].breakdown.Signals[domain.SignalSourceReliability]
		if ri != rj {
			return ri > rj
		}
		pi, pj := items[i].candidate.PublishedAt, items[j].candidate.PublishedAt
		if pi != nil && pj != nil && !pi.Equal(*pj) {
			return pi.Before(*pj)
		}
		return items[i].candidate.SourceURL < items[j].candidate.SourceURL
	})

	if len(items) > maxReasons {
		items = items[:maxReasons]
	}

	reasons := make([]domain.EventReason, 0, len(items))
	for _, item := range items {
		reasonType, err := domain.NormalizeReasonType(item.candidate.ReasonType)
		if err != nil {
			reasonType = domain.ReasonTypeOther
		}
		explanation := BuildExplanationText(event, item.candidate, item.breakdown)
		if err := ValidateExplanation(explanation); err != nil {
			e.log.Warn().Err(err).Str("source_url", item.candidate.SourceURL).Msg("Dropping reason with advice language")
			continue
		}
		reasons = append(reasons, domain.EventReason{
			ID:              e.ids.NewID(),
			EventID:         event.ID,
			Rank:            len(reasons) + 1,
			ReasonType:      reasonType,
			ConfidenceScore: item.total,
			Summary:         item.candidate.Summary,
			SourceURL:       item.candidate.SourceURL,
			PublishedAt:     item.candidate.PublishedAt.UTC(),
			Breakdown:       item.breakdown,
			ExplanationText: explanation,
		})
	}
	return reasons
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
