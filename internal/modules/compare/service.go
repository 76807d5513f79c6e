package compare

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// Card statuses.
const (
	StatusReady       = "ready"
	StatusUnavailable = "compare_unavailable"
)

// Fallback reasons when the card cannot be rendered as a comparison.
const (
	FallbackInsufficientEvidence    = "insufficient_evidence"
	FallbackAxisImbalance           = "axis_imbalance"
	FallbackAmbiguousClassification = "ambiguous_classification"
	FallbackMissingSourceMetadata   = "missing_source_metadata"
)

// biasWarning ships on every card. The comparison is descriptive, never a
// recommendation.
const biasWarning = "This card contrasts published evidence on both sides of the move. It is not investment advice and does not recommend any action."

// Item is one axis entry. Malformed reasons keep their empty fields so the
// client can render fallback labels.
type Item struct {
	Summary     string `json:"summary" msgpack:"summary"`
	SourceURL   string `json:"source_url" msgpack:"source_url"`
	PublishedAt string `json:"published_at" msgpack:"published_at"`
	ReasonType  string `json:"reason_type" msgpack:"reason_type"`
}

// Payload is the rendered comparison card. Cached rows serialize this with
// msgpack.
type Payload struct {
	EventID        string `json:"event_id" msgpack:"event_id"`
	Status         string `json:"status" msgpack:"status"`
	FallbackReason string `json:"fallback_reason,omitempty" msgpack:"fallback_reason"`
	BiasWarning    string `json:"bias_warning" msgpack:"bias_warning"`
	Positive       []Item `json:"positive" msgpack:"positive"`
	Negative       []Item `json:"negative" msgpack:"negative"`
	Uncertain      []Item `json:"uncertain" msgpack:"uncertain"`
	GeneratedAt    string `json:"generated_at" msgpack:"generated_at"`
}

// EventSource is the slice of the events repository the service needs.
type EventSource interface {
	GetEvent(ctx context.Context, eventID string) (domain.PriceEvent, error)
	GetReasons(ctx context.Context, eventID string) ([]domain.EventReason, error)
}

// Service classifies and caches comparison cards.
type Service struct {
	db     *sql.DB
	events EventSource
	cfg    config.CompareConfig
	clk    clock.Clock
	log    zerolog.Logger
}

// NewService creates a compare service.
func NewService(db *sql.DB, events EventSource, cfg config.CompareConfig, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		events: events,
		cfg:    cfg,
		clk:    clk,
		log:    log.With().Str("component", "compare").Logger(),
	}
}

// Get returns the comparison card for an event, serving a cached payload
// while it is fresh.
func (s *Service) Get(ctx context.Context, eventID string) (Payload, error) {
	if payload, ok, err := s.cached(ctx, eventID); err != nil {
		return Payload{}, err
	} else if ok {
		return payload, nil
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return Payload{}, err
	}
	reasons, err := s.events.GetReasons(ctx, eventID)
	if err != nil {
		return Payload{}, err
	}

	payload := s.build(event, reasons)
	if err := s.store(ctx, payload); err != nil {
		// Serving the fresh payload matters more than the cache write.
		s.log.Warn().Err(err).Str("event_id", eventID).Msg("Compare cache write failed")
	}
	return payload, nil
}

// build partitions reasons into axes and decides readiness.
func (s *Service) build(event domain.PriceEvent, reasons []domain.EventReason) Payload {
	payload := Payload{
		EventID:     event.ID,
		BiasWarning: biasWarning,
		Positive:    []Item{},
		Negative:    []Item{},
		Uncertain:   []Item{},
		GeneratedAt: domain.FormatUTC(s.clk.Now()),
	}
	for _, reason := range reasons {
		item := Item{
			Summary:    reason.Summary,
			SourceURL:  reason.SourceURL,
			ReasonType: reason.ReasonType,
		}
		if !reason.PublishedAt.IsZero() {
			item.PublishedAt = domain.FormatUTC(reason.PublishedAt)
		}
		switch classify(reason, event.ChangePct) {
		case AxisPositive:
			payload.Positive = append(payload.Positive, item)
		case AxisNegative:
			payload.Negative = append(payload.Negative, item)
		default:
			payload.Uncertain = append(payload.Uncertain, item)
		}
	}

	if fallback := s.resolveFallback(payload, reasons); fallback != "" {
		payload.Status = StatusUnavailable
		payload.FallbackReason = fallback
		fallbackToUncertain(&payload)
		return payload
	}
	payload.Status = StatusReady
	return payload
}

// resolveFallback decides whether the split can render as a comparison.
// Returns the empty string when the card is ready.
func (s *Service) resolveFallback(payload Payload, reasons []domain.EventReason) string {
	positive, negative := len(payload.Positive), len(payload.Negative)
	total := positive + negative + len(payload.Uncertain)
	switch {
	case total < s.cfg.MinCompareItems:
		return FallbackInsufficientEvidence
	case positive == 0 && negative == 0:
		if allMissingMetadata(reasons) {
			return FallbackMissingSourceMetadata
		}
		return FallbackAmbiguousClassification
	case positive == 0 || negative == 0:
		// One-sided evidence is bias, not ambiguity.
		return FallbackAxisImbalance
	case imbalanced(positive, negative, total, s.cfg.ImbalanceRatio):
		return FallbackAxisImbalance
	}
	return ""
}

// fallbackToUncertain reclassifies every item as uncertain so a fallback
// card never ships a one-sided axis, newest evidence first.
func fallbackToUncertain(payload *Payload) {
	merged := make([]Item, 0, len(payload.Positive)+len(payload.Negative)+len(payload.Uncertain))
	merged = append(merged, payload.Positive...)
	merged = append(merged, payload.Negative...)
	merged = append(merged, payload.Uncertain...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].PublishedAt != merged[j].PublishedAt {
			return merged[i].PublishedAt > merged[j].PublishedAt
		}
		return merged[i].SourceURL > merged[j].SourceURL
	})
	payload.Positive = []Item{}
	payload.Negative = []Item{}
	payload.Uncertain = merged
}

func allMissingMetadata(reasons []domain.EventReason) bool {
	for _, reason := range reasons {
		if reason.SourceURL != "" && !reason.PublishedAt.IsZero() {
			return false
		}
	}
	return len(reasons) > 0
}

// imbalanceFloor is the smallest evidence set where a lopsided split counts
// as bias rather than noise.
const imbalanceFloor = 4

func imbalanced(positive, negative, total int, ratio float64) bool {
	if ratio <= 0 || total < imbalanceFloor || positive == 0 || negative == 0 {
		return false
	}
	larger, smaller := positive, negative
	if negative > positive {
		larger, smaller = negative, positive
	}
	return float64(larger)/float64(smaller) >= ratio
}

func (s *Service) cached(ctx context.Context, eventID string) (Payload, bool, error) {
	var blob []byte
	var cachedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, cached_at_utc FROM compare_cache WHERE event_id = ?`, eventID).Scan(&blob, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Payload{}, false, nil
	}
	if err != nil {
		return Payload{}, false, fmt.Errorf("failed to query compare cache: %w", err)
	}

	at, err := domain.ParseUTC(cachedAt)
	if err != nil || s.clk.Now().Sub(at) >= s.cfg.CacheTTL {
		return Payload{}, false, nil
	}
	var payload Payload
	if err := msgpack.Unmarshal(blob, &payload); err != nil {
		s.log.Warn().Err(err).Str("event_id", eventID).Msg("Discarding corrupt compare cache row")
		return Payload{}, false, nil
	}
	return payload, true, nil
}

func (s *Service) store(ctx context.Context, payload Payload) error {
	blob, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode compare payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compare_cache (event_id, payload, cached_at_utc) VALUES (?, ?, ?)
		 ON CONFLICT (event_id) DO UPDATE SET payload = excluded.payload, cached_at_utc = excluded.cached_at_utc`,
		payload.EventID, blob, payload.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to write compare cache: %w", err)
	}
	return nil
}

// Evict drops cache rows older than the TTL. Wired to the scheduler.
func (s *Service) Evict(ctx context.Context) {
	cutoff := s.clk.Now().Add(-s.cfg.CacheTTL)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM compare_cache WHERE cached_at_utc < ?`, domain.FormatUTC(cutoff)); err != nil {
		s.log.Error().Err(err).Msg("Compare cache eviction failed")
	}
}
