package briefs

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/marketsession"
	"github.com/ohmystock/ohmystock/internal/modules/watchlist"
	"github.com/ohmystock/ohmystock/internal/observ"
)

// EventSource is the slice of the events repository the builder needs.
type EventSource interface {
	TopByMagnitude(ctx context.Context, pairs [][2]string, since time.Time, limit int) ([]domain.PriceEvent, error)
	GetReasons(ctx context.Context, eventID string) ([]domain.EventReason, error)
	HasFailedFetches(ctx context.Context, eventIDs []string) (bool, error)
}

// Builder generates briefs for every user watching a market. The scheduler
// runs it pre-market and post-close on each market's local clock.
type Builder struct {
	repo       *Repository
	events     EventSource
	watchlists *watchlist.Repository
	cfg        config.BriefConfig
	clk        clock.Clock
	ids        clock.IDs
	metrics    *observ.Metrics
	log        zerolog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(repo *Repository, events EventSource, watchlists *watchlist.Repository, cfg config.BriefConfig, clk clock.Clock, ids clock.IDs, metrics *observ.Metrics, log zerolog.Logger) *Builder {
	return &Builder{
		repo:       repo,
		events:     events,
		watchlists: watchlists,
		cfg:        cfg,
		clk:        clk,
		ids:        ids,
		metrics:    metrics,
		log:        log.With().Str("component", "brief_builder").Logger(),
	}
}

// BuildForMarket generates one brief per user watching the market.
func (b *Builder) BuildForMarket(ctx context.Context, briefType string, market domain.Market) {
	users, err := b.watchlists.UsersWithItems(ctx, market)
	if err != nil {
		b.log.Error().Err(err).Str("market", string(market)).Msg("Failed to resolve brief audience")
		return
	}
	for _, userID := range users {
		if err := b.buildOne(ctx, userID, briefType, market); err != nil {
			b.log.Error().Err(err).
				Str("user_id", userID).
				Str("brief_type", briefType).
				Str("market", string(market)).
				Msg("Brief generation failed")
		}
	}
}

func (b *Builder) buildOne(ctx context.Context, userID, briefType string, market domain.Market) error {
	now := b.clk.Now()
	events, fallback, err := b.collect(ctx, userID, market, now)
	if err != nil {
		return err
	}

	items := make([]Item, 0, len(events))
	for _, event := range events {
		item, err := b.renderItem(ctx, event)
		if err != nil {
			return err
		}
		item.Position = len(items) + 1
		items = append(items, item)
	}

	expiresAt, err := b.expiry(briefType, market, now)
	if err != nil {
		return err
	}
	brief := Brief{
		ID:             b.ids.NewID(),
		UserID:         userID,
		BriefType:      briefType,
		Title:          title(briefType, market),
		Summary:        summaryText(len(items), fallback),
		GeneratedAt:    now,
		Markets:        []domain.Market{market},
		FallbackReason: fallback,
		Status:         StatusUnread,
		ExpiresAt:      expiresAt,
	}
	if err := b.repo.Insert(ctx, brief, items); err != nil {
		return err
	}
	b.metrics.BriefsGenerated.WithLabelValues(briefType, fallbackLabel(fallback)).Inc()
	return nil
}

// collect selects the user's strongest recent events and decides the
// fallback reason when aggregation is thin.
func (b *Builder) collect(ctx context.Context, userID string, market domain.Market, now time.Time) ([]domain.PriceEvent, string, error) {
	tz, err := marketsession.Timezone(market)
	if err != nil {
		return nil, "", err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, "", err
	}
	if marketsession.IsHoliday(market, now.In(loc)) {
		return nil, FallbackMarketHoliday, nil
	}

	tracked, err := b.watchlists.SymbolsFor(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	var pairs [][2]string
	for _, item := range tracked {
		if item.Market == market {
			pairs = append(pairs, [2]string{string(item.Market), item.Symbol})
		}
	}

	events, err := b.events.TopByMagnitude(ctx, pairs, now.Add(-b.cfg.Lookback), b.cfg.TopN)
	if err != nil {
		return nil, "", err
	}
	if len(events) == 0 {
		return nil, FallbackNoEvents, nil
	}

	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	failed, err := b.events.HasFailedFetches(ctx, ids)
	if err != nil {
		return nil, "", err
	}
	switch {
	case failed:
		return events, FallbackPartialAggregation, nil
	case len(events) < b.cfg.ContentFloor:
		return events, FallbackInsufficientData, nil
	}
	return events, "", nil
}

// renderItem carries the event's top-ranked reason into the brief. Events
// still collecting evidence fall back to the bare move description.
func (b *Builder) renderItem(ctx context.Context, event domain.PriceEvent) (Item, error) {
	item := Item{
		EventID:        event.ID,
		Symbol:         event.Symbol,
		Market:         event.Market,
		EventDetailURL: "/v1/events/" + event.ID,
	}
	reasons, err := b.events.GetReasons(ctx, event.ID)
	if err != nil {
		return Item{}, err
	}
	if len(reasons) > 0 {
		item.Summary = reasons[0].Summary
		item.SourceURL = reasons[0].SourceURL
		return item, nil
	}

	direction := "rose"
	if event.ChangePct < 0 {
		direction = "fell"
	}
	item.Summary = fmt.Sprintf("%s %s %.2f%% over %dm", event.Symbol, direction, math.Abs(event.ChangePct), event.WindowMinutes)
	return item, nil
}

// expiry follows the brief lifecycle: pre-market briefs die at the next
// regular open, post-close briefs after the configured TTL.
func (b *Builder) expiry(briefType string, market domain.Market, now time.Time) (time.Time, error) {
	switch briefType {
	case TypePreMarket:
		return marketsession.NextRegularOpen(market, now)
	case TypePostClose:
		return now.Add(b.cfg.PostCloseTTL), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown brief type %q", domain.ErrInvalidInput, briefType)
}

func title(briefType string, market domain.Market) string {
	switch briefType {
	case TypePreMarket:
		return fmt.Sprintf("%s pre-market brief", market)
	case TypePostClose:
		return fmt.Sprintf("%s post-close brief", market)
	}
	return string(market) + " brief"
}

func summaryText(count int, fallback string) string {
	switch fallback {
	case FallbackMarketHoliday:
		return "Market holiday, no trading session to summarize."
	case FallbackNoEvents:
		return "No notable moves on your watchlist."
	case FallbackPartialAggregation:
		return fmt.Sprintf("%d notable moves; some sources were unavailable.", count)
	case FallbackInsufficientData:
		return fmt.Sprintf("Only %d notable move(s) found.", count)
	}
	return fmt.Sprintf("%d notable moves on your watchlist.", count)
}

func fallbackLabel(fallback string) string {
	if fallback == "" {
		return "none"
	}
	return fallback
}
