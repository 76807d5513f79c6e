package notifications

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/observ"
)

// channels is the dispatch order. Email rows are persisted for a future
// transport; nothing is mailed.
var channels = []string{ChannelInApp, ChannelEmail}

// Watchers resolves who tracks a symbol. Implemented by the watchlist
// repository.
type Watchers interface {
	UsersWatching(ctx context.Context, market domain.Market, symbol string) ([]string, error)
}

// Thresholds resolves the per-user alert threshold. Implemented by the
// thresholds repository.
type Thresholds interface {
	Effective(ctx context.Context, userID string, windowMinutes int, systemDefault float64) (float64, error)
}

// Notifier fans a persisted price event out to watching users, applying the
// per-user threshold, the per-channel cooldown, and the delta re-alert
// bypass.
type Notifier struct {
	repo       *Repository
	watchers   Watchers
	thresholds Thresholds
	cfg        config.NotifierConfig
	defaults   map[int]float64 // window minutes -> system default threshold
	deltaPct   float64
	clk        clock.Clock
	ids        clock.IDs
	metrics    *observ.Metrics
	log        zerolog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(repo *Repository, watchers Watchers, thresholds Thresholds, cfg config.NotifierConfig, detector config.DetectorConfig, clk clock.Clock, ids clock.IDs, metrics *observ.Metrics, log zerolog.Logger) *Notifier {
	return &Notifier{
		repo:       repo,
		watchers:   watchers,
		thresholds: thresholds,
		cfg:        cfg,
		defaults:   detector.DefaultThresholdPct,
		deltaPct:   detector.DeltaPctForRealert,
		clk:        clk,
		ids:        ids,
		metrics:    metrics,
		log:        log.With().Str("component", "notifier").Logger(),
	}
}

// Notify dispatches alerts for one event. Closed-session events are recorded
// by the detector but never alerted.
func (n *Notifier) Notify(ctx context.Context, event domain.PriceEvent) {
	if event.SessionLabel == domain.SessionClosed {
		n.log.Debug().Str("event_id", event.ID).Msg("Skipping closed-session event")
		return
	}

	users, err := n.watchers.UsersWatching(ctx, event.Market, event.Symbol)
	if err != nil {
		n.log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to resolve watchers")
		return
	}
	for _, userID := range users {
		if err := n.notifyUser(ctx, userID, event); err != nil {
			n.log.Error().Err(err).
				Str("event_id", event.ID).
				Str("user_id", userID).
				Msg("Notification dispatch failed")
		}
	}
}

func (n *Notifier) notifyUser(ctx context.Context, userID string, event domain.PriceEvent) error {
	effective, err := n.thresholds.Effective(ctx, userID, event.WindowMinutes, n.defaults[event.WindowMinutes])
	if err != nil {
		return err
	}
	if math.Abs(event.ChangePct) < effective {
		return nil
	}

	now := n.clk.Now()
	for _, channel := range channels {
		last, found, err := n.repo.Last(ctx, userID, event.Market, event.Symbol, channel)
		if err != nil {
			return err
		}
		delta := false
		if found && now.Sub(last.SentAt) < n.cfg.CooldownByChannel[channel] {
			if math.Abs(event.ChangePct-last.ChangePct) < n.deltaPct {
				continue // still cooling down, move too small to re-alert
			}
			delta = true
		}

		notification := Notification{
			ID:      n.ids.NewID(),
			UserID:  userID,
			EventID: event.ID,
			Channel: channel,
			Status:  StatusSent,
			Message: renderMessage(event, delta),
			Delta:   delta,
			SentAt:  now,
		}
		err = n.repo.Insert(ctx, notification)
		if errors.Is(err, domain.ErrConflict) {
			continue // already dispatched for this (user, event, channel)
		}
		if err != nil {
			return err
		}
		n.metrics.NotificationsSent.WithLabelValues(channel).Inc()
	}
	return nil
}

// PromoteStale ages unread in_app rows into cooldown. Wired to the
// scheduler's promotion ticker.
func (n *Notifier) PromoteStale(ctx context.Context) {
	cutoff := n.clk.Now().Add(-n.cfg.PromotionAfter)
	promoted, err := n.repo.PromoteStale(ctx, cutoff)
	if err != nil {
		n.log.Error().Err(err).Msg("Stale notification promotion failed")
		return
	}
	if promoted > 0 {
		n.log.Info().Int64("promoted", promoted).Msg("Promoted stale notifications to cooldown")
	}
}

func renderMessage(event domain.PriceEvent, delta bool) string {
	direction := "rose"
	if event.ChangePct < 0 {
		direction = "fell"
	}
	message := fmt.Sprintf("%s (%s) %s %.2f%% over %dm during the %s session",
		event.Symbol, event.Market, direction, math.Abs(event.ChangePct),
		event.WindowMinutes, event.SessionLabel)
	if delta {
		message += " (delta re-alert)"
	}
	return message
}
