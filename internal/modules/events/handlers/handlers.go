// Package handlers provides HTTP handlers for the event feed and detail.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/events"
)

// RevisionHintProvider supplies the detail endpoint's revision_hint. The
// reports repository implements it.
type RevisionHintProvider interface {
	Hint(ctx context.Context, eventID string) (hasHistory bool, latestStatus string, err error)
}

// Handler handles event HTTP requests.
type Handler struct {
	repo  *events.Repository
	hints RevisionHintProvider
	clk   clock.Clock
	log   zerolog.Logger
}

// NewHandler creates an events handler.
func NewHandler(repo *events.Repository, hints RevisionHintProvider, clk clock.Clock, log zerolog.Logger) *Handler {
	return &Handler{
		repo:  repo,
		hints: hints,
		clk:   clk,
		log:   log.With().Str("handler", "events").Logger(),
	}
}

// HandleList serves GET /v1/events.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	size := queryInt(r, "size", 20)
	if size < 1 || size > 100 {
		size = 20
	}

	filter := events.ListFilter{Symbol: r.URL.Query().Get("symbol")}
	if marketParam := r.URL.Query().Get("market"); marketParam != "" {
		market, err := domain.NormalizeMarket(marketParam)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		filter.Market = market
	}
	if labelParam := r.URL.Query().Get("session_label"); labelParam != "" {
		label, err := domain.NormalizeSessionLabel(labelParam)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		filter.SessionLabel = label
	}
	if fromParam := r.URL.Query().Get("from"); fromParam != "" {
		from, err := domain.ParseUTC(fromParam)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		filter.From = from
	}
	if toParam := r.URL.Query().Get("to"); toParam != "" {
		to, err := domain.ParseUTC(toParam)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		filter.To = to
	}

	rows, nextCursor, err := h.repo.List(r.Context(), httpx.UserID(r.Context()), filter,
		size, r.URL.Query().Get("cursor"), h.clk.Now())
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	items := make([]map[string]any, 0, len(rows))
	for _, event := range rows {
		items = append(items, renderEvent(event))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"next_cursor": nextCursor,
	})
}

// HandleDetail serves GET /v1/events/{id}.
func (h *Handler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	event, err := h.repo.GetEvent(r.Context(), eventID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	reasons, err := h.repo.GetReasons(r.Context(), eventID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	hasHistory, latestStatus, err := h.hints.Hint(r.Context(), eventID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	reasonViews := make([]map[string]any, 0, len(reasons))
	for _, reason := range reasons {
		reasonViews = append(reasonViews, map[string]any{
			"id":                   reason.ID,
			"rank":                 reason.Rank,
			"reason_type":          reason.ReasonType,
			"confidence_score":     reason.ConfidenceScore,
			"summary":              reason.Summary,
			"source_url":           reason.SourceURL,
			"published_at_utc":     domain.FormatUTC(reason.PublishedAt),
			"confidence_breakdown": reason.Breakdown,
			"explanation_text":     reason.ExplanationText,
		})
	}

	body := renderEvent(event)
	body["reasons"] = reasonViews
	body["reason_status"] = domain.ReasonStatusFor(reasons)
	body["revision_hint"] = map[string]any{
		"has_revision_history": hasHistory,
		"latest_status":        latestStatus,
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}

func renderEvent(event domain.PriceEvent) map[string]any {
	return map[string]any{
		"id":                event.ID,
		"market":            event.Market,
		"symbol":            event.Symbol,
		"change_pct":        event.ChangePct,
		"window_minutes":    event.WindowMinutes,
		"detected_at_utc":   domain.FormatUTC(event.DetectedAt),
		"exchange_timezone": event.ExchangeTimezone,
		"session_label":     event.SessionLabel,
		"delta_realert":     event.DeltaRealert,
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
