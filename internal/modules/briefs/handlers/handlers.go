// Package handlers provides HTTP handlers for the brief inbox.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/briefs"
)

const (
	defaultListSize = 20
	maxListSize     = 100
)

// Handler handles brief HTTP requests.
type Handler struct {
	repo *briefs.Repository
	clk  clock.Clock
	log  zerolog.Logger
}

// NewHandler creates a briefs handler.
func NewHandler(repo *briefs.Repository, clk clock.Clock, log zerolog.Logger) *Handler {
	return &Handler{repo: repo, clk: clk, log: log.With().Str("handler", "briefs").Logger()}
}

// Routes mounts the brief endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HandleList)
	r.Get("/{id}", h.HandleDetail)
	r.Patch("/{id}/read", h.HandleMarkRead)
	return r
}

// HandleList serves GET /v1/briefs. Expired briefs stay in the listing with
// is_expired set.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	size := defaultListSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(w, r, h.log,
				httpx.Coded(http.StatusBadRequest, httpx.CodeInvalidInput, "size must be a positive integer"))
			return
		}
		size = parsed
	}
	if size > maxListSize {
		size = maxListSize
	}

	now := h.clk.Now()
	items, meta, err := h.repo.ListByUser(r.Context(), httpx.UserID(r.Context()), size, now)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, brief := range items {
		views = append(views, renderBrief(brief, now))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items": views,
		"meta":  meta,
	})
}

// HandleDetail serves GET /v1/briefs/{id}. Fetching marks the brief read;
// expired briefs answer 410.
func (h *Handler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r.Context())
	briefID := chi.URLParam(r, "id")
	brief, items, err := h.repo.Get(r.Context(), userID, briefID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	now := h.clk.Now()
	if brief.Expired(now) {
		httpx.WriteError(w, r, h.log,
			httpx.Coded(http.StatusGone, httpx.CodeBriefLinkExpired, "this brief has expired"))
		return
	}
	if brief.Status == briefs.StatusUnread {
		if err := h.repo.MarkRead(r.Context(), userID, briefID); err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		brief.Status = briefs.StatusRead
	}

	itemViews := make([]map[string]any, 0, len(items))
	for _, item := range items {
		itemViews = append(itemViews, map[string]any{
			"position":         item.Position,
			"event_id":         item.EventID,
			"symbol":           item.Symbol,
			"market":           item.Market,
			"summary":          item.Summary,
			"source_url":       item.SourceURL,
			"event_detail_url": item.EventDetailURL,
		})
	}
	view := renderBrief(brief, now)
	view["items"] = itemViews
	httpx.WriteJSON(w, http.StatusOK, view)
}

// HandleMarkRead serves PATCH /v1/briefs/{id}/read.
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r.Context())
	briefID := chi.URLParam(r, "id")
	if err := h.repo.MarkRead(r.Context(), userID, briefID); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": briefID, "status": briefs.StatusRead})
}

func renderBrief(brief briefs.Brief, now time.Time) map[string]any {
	view := map[string]any{
		"id":           brief.ID,
		"brief_type":   brief.BriefType,
		"title":        brief.Title,
		"summary":      brief.Summary,
		"generated_at": domain.FormatUTC(brief.GeneratedAt),
		"markets":      brief.Markets,
		"status":       brief.Status,
		"is_expired":   brief.Expired(now),
	}
	if brief.FallbackReason != "" {
		view["fallback_reason"] = brief.FallbackReason
	}
	if !brief.ExpiresAt.IsZero() {
		view["expires_at"] = domain.FormatUTC(brief.ExpiresAt)
	}
	return view
}
