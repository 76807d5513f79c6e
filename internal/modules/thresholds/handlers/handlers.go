// Package handlers provides HTTP handlers for threshold management.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/thresholds"
)

// Handler handles threshold HTTP requests.
type Handler struct {
	repo           *thresholds.Repository
	allowedWindows map[int]float64 // window -> system default
	clk            clock.Clock
	log            zerolog.Logger
}

// NewHandler creates a thresholds handler. allowedWindows carries the
// detector's configured windows and their system defaults.
func NewHandler(repo *thresholds.Repository, allowedWindows map[int]float64, clk clock.Clock, log zerolog.Logger) *Handler {
	return &Handler{
		repo:           repo,
		allowedWindows: allowedWindows,
		clk:            clk,
		log:            log.With().Str("handler", "thresholds").Logger(),
	}
}

// Routes mounts the threshold routes on an authenticated router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleUpsert)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.ListByUser(r.Context(), httpx.UserID(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	byWindow := make(map[int]thresholds.Threshold, len(rows))
	for _, row := range rows {
		byWindow[row.WindowMinutes] = row
	}

	items := make([]map[string]any, 0, len(h.allowedWindows))
	for window, systemDefault := range h.allowedWindows {
		entry := map[string]any{
			"window_minutes": window,
			"threshold_pct":  systemDefault,
			"is_default":     true,
		}
		if row, ok := byWindow[window]; ok {
			entry["threshold_pct"] = row.ThresholdPct
			entry["is_default"] = false
			entry["updated_at_utc"] = domain.FormatUTC(row.UpdatedAt)
		}
		items = append(items, entry)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// maxThresholdPct caps how far a user can push their alert level. A zero or
// negative threshold would alert on every tick.
const maxThresholdPct = 50.0

type upsertRequest struct {
	WindowMinutes int     `json:"window_minutes"`
	ThresholdPct  float64 `json:"threshold_pct"`
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if _, ok := h.allowedWindows[req.WindowMinutes]; !ok {
		httpx.WriteError(w, r, h.log,
			fmt.Errorf("%w: unsupported window_minutes %d", domain.ErrInvalidInput, req.WindowMinutes))
		return
	}
	if req.ThresholdPct <= 0 || req.ThresholdPct > maxThresholdPct {
		httpx.WriteError(w, r, h.log,
			fmt.Errorf("%w: threshold_pct must be greater than 0 and at most %v", domain.ErrInvalidInput, maxThresholdPct))
		return
	}

	threshold := thresholds.Threshold{
		UserID:        httpx.UserID(r.Context()),
		WindowMinutes: req.WindowMinutes,
		ThresholdPct:  req.ThresholdPct,
		UpdatedAt:     h.clk.Now(),
	}
	if err := h.repo.Upsert(r.Context(), threshold); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"window_minutes": threshold.WindowMinutes,
		"threshold_pct":  threshold.ThresholdPct,
		"updated_at_utc": domain.FormatUTC(threshold.UpdatedAt),
	})
}
