// Package handlers provides HTTP handlers for reason feedback.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/events"
	"github.com/ohmystock/ohmystock/internal/modules/feedback"
)

// aggregateMinSamples flags thin feedback pools as low confidence.
const aggregateMinSamples = 5

// Handler handles feedback HTTP requests.
type Handler struct {
	repo      *feedback.Repository
	eventRepo *events.Repository
	clk       clock.Clock
	log       zerolog.Logger
}

// NewHandler creates a feedback handler.
func NewHandler(repo *feedback.Repository, eventRepo *events.Repository, clk clock.Clock, log zerolog.Logger) *Handler {
	return &Handler{
		repo:      repo,
		eventRepo: eventRepo,
		clk:       clk,
		log:       log.With().Str("handler", "feedback").Logger(),
	}
}

type voteRequest struct {
	ReasonID string `json:"reason_id"`
	Vote     string `json:"vote"`
}

// HandleVote serves POST /v1/events/{id}/feedback.
func (h *Handler) HandleVote(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	var req voteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	vote, err := feedback.NormalizeVote(req.Vote)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	reason, err := h.eventRepo.GetReason(r.Context(), req.ReasonID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if reason.EventID != eventID {
		httpx.WriteError(w, r, h.log,
			httpx.Coded(http.StatusBadRequest, httpx.CodeInvalidInput, "reason does not belong to event"))
		return
	}

	overwritten, err := h.repo.Upsert(r.Context(), httpx.UserID(r.Context()), eventID, req.ReasonID, vote, h.clk.Now())
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"event_id":    eventID,
		"reason_id":   req.ReasonID,
		"vote":        vote,
		"overwritten": overwritten,
	})
}

// HandleAggregate serves GET /v1/feedback/aggregate.
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	aggregates, err := h.repo.AggregateBySymbol(r.Context(), aggregateMinSamples)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if aggregates == nil {
		aggregates = []feedback.Aggregate{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":       aggregates,
		"min_samples": aggregateMinSamples,
	})
}
