// Package handlers provides the HTTP handler for evidence comparison cards.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/compare"
)

// Handler handles compare HTTP requests.
type Handler struct {
	service *compare.Service
	log     zerolog.Logger
}

// NewHandler creates a compare handler.
func NewHandler(service *compare.Service, log zerolog.Logger) *Handler {
	return &Handler{service: service, log: log.With().Str("handler", "compare").Logger()}
}

// HandleGet serves GET /v1/events/{id}/evidence-compare.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	payload, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, context.DeadlineExceeded) {
		coded := httpx.Coded(http.StatusGatewayTimeout, httpx.CodeCompareUpstreamTimeout, "comparison timed out")
		coded.Retryable = true
		httpx.WriteError(w, r, h.log, coded)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}
