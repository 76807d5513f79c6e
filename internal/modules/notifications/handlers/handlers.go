// Package handlers provides HTTP handlers for the notification inbox.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/notifications"
)

// Handler handles notification HTTP requests.
type Handler struct {
	repo *notifications.Repository
	log  zerolog.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(repo *notifications.Repository, log zerolog.Logger) *Handler {
	return &Handler{repo: repo, log: log.With().Str("handler", "notifications").Logger()}
}

// Routes mounts the notification endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HandleList)
	r.Patch("/{id}/read", h.HandleMarkRead)
	return r
}

// HandleList serves GET /v1/notifications.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	items, unread, err := h.repo.ListByUser(r.Context(), httpx.UserID(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, renderNotification(item))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":        views,
		"unread_count": unread,
	})
}

// HandleMarkRead serves PATCH /v1/notifications/{id}/read.
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	notification, err := h.repo.MarkRead(r.Context(), httpx.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderNotification(notification))
}

func renderNotification(notification notifications.Notification) map[string]any {
	return map[string]any{
		"id":       notification.ID,
		"event_id": notification.EventID,
		"channel":  notification.Channel,
		"status":   notification.Status,
		"message":  notification.Message,
		"delta":    notification.Delta,
		"sent_at":  domain.FormatUTC(notification.SentAt),
	}
}
