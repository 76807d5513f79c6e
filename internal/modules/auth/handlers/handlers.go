// Package handlers provides HTTP handlers for signup, login, and profile.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/auth"
)

// Handler handles auth HTTP requests.
type Handler struct {
	service *auth.Service
	log     zerolog.Logger
}

// NewHandler creates an auth handler.
func NewHandler(service *auth.Service, log zerolog.Logger) *Handler {
	return &Handler{service: service, log: log.With().Str("handler", "auth").Logger()}
}

// Routes mounts the public auth routes. The /me route is mounted on the
// authenticated router by the server.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/signup", h.handleSignup)
	r.Post("/login", h.handleLogin)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Locale   string `json:"locale,omitempty"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	session, err := h.service.Signup(r.Context(), req.Email, req.Password, req.Locale)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

// HandleMe returns the authenticated caller's profile.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), httpx.UserID(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":        user.ID,
		"email":          user.Email,
		"locale":         user.Locale,
		"created_at_utc": domain.FormatUTC(user.CreatedAt),
	})
}
