// Package handlers provides HTTP handlers for watchlist management and
// symbol search.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/catalog"
	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/watchlist"
)

// Handler handles watchlist HTTP requests.
type Handler struct {
	repo    *watchlist.Repository
	catalog *catalog.Catalog
	clk     clock.Clock
	ids     clock.IDs
	log     zerolog.Logger
}

// NewHandler creates a watchlist handler.
func NewHandler(repo *watchlist.Repository, cat *catalog.Catalog, clk clock.Clock, ids clock.IDs, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		catalog: cat,
		clk:     clk,
		ids:     ids,
		log:     log.With().Str("handler", "watchlist").Logger(),
	}
}

// Routes mounts the watchlist routes on an authenticated router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/items", h.handleList)
	r.Post("/items", h.handleAdd)
	r.Delete("/items/{id}", h.handleDelete)
}

// HandleSymbolSearch serves GET /v1/symbols/search.
func (h *Handler) HandleSymbolSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	marketParam := r.URL.Query().Get("market")

	markets := domain.Markets()
	if marketParam != "" {
		market, err := domain.NormalizeMarket(marketParam)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		markets = []domain.Market{market}
	}

	items := make([]catalog.Security, 0)
	for _, market := range markets {
		found, err := h.catalog.Search(query, market)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		items = append(items, found...)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":           items,
		"catalog_version": h.catalog.Version(),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", 20)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	items, total, err := h.repo.List(r.Context(), httpx.UserID(r.Context()), page, size)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items": h.render(items),
		"page":  page,
		"size":  size,
		"total": total,
	})
}

type addRequest struct {
	Symbol string `json:"symbol"`
	Market string `json:"market"`
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	market, err := domain.NormalizeMarket(req.Market)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	symbol, err := domain.NormalizeSymbol(req.Symbol)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	security, ok := h.catalog.Lookup(market, symbol)
	if !ok {
		httpx.WriteError(w, r, h.log,
			httpx.Coded(http.StatusBadRequest, httpx.CodeInvalidInput, "unknown or inactive symbol"))
		return
	}

	item, isDuplicate, err := h.repo.Add(r.Context(), watchlist.Item{
		ID:        h.ids.NewID(),
		UserID:    httpx.UserID(r.Context()),
		Market:    market,
		Symbol:    security.Ticker,
		CreatedAt: h.clk.Now(),
	})
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	status := http.StatusCreated
	if isDuplicate {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, map[string]any{
		"item":         h.renderOne(item),
		"is_duplicate": isDuplicate,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), httpx.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) render(items []watchlist.Item) []map[string]any {
	rendered := make([]map[string]any, 0, len(items))
	for _, item := range items {
		rendered = append(rendered, h.renderOne(item))
	}
	return rendered
}

func (h *Handler) renderOne(item watchlist.Item) map[string]any {
	name := item.Name
	if name == "" {
		if security, ok := h.catalog.Lookup(item.Market, item.Symbol); ok {
			name = security.Name
		}
	}
	return map[string]any{
		"id":             item.ID,
		"market":         item.Market,
		"symbol":         item.Symbol,
		"name":           name,
		"created_at_utc": domain.FormatUTC(item.CreatedAt),
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
