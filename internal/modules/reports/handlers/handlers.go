// Package handlers provides HTTP handlers for reason reports and their
// revision history.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/httpx"
	"github.com/ohmystock/ohmystock/internal/modules/reports"
)

// Handler handles report HTTP requests.
type Handler struct {
	service *reports.Service
	repo    *reports.Repository
	log     zerolog.Logger
}

// NewHandler creates a reports handler.
func NewHandler(service *reports.Service, repo *reports.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		repo:    repo,
		log:     log.With().Str("handler", "reports").Logger(),
	}
}

type fileRequest struct {
	ReasonID   string `json:"reason_id"`
	ReportType string `json:"report_type"`
	Note       string `json:"note"`
}

// HandleFile serves POST /v1/events/{id}/reason-reports.
func (h *Handler) HandleFile(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	var req fileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	report, err := h.service.File(r.Context(), httpx.UserID(r.Context()), eventID, req.ReasonID, req.ReportType, req.Note)
	if errors.Is(err, reports.ErrDuplicateOpenReport) {
		httpx.WriteError(w, r, h.log,
			httpx.Coded(http.StatusBadRequest, httpx.CodeDuplicateReasonReport, "an open report for this reason already exists"))
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, renderReport(report))
}

type advanceRequest struct {
	Status           string `json:"status"`
	Note             string `json:"note"`
	AdjustConfidence bool   `json:"adjust_confidence"`
}

// HandleAdvance serves PATCH /v1/reason-reports/{id}/status. The caller owns
// review duty; the state machine only moves forward.
func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "id")
	var req advanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	report, err := h.service.Advance(r.Context(), reportID, req.Status, req.Note, req.AdjustConfidence)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderReport(report))
}

// HandleRevisions serves GET /v1/events/{id}/reason-revisions. Events with no
// report at all answer 404 so clients can distinguish "never reported" from
// "reported, nothing revised yet".
func (h *Handler) HandleRevisions(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	has, err := h.repo.HasReports(r.Context(), eventID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if !has {
		httpx.WriteError(w, r, h.log,
			httpx.Coded(http.StatusNotFound, httpx.CodeRevisionHistoryNotFound, "no reports were filed for this event"))
		return
	}

	transitions, err := h.repo.TransitionsByEvent(r.Context(), eventID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	revisions, err := h.repo.RevisionsByEvent(r.Context(), eventID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	transitionViews := make([]map[string]any, 0, len(transitions))
	latestStatus := ""
	for _, transition := range transitions {
		transitionViews = append(transitionViews, map[string]any{
			"report_id":   transition.ReportID,
			"reason_id":   transition.ReasonID,
			"from_status": transition.FromStatus,
			"to_status":   transition.ToStatus,
			"note":        transition.Note,
			"changed_at":  domain.FormatUTC(transition.ChangedAt),
		})
		latestStatus = transition.ToStatus
	}

	revisionViews := make([]map[string]any, 0, len(revisions))
	for _, revision := range revisions {
		revisionViews = append(revisionViews, map[string]any{
			"report_id":         revision.ReportID,
			"reason_id":         revision.ReasonID,
			"revision_reason":   revision.RevisionReason,
			"confidence_before": revision.ConfidenceBefore,
			"confidence_after":  revision.ConfidenceAfter,
			"revised_at":        domain.FormatUTC(revision.RevisedAt),
		})
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"event_id":    eventID,
		"transitions": transitionViews,
		"revisions":   revisionViews,
		"meta": map[string]any{
			"has_revision_history": len(revisions) > 0,
			"latest_status":        latestStatus,
		},
	})
}

func renderReport(report reports.Report) map[string]any {
	return map[string]any{
		"id":          report.ID,
		"event_id":    report.EventID,
		"reason_id":   report.ReasonID,
		"report_type": report.ReportType,
		"note":        report.Note,
		"status":      report.Status,
		"created_at":  domain.FormatUTC(report.CreatedAt),
		"updated_at":  domain.FormatUTC(report.UpdatedAt),
	}
}
