// Package httpx holds the external error contract and response helpers
// shared by all handlers: the error envelope, the code taxonomy, request-id
// and caller-identity context.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// External error codes. Clients key localized copy and retry decisions off
// these.
const (
	CodeInvalidInput            = "invalid_input"
	CodeInvalidCredentials      = "invalid_credentials"
	CodeEmailAlreadyExists      = "email_already_exists"
	CodeInvalidToken            = "invalid_token"
	CodeForbidden               = "forbidden"
	CodeNotFound                = "not_found"
	CodeConflict                = "conflict"
	CodeDuplicateReasonReport   = "duplicate_reason_report"
	CodeRevisionHistoryNotFound = "reason_revision_history_not_found"
	CodeBriefLinkExpired        = "brief_link_expired"
	CodeCompareUpstreamTimeout  = "compare_upstream_timeout"
	CodeTemporarilyUnavailable  = "temporarily_unavailable"
	CodeUpstreamUnavailable     = "upstream_unavailable"
	CodeUnknownError            = "unknown_error"
)

// Envelope is the body of every non-2xx response.
type Envelope struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	RequestID string         `json:"request_id"`
	Retryable bool           `json:"retryable"`
}

// CodedError carries an explicit external code and HTTP status. Modules
// return it for failures the generic domain sentinels cannot express.
type CodedError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
	Details   map[string]any
}

func (e *CodedError) Error() string { return e.Message }

// Coded builds a CodedError.
func Coded(status int, code, message string) *CodedError {
	return &CodedError{Status: status, Code: code, Message: message}
}

// WithDetails attaches detail fields to the error.
func (e *CodedError) WithDetails(details map[string]any) *CodedError {
	e.Details = details
	return e
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
)

// WithRequestID stores the request id on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id, empty if unset.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithUserID stores the authenticated caller on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated caller, empty if unauthenticated.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WriteJSON writes a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps err to the error envelope and writes it. Unrecognized
// errors become unknown_error and are logged with the request id.
func WriteError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	status, envelope := mapError(r.Context(), err)
	if envelope.Code == CodeUnknownError {
		log.Error().Err(err).Str("request_id", envelope.RequestID).Msg("Unhandled error")
	}
	WriteJSON(w, status, envelope)
}

func mapError(ctx context.Context, err error) (int, Envelope) {
	envelope := Envelope{
		Message:   err.Error(),
		Details:   map[string]any{},
		RequestID: RequestID(ctx),
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		envelope.Code = coded.Code
		envelope.Retryable = coded.Retryable
		if coded.Message != "" {
			envelope.Message = coded.Message
		}
		if coded.Details != nil {
			envelope.Details = coded.Details
		}
		return coded.Status, envelope
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		envelope.Code = CodeInvalidInput
		return http.StatusBadRequest, envelope
	case errors.Is(err, domain.ErrNotFound):
		envelope.Code = CodeNotFound
		return http.StatusNotFound, envelope
	case errors.Is(err, domain.ErrConflict):
		envelope.Code = CodeConflict
		return http.StatusConflict, envelope
	case errors.Is(err, domain.ErrForbidden):
		envelope.Code = CodeForbidden
		return http.StatusForbidden, envelope
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrBackpressure):
		envelope.Code = CodeTemporarilyUnavailable
		envelope.Retryable = true
		return http.StatusServiceUnavailable, envelope
	}

	envelope.Code = CodeUnknownError
	envelope.Message = "internal error"
	return http.StatusInternalServerError, envelope
}

// DecodeJSON parses a request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return Coded(http.StatusBadRequest, CodeInvalidInput, "invalid JSON body")
	}
	return nil
}
