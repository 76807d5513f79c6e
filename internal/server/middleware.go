package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ohmystock/ohmystock/internal/httpx"
)

// requestIDMiddleware mints a request id for every request so error
// envelopes and logs correlate. A caller-supplied X-Request-ID is honored.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = s.ids.NewID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(httpx.WithRequestID(r.Context(), id)))
	})
}

// recoveryMiddleware converts panics into the unknown_error envelope.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Str("request_id", httpx.RequestID(r.Context())).
					Msg("Panic recovered")
				httpx.WriteJSON(w, http.StatusInternalServerError, httpx.Envelope{
					Code:      httpx.CodeUnknownError,
					Message:   "internal error",
					Details:   map[string]any{},
					RequestID: httpx.RequestID(r.Context()),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", httpx.RequestID(r.Context())).
			Msg("HTTP request")
	})
}

// bufferedWriter holds the response until the handler finishes so a timeout
// can still replace the body with the envelope.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) { b.status = status }

func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for key, values := range b.header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

// timeoutMiddleware bounds handler latency. A handler that overruns the
// deadline gets a 504 with a retryable envelope instead of a half-written
// body, which is why the response is buffered.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	timeout := s.cfg.HandlerTimeout
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		buffered := newBufferedWriter()
		done := make(chan struct{})
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					s.log.Error().
						Interface("panic", rec).
						Str("path", r.URL.Path).
						Msg("Panic recovered")
					buffered.status = http.StatusInternalServerError
				}
				close(done)
			}()
			next.ServeHTTP(buffered, r.WithContext(ctx))
		}()

		select {
		case <-done:
			buffered.flush(w)
		case <-ctx.Done():
			envelope := httpx.Envelope{
				Code:      httpx.CodeTemporarilyUnavailable,
				Message:   "request timed out",
				Details:   map[string]any{},
				RequestID: httpx.RequestID(r.Context()),
				Retryable: true,
			}
			httpx.WriteJSON(w, http.StatusGatewayTimeout, envelope)
		}
	})
}

// authMiddleware requires a valid bearer token and stores the caller id on
// the context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			httpx.WriteError(w, r, s.log, httpx.Coded(http.StatusUnauthorized, httpx.CodeInvalidToken, "missing bearer token"))
			return
		}

		userID, err := s.verifier.VerifyToken(token)
		if err != nil {
			httpx.WriteError(w, r, s.log, httpx.Coded(http.StatusUnauthorized, httpx.CodeInvalidToken, "invalid or expired token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(httpx.WithUserID(r.Context(), userID)))
	})
}
