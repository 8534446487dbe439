package api

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/logging"
)

// APIError is the wire shape of every error response.
type APIError struct {
	ErrorMessage string `json:"error"`
	Code         string `json:"code"`
	StatusCode   int    `json:"statusCode"`
	Timestamp    int64  `json:"timestamp"`
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.written {
		return
	}
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// withRequestContext stamps a request ID, recovers panics and logs the
// request outcome.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, requestID := logging.WithRequestID(req.Context(), req.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", requestID)
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("path", req.URL.Path).
					Str("method", req.Method).
					Str("requestId", requestID).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered in handler")
				writeErrorResponse(rw, http.StatusInternalServerError, "internal_error",
					"An unexpected error occurred")
			}
		}()

		next.ServeHTTP(rw, req.WithContext(ctx))

		evt := log.Debug()
		if rw.statusCode >= 400 {
			evt = log.Warn()
		}
		evt.Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", rw.statusCode).
			Str("requestId", requestID).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSONResponse(w, statusCode, APIError{
		ErrorMessage: message,
		Code:         code,
		StatusCode:   statusCode,
		Timestamp:    time.Now().Unix(),
	})
}

// writeError maps a domain error onto the wire. Internal errors are logged
// and replaced with a generic message; the client never sees raw internals.
func writeError(w http.ResponseWriter, err error) {
	status := gerrors.HTTPStatus(err)
	code := errorCode(err)
	message := err.Error()
	if status >= 500 {
		log.Error().Err(err).Msg("Request failed")
		message = "An unexpected error occurred"
	}
	writeErrorResponse(w, status, code, message)
}

func errorCode(err error) string {
	var ie *gerrors.IngestError
	if errors.As(err, &ie) {
		return string(ie.Type)
	}
	return "internal"
}

func secureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
