package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gorgonehq/gorgone/internal/scheduler"
)

// handleWebhook is the push provider's inbound delivery endpoint. The
// shared-secret header gates it; payload shape errors surface as 400 with
// the per-item counts the orchestrator computed.
func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	if !secureCompare(req.Header.Get("X-API-Key"), r.config.WebhookSecret) {
		writeErrorResponse(w, http.StatusUnauthorized, "signature_invalid", "Invalid API key")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBody))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "payload_too_large", "Webhook payload unreadable or too large")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.config.WebhookTimeout)
	defer cancel()

	result, err := r.orchestrator.HandleWebhook(ctx, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// handleJobCallback executes a queue-service callback for one topic. The
// HMAC signature is required whenever its header is present; the bearer
// token is accepted only when the signature header is absent entirely.
func (r *Router) handleJobCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	topic := strings.TrimPrefix(req.URL.Path, "/_jobs/")
	if topic == "" || strings.Contains(topic, "/") {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Unknown callback path")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBody))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "payload_too_large", "Callback payload unreadable or too large")
		return
	}

	if _, ok := req.Header[scheduler.SignatureHeader]; ok {
		signature := req.Header.Get(scheduler.SignatureHeader)
		if !scheduler.VerifySignature(body, signature, r.config.QueueSigningKey) {
			writeErrorResponse(w, http.StatusUnauthorized, "signature_invalid", "Callback signature does not verify")
			return
		}
	} else if !scheduler.VerifyBearer(req.Header.Get(scheduler.AuthHeader), r.config.QueueToken) {
		writeErrorResponse(w, http.StatusUnauthorized, "signature_invalid", "Callback carries neither a valid signature nor a valid token")
		return
	}

	if err := r.dispatcher.Dispatch(req.Context(), topic, body); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Callback dispatch failed")
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
