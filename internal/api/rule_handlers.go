package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/rules"
	"github.com/gorgonehq/gorgone/internal/scheduler"
)

type createRuleRequest struct {
	ZoneID          string `json:"zoneId"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	Query           string `json:"query"`
	IntervalSeconds int    `json:"intervalSeconds"`
	IsActive        *bool  `json:"isActive"`
}

type updateRuleRequest struct {
	Name            *string `json:"name"`
	Query           *string `json:"query"`
	IntervalSeconds *int    `json:"intervalSeconds"`
}

type toggleRuleRequest struct {
	Active bool `json:"active"`
}

type backfillRequest struct {
	RequestedCount int `json:"requestedCount"`
}

// handleRules serves the collection: list by zone and create.
func (r *Router) handleRules(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		zoneID := req.URL.Query().Get("zone")
		if zoneID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "zone query parameter is required")
			return
		}
		list, err := r.registry.List(req.Context(), zoneID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{"rules": list})

	case http.MethodPost:
		var body createRuleRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "parse", "Invalid request body")
			return
		}
		active := true
		if body.IsActive != nil {
			active = *body.IsActive
		}
		rule, err := r.registry.Create(req.Context(), models.Rule{
			ZoneID:          body.ZoneID,
			Name:            body.Name,
			Kind:            models.RuleKind(body.Kind),
			Query:           body.Query,
			IntervalSeconds: body.IntervalSeconds,
			IsActive:        active,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		// A new pull rule starts its poll chain immediately.
		if rule.IsActive && !rule.IsPush() {
			_, err := r.dispatcher.Enqueue(req.Context(), scheduler.TopicPollRule,
				map[string]string{"ruleId": rule.ID}, 0, "poll_rule:"+rule.ID)
			if err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSONResponse(w, http.StatusCreated, rule)

	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST required")
	}
}

// handleRuleByID serves one rule: read, patch, delete, plus the toggle and
// backfill sub-resources.
func (r *Router) handleRuleByID(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/rules/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Rule id is required")
		return
	}

	switch {
	case action == "" && req.Method == http.MethodGet:
		rule, err := r.registry.Get(req.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if rule == nil {
			writeErrorResponse(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		writeJSONResponse(w, http.StatusOK, rule)

	case action == "" && (req.Method == http.MethodPatch || req.Method == http.MethodPut):
		var body updateRuleRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "parse", "Invalid request body")
			return
		}
		rule, err := r.registry.Update(req.Context(), id, rules.Patch{
			Name:            body.Name,
			Query:           body.Query,
			IntervalSeconds: body.IntervalSeconds,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, rule)

	case action == "" && req.Method == http.MethodDelete:
		if err := r.registry.Delete(req.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case action == "toggle" && req.Method == http.MethodPost:
		var body toggleRuleRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "parse", "Invalid request body")
			return
		}
		if err := r.registry.Toggle(req.Context(), id, body.Active); err != nil {
			writeError(w, err)
			return
		}
		// Reactivating a pull rule reseeds its poll chain.
		if body.Active {
			rule, err := r.registry.Get(req.Context(), id)
			if err == nil && rule != nil && !rule.IsPush() {
				_, _ = r.dispatcher.Enqueue(req.Context(), scheduler.TopicPollRule,
					map[string]string{"ruleId": rule.ID}, 0, "poll_rule:"+rule.ID)
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case action == "backfill" && req.Method == http.MethodPost:
		var body backfillRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "parse", "Invalid request body")
			return
		}
		rule, err := r.registry.Get(req.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if rule == nil {
			writeErrorResponse(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		jobID, err := r.dispatcher.Enqueue(req.Context(), scheduler.TopicBackfillRule,
			map[string]any{"ruleId": id, "requestedCount": body.RequestedCount},
			0, "backfill:"+id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusAccepted, map[string]string{"jobId": jobID})

	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Unsupported method for rule resource")
	}
}
