package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorgonehq/gorgone/internal/aggregates"
)

// handleZoneReads serves the materialized read models of one zone:
// /api/zones/{id}/top-authors, /overview and /locations.
func (r *Router) handleZoneReads(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	rest := strings.TrimPrefix(req.URL.Path, "/api/zones/")
	zoneID, view, _ := strings.Cut(rest, "/")
	if zoneID == "" {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Zone id is required")
		return
	}

	period := req.URL.Query().Get("period")
	limit := queryInt(req, "limit")

	switch view {
	case "top-authors":
		authors, err := r.aggregates.TopAuthors(req.Context(), zoneID, period, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{"zoneId": zoneID, "period": periodOrDefault(period), "authors": authors})

	case "overview":
		overview, err := r.aggregates.Overview(req.Context(), zoneID, period)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, overview)

	case "locations":
		locations, err := r.aggregates.Locations(req.Context(), zoneID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{"zoneId": zoneID, "locations": locations})

	default:
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Unknown zone view")
	}
}

func periodOrDefault(period string) string {
	if period == "" {
		return aggregates.DefaultPeriod
	}
	return period
}

func queryInt(req *http.Request, key string) int {
	v := req.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
