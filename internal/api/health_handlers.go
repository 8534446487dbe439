package api

import (
	"net/http"
	"time"

	"github.com/gorgonehq/gorgone/internal/models"
)

var startTime = time.Now()

type healthResponse struct {
	Status  string           `json:"status"`
	Version string           `json:"version"`
	Uptime  float64          `json:"uptime"`
	Jobs    map[string]int64 `json:"jobs"`
}

// handleHealth reports service liveness plus the queue depth per state.
// Failed jobs are the dead letters; a nonzero count is worth alerting on.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	counts, err := r.store.CountJobs(req.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
			Status:  "unhealthy",
			Version: r.version,
			Uptime:  time.Since(startTime).Seconds(),
		})
		return
	}

	jobs := make(map[string]int64, 4)
	for _, state := range []models.JobState{models.JobPending, models.JobInflight, models.JobDone, models.JobFailed} {
		jobs[string(state)] = counts[state]
	}
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Version: r.version,
		Uptime:  time.Since(startTime).Seconds(),
		Jobs:    jobs,
	})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"version": r.version})
}
