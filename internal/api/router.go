// Package api is the HTTP surface of the service: the inbound webhook, the
// signed job-callback endpoint, rule management and the per-zone read
// models, plus health, version and metrics.
package api

import (
	"net/http"

	"github.com/gorgonehq/gorgone/internal/aggregates"
	"github.com/gorgonehq/gorgone/internal/config"
	"github.com/gorgonehq/gorgone/internal/ingest"
	"github.com/gorgonehq/gorgone/internal/rules"
	"github.com/gorgonehq/gorgone/internal/scheduler"
	"github.com/gorgonehq/gorgone/internal/store"
	"github.com/gorgonehq/gorgone/internal/telemetry"
)

// maxWebhookBody bounds inbound payload reads.
const maxWebhookBody = 2 << 20

// Router handles HTTP routing.
type Router struct {
	mux          *http.ServeMux
	config       *config.Config
	store        *store.Store
	orchestrator *ingest.Orchestrator
	registry     *rules.Registry
	aggregates   *aggregates.Service
	dispatcher   *scheduler.Scheduler
	version      string
}

// Deps carries the router collaborators.
type Deps struct {
	Config       *config.Config
	Store        *store.Store
	Orchestrator *ingest.Orchestrator
	Registry     *rules.Registry
	Aggregates   *aggregates.Service
	Dispatcher   *scheduler.Scheduler
	Version      string
}

// NewRouter creates the service handler.
func NewRouter(deps Deps) http.Handler {
	r := &Router{
		mux:          http.NewServeMux(),
		config:       deps.Config,
		store:        deps.Store,
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		aggregates:   deps.Aggregates,
		dispatcher:   deps.Dispatcher,
		version:      deps.Version,
	}
	r.setupRoutes()
	return withRequestContext(r.mux)
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/webhook", r.handleWebhook)
	r.mux.HandleFunc("/_jobs/", r.handleJobCallback)

	r.mux.HandleFunc("/api/rules", r.handleRules)
	r.mux.HandleFunc("/api/rules/", r.handleRuleByID)
	r.mux.HandleFunc("/api/zones/", r.handleZoneReads)

	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/version", r.handleVersion)
	r.mux.Handle("/metrics", telemetry.Handler())
}
