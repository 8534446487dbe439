// Package telemetry manages Prometheus instrumentation for the ingestion
// core: webhook traffic, item outcomes, job lifecycle and snapshot activity.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counter families of the ingestion core.
type Metrics struct {
	webhooksReceived *prometheus.CounterVec
	itemsIngested    *prometheus.CounterVec
	jobsProcessed    *prometheus.CounterVec
	snapshotsTaken   *prometheus.CounterVec
	tierTransitions  *prometheus.CounterVec
	embeddingLookups *prometheus.CounterVec
	providerErrors   *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance, registering the collectors on
// first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			webhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gorgone",
				Name:      "webhooks_received_total",
				Help:      "Inbound webhook deliveries by outcome (accepted, rejected, empty).",
			}, []string{"outcome"}),
			itemsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gorgone",
				Name:      "items_ingested_total",
				Help:      "Item ingestion outcomes by provider (inserted, duplicate, error).",
			}, []string{"provider", "outcome"}),
			jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gorgone",
				Name:      "jobs_processed_total",
				Help:      "Job completions by topic and outcome (done, retried, failed).",
			}, []string{"topic", "outcome"}),
			snapshotsTaken: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gorgone",
				Name:      "snapshots_taken_total",
				Help:      "Engagement snapshots appended, by tier at refresh time.",
			}, []string{"tier"}),
			tierTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gorgone",
				Name:      "tier_transitions_total",
				Help:      "Tracking tier transitions (from, to).",
			}, []string{"from", "to"}),
			embeddingLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gorgone",
				Name:      "embedding_lookups_total",
				Help:      "Embedding cache lookups (hit, miss, error).",
			}, []string{"outcome"}),
			providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gorgone",
				Name:      "provider_errors_total",
				Help:      "Provider API failures by provider and error type.",
			}, []string{"provider", "type"}),
		}
		prometheus.MustRegister(
			instance.webhooksReceived,
			instance.itemsIngested,
			instance.jobsProcessed,
			instance.snapshotsTaken,
			instance.tierTransitions,
			instance.embeddingLookups,
			instance.providerErrors,
		)
	})
	return instance
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	Get()
	return promhttp.Handler()
}

func (m *Metrics) RecordWebhook(outcome string) {
	m.webhooksReceived.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordItem(provider, outcome string) {
	m.itemsIngested.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordJob(topic, outcome string) {
	m.jobsProcessed.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) RecordSnapshot(tier string) {
	m.snapshotsTaken.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordTierTransition(from, to string) {
	m.tierTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordEmbeddingLookup(outcome string) {
	m.embeddingLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordProviderError(provider, errType string) {
	m.providerErrors.WithLabelValues(provider, errType).Inc()
}
