package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/scheduler"
)

// AggregateTopN is the number of ranked authors kept per zone and period.
const AggregateTopN = 20

type vectorizePayload struct {
	ItemIDs []string `json:"itemIds"`
	ZoneID  string   `json:"zoneId"`
}

type refreshPayload struct {
	ItemID string `json:"itemId"`
}

type pollPayload struct {
	RuleID string `json:"ruleId"`
}

type backfillPayload struct {
	RuleID         string `json:"ruleId"`
	RequestedCount int    `json:"requestedCount"`
}

// WorkerConfig tunes the per-topic pools. Zero values fall back to the
// defaults: refreshes are cheap and frequent, polls hold a provider page,
// backfill and aggregates run alone.
type WorkerConfig struct {
	RefreshWorkers   int
	PollWorkers      int
	VectorizeWorkers int
	SnapshotTimeout  time.Duration
	PollTimeout      time.Duration
}

// RegisterHandlers binds the orchestrator to the scheduler topics.
func (o *Orchestrator) RegisterHandlers(s *scheduler.Scheduler, wc WorkerConfig) {
	if wc.RefreshWorkers <= 0 {
		wc.RefreshWorkers = 8
	}
	if wc.PollWorkers <= 0 {
		wc.PollWorkers = 4
	}
	if wc.VectorizeWorkers <= 0 {
		wc.VectorizeWorkers = 2
	}
	if wc.SnapshotTimeout <= 0 {
		wc.SnapshotTimeout = 60 * time.Second
	}
	if wc.PollTimeout <= 0 {
		wc.PollTimeout = 120 * time.Second
	}

	s.Register(scheduler.TopicRefreshEngagement, wc.RefreshWorkers, wc.SnapshotTimeout, o.handleRefresh)
	s.Register(scheduler.TopicSnapshotItem, wc.RefreshWorkers, wc.SnapshotTimeout, o.handleRefresh)
	s.Register(scheduler.TopicPollRule, wc.PollWorkers, wc.PollTimeout, o.handlePoll)
	s.Register(scheduler.TopicVectorize, wc.VectorizeWorkers, 60*time.Second, o.handleVectorize)
	s.Register(scheduler.TopicBackfillRule, 1, 300*time.Second, o.handleBackfill)
	s.Register(scheduler.TopicRefreshAggregates, 1, 120*time.Second, o.handleAggregates)
}

// handleRefresh runs one engagement tick and, when the item stays in a
// refreshable tier, chains the next snapshot job at the tracker's due time.
func (o *Orchestrator) handleRefresh(ctx context.Context, job models.Job) error {
	var payload refreshPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return gerrors.WrapParse("handle_refresh", "", err)
	}
	if payload.ItemID == "" {
		return gerrors.WrapParse("handle_refresh", "", fmt.Errorf("job %s has no item id", job.ID))
	}

	result, err := o.refresher.RefreshItem(ctx, payload.ItemID)
	if err != nil {
		if gerrors.IsNotFound(err) {
			// The item is gone; retrying cannot help.
			log.Warn().Str("itemId", payload.ItemID).Msg("Refresh for missing item dropped")
			return nil
		}
		return err
	}
	if result.Skipped || result.NextUpdateAt == nil {
		return nil
	}

	delay := time.Until(*result.NextUpdateAt)
	if delay < 0 {
		delay = 0
	}
	_, err = o.queue.Enqueue(ctx, scheduler.TopicSnapshotItem, refreshPayload{ItemID: payload.ItemID},
		delay, "snapshot:"+payload.ItemID)
	if err != nil {
		log.Error().Err(err).Str("itemId", payload.ItemID).Msg("Snapshot enqueue failed")
	}
	return nil
}

func (o *Orchestrator) handlePoll(ctx context.Context, job models.Job) error {
	var payload pollPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return gerrors.WrapParse("handle_poll", "", err)
	}
	if payload.RuleID == "" {
		return gerrors.WrapParse("handle_poll", "", fmt.Errorf("job %s has no rule id", job.ID))
	}

	_, err := o.PollRule(ctx, payload.RuleID)
	if gerrors.IsNotFound(err) {
		log.Warn().Str("ruleId", payload.RuleID).Msg("Poll for deleted rule dropped")
		return nil
	}
	return err
}

func (o *Orchestrator) handleVectorize(ctx context.Context, job models.Job) error {
	var payload vectorizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return gerrors.WrapParse("handle_vectorize", "", err)
	}
	if len(payload.ItemIDs) == 0 {
		return nil
	}

	result, err := o.vectorizer.EnsureEmbeddings(ctx, payload.ItemIDs)
	if err != nil {
		return err
	}
	log.Info().Str("zoneId", payload.ZoneID).Int("total", result.Total).
		Int("new", result.NewlyVectorized).Int("failed", result.Failed).
		Float64("cacheHitRate", result.CacheHitRate).Msg("Vectorize batch finished")
	return nil
}

func (o *Orchestrator) handleBackfill(ctx context.Context, job models.Job) error {
	var payload backfillPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return gerrors.WrapParse("handle_backfill", "", err)
	}
	if payload.RuleID == "" {
		return gerrors.WrapParse("handle_backfill", "", fmt.Errorf("job %s has no rule id", job.ID))
	}

	_, err := o.Backfill(ctx, payload.RuleID, payload.RequestedCount)
	if gerrors.IsNotFound(err) {
		log.Warn().Str("ruleId", payload.RuleID).Msg("Backfill for deleted rule dropped")
		return nil
	}
	return err
}

// handleAggregates rebuilds the read models of every active zone.
func (o *Orchestrator) handleAggregates(ctx context.Context, job models.Job) error {
	if err := o.RefreshAggregates(ctx); err != nil {
		return err
	}
	// Self-chaining keeps the sweep alive without an external cron.
	_, err := o.queue.Enqueue(ctx, scheduler.TopicRefreshAggregates, struct{}{},
		5*time.Minute, "refresh_aggregates")
	if err != nil {
		log.Error().Err(err).Msg("Aggregate sweep re-enqueue failed")
	}
	return nil
}

// RefreshAggregates recomputes top authors, overview and location read
// models for every active zone. Per-zone failures do not stop the sweep.
func (o *Orchestrator) RefreshAggregates(ctx context.Context) error {
	zoneIDs, err := o.store.ListActiveZoneIDs(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var failed int
	for _, zoneID := range zoneIDs {
		if err := o.store.RefreshZoneAggregates(ctx, zoneID, AggregateTopN, now); err != nil {
			log.Error().Err(err).Str("zoneId", zoneID).Msg("Aggregate refresh failed")
			failed++
		}
	}
	if failed > 0 {
		return gerrors.New(gerrors.ErrorTypeInternal, "refresh_aggregates", "",
			fmt.Errorf("%d of %d zones failed", failed, len(zoneIDs)))
	}
	log.Debug().Int("zones", len(zoneIDs)).Msg("Zone aggregates refreshed")
	return nil
}

// SeedPolling enqueues the initial poll job for every active pull rule.
// Idempotency keys make restarts harmless.
func (o *Orchestrator) SeedPolling(ctx context.Context) error {
	rules, err := o.store.ListActivePollRules(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if rule.Provider() == models.ProviderTweet && rule.IsPush() {
			continue
		}
		_, err := o.queue.Enqueue(ctx, scheduler.TopicPollRule, pollPayload{RuleID: rule.ID},
			0, "poll_rule:"+rule.ID)
		if err != nil {
			log.Error().Err(err).Str("ruleId", rule.ID).Msg("Poll seed enqueue failed")
		}
	}
	log.Info().Int("rules", len(rules)).Msg("Poll chains seeded")
	return nil
}
