// Package scheduler runs the durable delayed-job queue: enqueue with
// idempotency keys, per-topic worker pools leasing from the store, retry
// with exponential backoff and a lease reaper for crashed workers.
// Delivery is at-least-once; handlers must be idempotent.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/store"
	"github.com/gorgonehq/gorgone/internal/telemetry"
)

// Standard job topics.
const (
	TopicVectorize         = "vectorize"
	TopicRefreshEngagement = "refresh_engagement"
	TopicPollRule          = "poll_rule"
	TopicSnapshotItem      = "snapshot_item"
	TopicBackfillRule      = "backfill_rule"
	TopicRefreshAggregates = "refresh_aggregates"
)

// Handler processes one leased job. A nil return marks the job done; a
// retryable error reschedules it with backoff until max attempts.
type Handler func(ctx context.Context, job models.Job) error

type contextKey int

const currentJobKey contextKey = iota

// currentJobID returns the id of the job the context is executing under, or
// "" outside a handler. Self-chaining handlers re-enqueue their own
// idempotency key while their job row is still inflight; the executing job
// must not count as the duplicate.
func currentJobID(ctx context.Context) string {
	id, _ := ctx.Value(currentJobKey).(string)
	return id
}

type topicWorker struct {
	handler Handler
	workers int
	timeout time.Duration
}

// Scheduler owns the queue dispatch loop.
type Scheduler struct {
	store   *store.Store
	backoff BackoffConfig

	mu     sync.Mutex
	topics map[string]topicWorker
	rng    *rand.Rand

	leaseDuration time.Duration
	pollInterval  time.Duration
	reapInterval  time.Duration

	wg sync.WaitGroup
}

// Config tunes the scheduler.
type Config struct {
	LeaseDuration time.Duration // default 2m
	PollInterval  time.Duration // worker idle poll, default 1s
	ReapInterval  time.Duration // expired-lease sweep, default 30s
	Backoff       BackoffConfig
}

// New builds a scheduler over the store's job table.
func New(s *store.Store, cfg Config) *Scheduler {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	return &Scheduler{
		store:         s,
		backoff:       cfg.Backoff,
		topics:        make(map[string]topicWorker),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		leaseDuration: cfg.LeaseDuration,
		pollInterval:  cfg.PollInterval,
		reapInterval:  cfg.ReapInterval,
	}
}

// Register binds a handler to a topic with a fixed worker count and a
// per-job deadline. Must be called before Start.
func (s *Scheduler) Register(topic string, workers int, timeout time.Duration, handler Handler) {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = topicWorker{handler: handler, workers: workers, timeout: timeout}
}

// Enqueue persists a delayed job. When the idempotency key matches an
// existing non-terminal job on the topic, the enqueue is a no-op and the
// existing job id is returned.
func (s *Scheduler) Enqueue(ctx context.Context, topic string, payload any, delay time.Duration, idempotencyKey string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}
	now := time.Now()
	job := models.Job{
		ID:             ulid.Make().String(),
		Topic:          topic,
		Payload:        body,
		RunAfter:       now.Add(delay),
		MaxAttempts:    5,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}
	stored, inserted, err := s.store.EnqueueJob(ctx, job, currentJobID(ctx))
	if err != nil {
		return "", err
	}
	if !inserted {
		log.Debug().Str("topic", topic).Str("jobId", stored.ID).
			Str("idempotencyKey", idempotencyKey).Msg("Enqueue deduplicated")
	}
	return stored.ID, nil
}

// Dispatch runs a topic handler directly for a verified inbound callback.
// The payload is executed under the topic's deadline without touching the
// job table; the queue service owns that job's lifecycle.
func (s *Scheduler) Dispatch(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	tw, ok := s.topics[topic]
	s.mu.Unlock()
	if !ok {
		return gerrors.WrapNotFound("dispatch", "", fmt.Errorf("unknown topic %s", topic))
	}

	jobCtx, cancel := context.WithTimeout(ctx, tw.timeout)
	defer cancel()

	job := models.Job{
		ID:       ulid.Make().String(),
		Topic:    topic,
		Payload:  payload,
		RunAfter: time.Now(),
	}
	if err := tw.handler(jobCtx, job); err != nil {
		telemetry.Get().RecordJob(topic, "failed")
		return err
	}
	telemetry.Get().RecordJob(topic, "done")
	return nil
}

// Start launches the per-topic worker pools and the lease reaper, returning
// immediately. Workers drain when ctx is cancelled; Wait blocks until then.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	topics := make(map[string]topicWorker, len(s.topics))
	for name, tw := range s.topics {
		topics[name] = tw
	}
	s.mu.Unlock()

	for name, tw := range topics {
		for i := 0; i < tw.workers; i++ {
			s.wg.Add(1)
			go s.workerLoop(ctx, name, tw)
		}
		log.Info().Str("topic", name).Int("workers", tw.workers).Msg("Topic workers started")
	}

	s.wg.Add(1)
	go s.reaperLoop(ctx)
}

// Wait blocks until all workers have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context, topic string, tw topicWorker) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := s.store.LeaseNextJob(ctx, topic, time.Now(), s.leaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Job lease failed")
			sleepCtx(ctx, s.pollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, s.pollInterval)
			continue
		}
		s.runJob(ctx, *job, tw)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job models.Job, tw topicWorker) {
	jobCtx, cancel := context.WithTimeout(context.WithValue(ctx, currentJobKey, job.ID), tw.timeout)
	defer cancel()

	start := time.Now()
	err := tw.handler(jobCtx, job)
	elapsed := time.Since(start)

	if err == nil {
		if cerr := s.store.CompleteJob(ctx, job.ID); cerr != nil {
			log.Error().Err(cerr).Str("jobId", job.ID).Msg("Failed to mark job done")
		}
		telemetry.Get().RecordJob(job.Topic, "done")
		log.Debug().Str("topic", job.Topic).Str("jobId", job.ID).
			Dur("elapsed", elapsed).Msg("Job done")
		return
	}

	retryable := gerrors.IsRetryable(err) || jobCtx.Err() != nil
	if retryable && job.Attempts < job.MaxAttempts {
		s.mu.Lock()
		sample := s.rng.Float64()
		s.mu.Unlock()
		delay := s.backoff.NextDelay(job.Attempts, sample)
		if rerr := s.store.RetryJob(ctx, job.ID, time.Now().Add(delay)); rerr != nil {
			log.Error().Err(rerr).Str("jobId", job.ID).Msg("Failed to reschedule job")
		}
		telemetry.Get().RecordJob(job.Topic, "retried")
		log.Warn().Err(err).Str("topic", job.Topic).Str("jobId", job.ID).
			Int("attempt", job.Attempts).Dur("retryIn", delay).Msg("Job failed; retrying")
		return
	}

	if ferr := s.store.FailJob(ctx, job.ID); ferr != nil {
		log.Error().Err(ferr).Str("jobId", job.ID).Msg("Failed to mark job failed")
	}
	telemetry.Get().RecordJob(job.Topic, "failed")
	log.Error().Err(err).Str("topic", job.Topic).Str("jobId", job.ID).
		Int("attempts", job.Attempts).Msg("Job failed terminally")
}

// terminalJobRetention keeps done and failed jobs visible for a week
// before the reaper prunes them.
const terminalJobRetention = 7 * 24 * time.Hour

func (s *Scheduler) reaperLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := s.store.ReapExpiredLeases(context.Background(), time.Now())
			if err != nil {
				log.Error().Err(err).Msg("Lease reap failed")
				continue
			}
			if reaped > 0 {
				log.Warn().Int64("count", reaped).Msg("Re-delivered jobs with expired leases")
			}

			pruned, err := s.store.PruneTerminalJobs(context.Background(), time.Now().Add(-terminalJobRetention))
			if err != nil {
				log.Error().Err(err).Msg("Terminal job prune failed")
				continue
			}
			if pruned > 0 {
				log.Debug().Int64("count", pruned).Msg("Pruned terminal jobs")
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
