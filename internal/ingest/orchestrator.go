// Package ingest orchestrates the ingestion pipeline: webhook intake, rule
// polling, backfill, and the topic handlers that tie the scheduler to the
// tracker and the embedding service.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gorgonehq/gorgone/internal/embeddings"
	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/providers/news"
	"github.com/gorgonehq/gorgone/internal/providers/tweets"
	"github.com/gorgonehq/gorgone/internal/providers/videos"
	"github.com/gorgonehq/gorgone/internal/rules"
	"github.com/gorgonehq/gorgone/internal/scheduler"
	"github.com/gorgonehq/gorgone/internal/store"
	"github.com/gorgonehq/gorgone/internal/telemetry"
	"github.com/gorgonehq/gorgone/internal/tracker"
)

// Delays applied to the jobs enqueued after ingest.
const (
	VectorizeDelay    = 5 * time.Second
	FirstRefreshDelay = time.Hour
)

// Enqueuer is the slice of the scheduler the orchestrator needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload any, delay time.Duration, idempotencyKey string) (string, error)
}

// PushSearcher is the push provider's backfill search.
type PushSearcher interface {
	Search(ctx context.Context, query, cursor string, pageSize int) ([]tweets.RawTweet, string, error)
}

// VideoSearcher is the video provider's pull search.
type VideoSearcher interface {
	Search(ctx context.Context, kind models.RuleKind, query, cursor string, pageSize int) ([]videos.RawVideo, string, error)
}

// NewsSearcher is the news provider's query search.
type NewsSearcher interface {
	Search(ctx context.Context, q news.Query, cursor string, pageSize int) ([]news.RawArticle, string, error)
}

// Vectorizer is the slice of the embedding service the handlers need.
type Vectorizer interface {
	EnsureEmbeddings(ctx context.Context, itemIDs []string) (embeddings.Result, error)
}

// Refresher runs one engagement refresh tick.
type Refresher interface {
	RefreshItem(ctx context.Context, itemID string) (tracker.RefreshResult, error)
}

// Orchestrator wires the ingestion entry points together.
type Orchestrator struct {
	store    *store.Store
	registry *rules.Registry
	queue    Enqueuer

	pushSearch PushSearcher
	videoSrch  VideoSearcher
	newsSrch   NewsSearcher

	vectorizer Vectorizer
	refresher  Refresher
}

// Config carries the orchestrator collaborators.
type Config struct {
	Store      *store.Store
	Registry   *rules.Registry
	Queue      Enqueuer
	PushSearch PushSearcher
	Videos     VideoSearcher
	News       NewsSearcher
	Vectorizer Vectorizer
	Refresher  Refresher
}

// New builds the orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:      cfg.Store,
		registry:   cfg.Registry,
		queue:      cfg.Queue,
		pushSearch: cfg.PushSearch,
		videoSrch:  cfg.Videos,
		newsSrch:   cfg.News,
		vectorizer: cfg.Vectorizer,
		refresher:  cfg.Refresher,
	}
}

// WebhookResult is the per-delivery ingest summary returned to the caller.
type WebhookResult struct {
	Received   int      `json:"received"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Errors     int      `json:"errors"`
	ItemIDs    []string `json:"-"`
}

// HandleWebhook ingests one push delivery. Empty and test payloads succeed
// with zero counts. Deliveries without a resolvable rule are dropped with a
// warning: the zone cannot be determined deterministically. A deactivated
// rule still ingests; the delivery already reached us.
func (o *Orchestrator) HandleWebhook(ctx context.Context, body []byte) (WebhookResult, error) {
	batch, err := tweets.DecodeWebhook(body)
	if err != nil {
		telemetry.Get().RecordWebhook("rejected")
		return WebhookResult{}, err
	}
	result := WebhookResult{Received: len(batch.Tweets)}
	if len(batch.Tweets) == 0 {
		telemetry.Get().RecordWebhook("empty")
		return result, nil
	}

	if batch.RuleID == "" {
		telemetry.Get().RecordWebhook("rejected")
		log.Warn().Int("tweets", len(batch.Tweets)).
			Msg("Webhook delivery without rule id dropped")
		result.Errors = result.Received
		return result, nil
	}
	rule, err := o.registry.ResolveByExternalID(ctx, batch.RuleID)
	if err != nil {
		return result, err
	}
	if rule == nil {
		telemetry.Get().RecordWebhook("rejected")
		log.Warn().Str("externalRuleId", batch.RuleID).Int("tweets", len(batch.Tweets)).
			Msg("Webhook delivery for unknown rule dropped")
		result.Errors = result.Received
		return result, nil
	}
	if !rule.IsActive {
		log.Info().Str("ruleId", rule.ID).
			Msg("Webhook delivery for deactivated rule; ingesting anyway")
	}

	for _, raw := range batch.Tweets {
		item, err := tweets.ParseItem(raw)
		if err != nil {
			log.Warn().Err(err).Msg("Tweet parse failed; item skipped")
			telemetry.Get().RecordItem(tweets.ProviderTag, "error")
			result.Errors++
			continue
		}
		var author *models.CanonicalAuthor
		if a, ok := tweets.ParseAuthor(raw); ok {
			author = &a
		}
		id, inserted, err := o.ingestOne(ctx, rule.ZoneID, item, author)
		if err != nil {
			log.Error().Err(err).Str("providerItemId", item.ProviderItemID).Msg("Item ingest failed")
			telemetry.Get().RecordItem(tweets.ProviderTag, "error")
			result.Errors++
			continue
		}
		if inserted {
			result.Inserted++
			result.ItemIDs = append(result.ItemIDs, id)
		} else {
			result.Duplicates++
		}
	}

	if result.Inserted > 0 {
		if err := o.store.RecordRulePoll(ctx, rule.ID, time.Now(), result.Inserted); err != nil {
			log.Warn().Err(err).Str("ruleId", rule.ID).Msg("Rule stats update failed")
		}
	}
	o.enqueueFollowups(ctx, rule.ZoneID, result.ItemIDs, true)

	telemetry.Get().RecordWebhook("accepted")
	log.Info().Str("ruleId", rule.ID).Int("received", result.Received).
		Int("inserted", result.Inserted).Int("duplicates", result.Duplicates).
		Int("errors", result.Errors).Msg("Webhook ingested")
	return result, nil
}

// ingestOne runs the normalization path for one canonical item: author
// upsert, insert-if-absent with entities, and on first insert the initial
// snapshot and tracking row.
func (o *Orchestrator) ingestOne(ctx context.Context, zoneID string, item models.CanonicalItem, author *models.CanonicalAuthor) (string, bool, error) {
	authorID := ""
	if author != nil {
		id, err := o.store.UpsertAuthor(ctx, *author, 1)
		if err != nil {
			return "", false, err
		}
		authorID = id
	}

	res, err := o.store.InsertItemIfAbsent(ctx, zoneID, item, authorID)
	if err != nil {
		return "", false, err
	}
	if !res.Inserted {
		telemetry.Get().RecordItem(string(item.Provider), "duplicate")
		return res.ID, false, nil
	}
	telemetry.Get().RecordItem(string(item.Provider), "inserted")

	// First snapshot: deltas mirror the counters, velocity undefined.
	if _, err := o.store.AppendSnapshot(ctx, res.ID, item.Counters, item.Counters, 0); err != nil {
		return res.ID, true, err
	}

	// News articles carry no live counters and are never refreshed.
	if item.Provider != models.ProviderNews {
		now := time.Now()
		tier := tracker.TierAtIngest(now.Sub(item.CreatedAtSource))
		var next *time.Time
		if _, refreshable := tracker.RefreshPeriod(tier); refreshable {
			at := now.Add(FirstRefreshDelay)
			next = &at
		}
		err := o.store.UpsertTracking(ctx, models.Tracking{
			ItemID:       res.ID,
			Tier:         tier,
			NextUpdateAt: next,
		})
		if err != nil {
			return res.ID, true, err
		}
	}
	return res.ID, true, nil
}

// enqueueFollowups schedules vectorization and, for refreshable providers,
// the first engagement refresh of freshly inserted items. Enqueue failures
// lose downstream work for this batch only.
func (o *Orchestrator) enqueueFollowups(ctx context.Context, zoneID string, itemIDs []string, withRefresh bool) {
	if len(itemIDs) == 0 {
		return
	}
	_, err := o.queue.Enqueue(ctx, scheduler.TopicVectorize, vectorizePayload{
		ItemIDs: itemIDs,
		ZoneID:  zoneID,
	}, VectorizeDelay, "")
	if err != nil {
		log.Error().Err(err).Int("items", len(itemIDs)).Msg("Vectorize enqueue failed")
	}
	if !withRefresh {
		return
	}

	for _, id := range itemIDs {
		_, err := o.queue.Enqueue(ctx, scheduler.TopicRefreshEngagement, refreshPayload{ItemID: id},
			FirstRefreshDelay, "refresh:"+id)
		if err != nil {
			log.Error().Err(err).Str("itemId", id).Msg("Refresh enqueue failed")
		}
	}
}

func classifyProviderError(provider string, err error) {
	var ie *gerrors.IngestError
	if errors.As(err, &ie) {
		telemetry.Get().RecordProviderError(provider, string(ie.Type))
	}
}
