package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/providers/news"
	"github.com/gorgonehq/gorgone/internal/providers/tweets"
	"github.com/gorgonehq/gorgone/internal/providers/videos"
	"github.com/gorgonehq/gorgone/internal/scheduler"
	"github.com/gorgonehq/gorgone/internal/telemetry"
)

// maxBackfillPages bounds the page loop of a backfill run.
const maxBackfillPages = 50

// PollResult summarizes one poll or backfill run.
type PollResult struct {
	Received   int      `json:"received"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Errors     int      `json:"errors"`
	Pages      int      `json:"pages"`
	ItemIDs    []string `json:"-"`
}

// PollRule fetches one bounded page for a pull rule, runs the normalization
// path, stamps the rule's poll statistics and schedules the next tick at
// last_polled_at + interval.
func (o *Orchestrator) PollRule(ctx context.Context, ruleID string) (PollResult, error) {
	rule, err := o.store.GetRule(ctx, ruleID)
	if err != nil {
		return PollResult{}, err
	}
	if rule == nil {
		return PollResult{}, gerrors.WrapNotFound("poll_rule", "", fmt.Errorf("rule %s", ruleID))
	}
	if !rule.IsActive {
		// The poll chain ends here; reactivation reseeds it.
		log.Debug().Str("ruleId", ruleID).Msg("Poll skipped for inactive rule")
		return PollResult{}, nil
	}

	result, _, err := o.fetchPage(ctx, *rule, "", 0)
	if err != nil {
		classifyProviderError(string(rule.Provider()), err)
		return PollResult{}, err
	}

	polledAt := time.Now()
	if err := o.store.RecordRulePoll(ctx, rule.ID, polledAt, result.Inserted); err != nil {
		return result, err
	}
	o.enqueueFollowups(ctx, rule.ZoneID, result.ItemIDs, rule.Provider() != models.ProviderNews)

	delay := time.Duration(rule.IntervalSeconds) * time.Second
	_, err = o.queue.Enqueue(ctx, scheduler.TopicPollRule, pollPayload{RuleID: rule.ID}, delay, "poll_rule:"+rule.ID)
	if err != nil {
		log.Error().Err(err).Str("ruleId", rule.ID).Msg("Next poll enqueue failed")
	}

	log.Info().Str("ruleId", rule.ID).Str("provider", string(rule.Provider())).
		Int("received", result.Received).Int("inserted", result.Inserted).
		Msg("Rule polled")
	return result, nil
}

// Backfill pages through a rule's history until requestedCount items have
// been ingested, the provider runs dry, or the page cap is hit.
func (o *Orchestrator) Backfill(ctx context.Context, ruleID string, requestedCount int) (PollResult, error) {
	rule, err := o.store.GetRule(ctx, ruleID)
	if err != nil {
		return PollResult{}, err
	}
	if rule == nil {
		return PollResult{}, gerrors.WrapNotFound("backfill_rule", "", fmt.Errorf("rule %s", ruleID))
	}
	if requestedCount <= 0 {
		requestedCount = tweets.MaxPageSize
	}

	var total PollResult
	cursor := ""
	for total.Pages < maxBackfillPages && total.Inserted < requestedCount {
		page, next, err := o.fetchPage(ctx, *rule, cursor, requestedCount-total.Inserted)
		if err != nil {
			classifyProviderError(string(rule.Provider()), err)
			if total.Pages > 0 {
				// Keep what earlier pages ingested.
				break
			}
			return total, err
		}
		total.Pages++
		total.Received += page.Received
		total.Inserted += page.Inserted
		total.Duplicates += page.Duplicates
		total.Errors += page.Errors
		total.ItemIDs = append(total.ItemIDs, page.ItemIDs...)

		if page.Received == 0 || next == "" {
			break
		}
		cursor = next
	}

	if total.Inserted > 0 {
		if err := o.store.RecordRulePoll(ctx, rule.ID, time.Now(), total.Inserted); err != nil {
			log.Warn().Err(err).Str("ruleId", rule.ID).Msg("Rule stats update failed")
		}
	}
	o.enqueueFollowups(ctx, rule.ZoneID, total.ItemIDs, rule.Provider() != models.ProviderNews)

	log.Info().Str("ruleId", rule.ID).Int("pages", total.Pages).
		Int("inserted", total.Inserted).Msg("Backfill finished")
	return total, nil
}

// fetchPage pulls one provider page for a rule and ingests it. pageSize 0
// means the provider maximum.
func (o *Orchestrator) fetchPage(ctx context.Context, rule models.Rule, cursor string, pageSize int) (PollResult, string, error) {
	switch rule.Provider() {
	case models.ProviderTweet:
		raws, next, err := o.pushSearch.Search(ctx, rule.Query, cursor, pageSize)
		if err != nil {
			return PollResult{}, "", err
		}
		result := o.ingestTweets(ctx, rule.ZoneID, raws)
		result.Pages = 1
		return result, next, nil

	case models.ProviderVideo:
		query := strings.TrimPrefix(rule.Query, "video:")
		raws, next, err := o.videoSrch.Search(ctx, rule.Kind, query, cursor, pageSize)
		if err != nil {
			return PollResult{}, "", err
		}
		result := o.ingestVideos(ctx, rule.ZoneID, raws)
		result.Pages = 1
		return result, next, nil

	case models.ProviderNews:
		query, err := news.ParseQuery(rule.Query)
		if err != nil {
			return PollResult{}, "", err
		}
		raws, next, err := o.newsSrch.Search(ctx, query, cursor, pageSize)
		if err != nil {
			return PollResult{}, "", err
		}
		result := o.ingestArticles(ctx, rule.ZoneID, raws)
		result.Pages = 1
		return result, next, nil

	default:
		return PollResult{}, "", gerrors.New(gerrors.ErrorTypeInternal, "fetch_page", "",
			fmt.Errorf("rule %s has unroutable provider", rule.ID))
	}
}

func (o *Orchestrator) ingestTweets(ctx context.Context, zoneID string, raws []tweets.RawTweet) PollResult {
	result := PollResult{Received: len(raws)}
	for _, raw := range raws {
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
		o.collect(ctx, zoneID, item, author, &result)
	}
	return result
}

func (o *Orchestrator) ingestVideos(ctx context.Context, zoneID string, raws []videos.RawVideo) PollResult {
	result := PollResult{Received: len(raws)}
	for _, raw := range raws {
		item, err := videos.ParseItem(raw)
		if err != nil {
			log.Warn().Err(err).Msg("Video parse failed; item skipped")
			telemetry.Get().RecordItem(videos.ProviderTag, "error")
			result.Errors++
			continue
		}
		var author *models.CanonicalAuthor
		if a, ok := videos.ParseAuthor(raw); ok {
			author = &a
		}
		o.collect(ctx, zoneID, item, author, &result)
	}
	return result
}

func (o *Orchestrator) ingestArticles(ctx context.Context, zoneID string, raws []news.RawArticle) PollResult {
	result := PollResult{Received: len(raws)}
	for _, raw := range raws {
		item, err := news.ParseItem(raw)
		if err != nil {
			log.Warn().Err(err).Msg("Article parse failed; item skipped")
			telemetry.Get().RecordItem(news.ProviderTag, "error")
			result.Errors++
			continue
		}
		o.collect(ctx, zoneID, item, nil, &result)
	}
	return result
}

func (o *Orchestrator) collect(ctx context.Context, zoneID string, item models.CanonicalItem, author *models.CanonicalAuthor, result *PollResult) {
	id, inserted, err := o.ingestOne(ctx, zoneID, item, author)
	if err != nil {
		log.Error().Err(err).Str("providerItemId", item.ProviderItemID).Msg("Item ingest failed")
		result.Errors++
		return
	}
	if inserted {
		result.Inserted++
		result.ItemIDs = append(result.ItemIDs, id)
	} else {
		result.Duplicates++
	}
}
