// Package tweets adapts the push tweet provider: webhook payload decoding,
// canonical parsing and the remote rule-mirror client.
package tweets

import (
	"encoding/json"
	"fmt"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
)

// ProviderTag is the uniqueness namespace for tweet records.
const ProviderTag = "tweet"

// WebhookBatch is the decoded form of an inbound webhook delivery.
type WebhookBatch struct {
	RuleID string
	Tweets []RawTweet
}

// envelope covers the object-shaped webhook variants.
type envelope struct {
	RuleID  string     `json:"rule_id"`
	Tweets  []RawTweet `json:"tweets"`
	Results []RawTweet `json:"results"`
	Tweet   *RawTweet  `json:"tweet"`
}

// DecodeWebhook decodes a webhook body. The provider ships four shapes,
// tried in a fixed order: a bare array, {"tweets":[...]}, {"results":[...]}
// and the single-item {"tweet":{...}}. Anything else is a parse error.
// An empty batch (test delivery) decodes successfully with zero tweets.
func DecodeWebhook(body []byte) (WebhookBatch, error) {
	var batch WebhookBatch

	var array []RawTweet
	if err := json.Unmarshal(body, &array); err == nil {
		batch.Tweets = array
		// Bare arrays carry the rule id per tweet.
		for _, t := range array {
			if t.RuleID != "" {
				batch.RuleID = t.RuleID
				break
			}
		}
		return batch, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return batch, gerrors.WrapParse("decode_webhook", ProviderTag,
			fmt.Errorf("unrecognized payload shape: %w", err))
	}

	batch.RuleID = env.RuleID
	switch {
	case env.Tweets != nil:
		batch.Tweets = env.Tweets
	case env.Results != nil:
		batch.Tweets = env.Results
	case env.Tweet != nil:
		batch.Tweets = []RawTweet{*env.Tweet}
	default:
		// An empty object is a provider test ping, not an error.
		batch.Tweets = nil
	}

	if batch.RuleID == "" {
		for _, t := range batch.Tweets {
			if t.RuleID != "" {
				batch.RuleID = t.RuleID
				break
			}
		}
	}
	return batch, nil
}
