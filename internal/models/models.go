// Package models defines the canonical record types shared by the ingestion
// pipeline, the engagement tracker and the store. Every record belongs to
// exactly one zone.
package models

import (
	"strings"
	"time"
)

// Provider identifies the external content source of a record.
type Provider string

const (
	ProviderTweet Provider = "tweet"
	ProviderVideo Provider = "video"
	ProviderNews  Provider = "news"
)

// RuleKind classifies a monitoring rule.
type RuleKind string

const (
	RuleKindKeyword   RuleKind = "keyword"
	RuleKindHashtag   RuleKind = "hashtag"
	RuleKindUser      RuleKind = "user"
	RuleKindCombined  RuleKind = "combined"
	RuleKindNewsQuery RuleKind = "news-query"
)

// EntityKind classifies an extracted entity.
type EntityKind string

const (
	EntityHashtag EntityKind = "hashtag"
	EntityMention EntityKind = "mention"
)

// Tier is the refresh cadence class of a tracked item.
type Tier string

const (
	TierUltraHot Tier = "ultra_hot"
	TierHot      Tier = "hot"
	TierWarm     Tier = "warm"
	TierCold     Tier = "cold"
)

// Zone is a tenant-like namespace within a client. The core treats zones as
// read-only; external collaborators own their lifecycle.
type Zone struct {
	ID          string       `json:"id"`
	ClientID    string       `json:"clientId"`
	DataSources DataSources  `json:"dataSources"`
	Settings    ZoneSettings `json:"settings"`
	IsActive    bool         `json:"isActive"`
}

// DataSources flags which providers a zone ingests from.
type DataSources struct {
	Tweet bool `json:"tweet"`
	Video bool `json:"video"`
	News  bool `json:"news"`
}

// Rule is a per-zone monitoring specification yielding a stream of items.
// (zone_id, name) is unique; ExternalRuleID is set iff the rule is mirrored
// to the push provider.
type Rule struct {
	ID                  string     `json:"id"`
	ZoneID              string     `json:"zoneId"`
	Name                string     `json:"name"`
	Kind                RuleKind   `json:"kind"`
	Query               string     `json:"query"`
	IntervalSeconds     int        `json:"intervalSeconds"`
	IsActive            bool       `json:"isActive"`
	ExternalRuleID      string     `json:"externalRuleId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	LastPolledAt        *time.Time `json:"lastPolledAt,omitempty"`
	TotalItemsCollected int64      `json:"totalItemsCollected"`
	LastItemCount       int        `json:"lastItemCount"`
}

// Provider returns the provider a rule targets. Keyword, hashtag, user and
// combined rules mirror to the push tweet provider unless the query carries
// the "video:" routing prefix; news-query rules always poll the news
// provider.
func (r Rule) Provider() Provider {
	if r.Kind == RuleKindNewsQuery {
		return ProviderNews
	}
	if strings.HasPrefix(r.Query, "video:") {
		return ProviderVideo
	}
	return ProviderTweet
}

// IsPush reports whether the rule's lifecycle mirrors to the push provider.
func (r Rule) IsPush() bool {
	return r.Provider() == ProviderTweet
}

// Author is the account that produced an item on a given provider.
// (provider, provider_user_id) is unique; handle is unique per provider and
// stored lowercased. Statistics are last-write-wins.
type Author struct {
	ID                  string    `json:"id"`
	Provider            Provider  `json:"provider"`
	ProviderUserID      string    `json:"providerUserId"`
	Handle              string    `json:"handle"`
	DisplayName         string    `json:"displayName"`
	Verified            bool      `json:"verified"`
	FollowerCount       int64     `json:"followerCount"`
	FollowingCount      int64     `json:"followingCount"`
	HeartCount          int64     `json:"heartCount"`
	PostCount           int64     `json:"postCount"`
	Location            string    `json:"location,omitempty"`
	Language            string    `json:"language,omitempty"`
	FirstSeenAt         time.Time `json:"firstSeenAt"`
	LastSeenAt          time.Time `json:"lastSeenAt"`
	LastUpdatedAt       time.Time `json:"lastUpdatedAt"`
	TotalItemsCollected int64     `json:"totalItemsCollected"`
}

// Item is a normalized unit of content. (provider, provider_item_id) is
// globally unique.
type Item struct {
	ID              string    `json:"id"`
	ZoneID          string    `json:"zoneId"`
	Provider        Provider  `json:"provider"`
	ProviderItemID  string    `json:"providerItemId"`
	AuthorID        string    `json:"authorId,omitempty"`
	Text            string    `json:"text"`
	Language        string    `json:"language,omitempty"`
	CreatedAtSource time.Time `json:"createdAtSource"`
	ReplyToItemID   string    `json:"replyToItemId,omitempty"`
	Counters        Counters  `json:"counters"`
	HasLinks        bool      `json:"hasLinks"`
	RawPayload      []byte    `json:"-"`
	Predictions     []byte    `json:"predictions,omitempty"`
}

// Entity is a hashtag or mention extracted from an item.
type Entity struct {
	ItemID          string     `json:"itemId"`
	ZoneID          string     `json:"zoneId"`
	Kind            EntityKind `json:"kind"`
	Value           string     `json:"value"`
	NormalizedValue string     `json:"normalizedValue"`
}

// EngagementSnapshot is a timestamped observation of an item's counters plus
// the delta since the previous snapshot. SnapshotAt strictly increases per
// item; the first snapshot has deltas equal to the counters and velocity 0.
type EngagementSnapshot struct {
	ItemID     string    `json:"itemId"`
	SnapshotAt time.Time `json:"snapshotAt"`
	Counters   Counters  `json:"counters"`
	Deltas     Counters  `json:"deltas"`
	Velocity   float64   `json:"velocity"`
}

// Tracking records the refresh state of a tracked item. Exactly one row per
// tracked item; tier=cold implies NextUpdateAt is nil.
type Tracking struct {
	ItemID        string     `json:"itemId"`
	Tier          Tier       `json:"tier"`
	NextUpdateAt  *time.Time `json:"nextUpdateAt,omitempty"`
	UpdateCount   int        `json:"updateCount"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
}

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobPending  JobState = "pending"
	JobInflight JobState = "inflight"
	JobDone     JobState = "done"
	JobFailed   JobState = "failed"
)

// Job is a durable, possibly delayed unit of deferred work.
type Job struct {
	ID             string     `json:"id"`
	Topic          string     `json:"topic"`
	Payload        []byte     `json:"payload"`
	RunAfter       time.Time  `json:"runAfter"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"maxAttempts"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	State          JobState   `json:"state"`
	LeaseUntil     *time.Time `json:"leaseUntil,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// CanonicalItem is the provider-independent output of an adapter parse. It
// carries no zone or database identity.
type CanonicalItem struct {
	Provider        Provider
	ProviderItemID  string
	Text            string
	Language        string
	CreatedAtSource time.Time
	ReplyToItemID   string
	Counters        Counters
	HasLinks        bool
	Hashtags        []string
	Mentions        []string
	RawPayload      []byte
}

// CanonicalAuthor is the provider-independent output of an author parse.
type CanonicalAuthor struct {
	Provider       Provider
	ProviderUserID string
	Handle         string
	DisplayName    string
	Verified       bool
	FollowerCount  int64
	FollowingCount int64
	HeartCount     int64
	PostCount      int64
	Location       string
	Language       string
}
