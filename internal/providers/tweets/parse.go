package tweets

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
)

// RawTweet is the provider's wire representation of a tweet.
type RawTweet struct {
	ID            string      `json:"id"`
	Text          string      `json:"text"`
	Lang          string      `json:"lang"`
	CreatedAt     string      `json:"created_at"`
	InReplyToID   string      `json:"in_reply_to_id"`
	RuleID        string      `json:"rule_id"`
	Author        *RawAuthor  `json:"author"`
	Entities      *RawEntity  `json:"entities"`
	PublicMetrics *RawMetrics `json:"public_metrics"`
}

// RawAuthor is the provider's wire representation of a tweet author.
type RawAuthor struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	Verified       bool   `json:"verified"`
	FollowersCount int64  `json:"followers_count"`
	FollowingCount int64  `json:"following_count"`
	HeartCount     int64  `json:"heart_count"`
	TweetCount     int64  `json:"tweet_count"`
	Location       string `json:"location"`
	Lang           string `json:"lang"`
}

// RawEntity carries the provider's pre-extracted entities.
type RawEntity struct {
	Hashtags []struct {
		Tag string `json:"tag"`
	} `json:"hashtags"`
	Mentions []struct {
		Username string `json:"username"`
	} `json:"mentions"`
	URLs []struct {
		ExpandedURL string `json:"expanded_url"`
	} `json:"urls"`
}

// RawMetrics is the provider's engagement counter block.
type RawMetrics struct {
	ViewCount     int64 `json:"view_count"`
	LikeCount     int64 `json:"like_count"`
	RetweetCount  int64 `json:"retweet_count"`
	ReplyCount    int64 `json:"reply_count"`
	QuoteCount    int64 `json:"quote_count"`
	BookmarkCount int64 `json:"bookmark_count"`
}

var (
	hashtagPattern = regexp.MustCompile(`#(\p{L}[\p{L}\p{N}_]*)`)
	mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]{1,30})`)
	linkPattern    = regexp.MustCompile(`https?://\S+`)
)

// ParseItem maps a raw tweet to the canonical item. Parsing is pure and
// deterministic; it never touches the database.
func ParseItem(raw RawTweet) (models.CanonicalItem, error) {
	if raw.ID == "" {
		return models.CanonicalItem{}, gerrors.WrapParse("parse_item", ProviderTag,
			fmt.Errorf("tweet has no id"))
	}

	createdAt, err := parseTime(raw.CreatedAt)
	if err != nil {
		return models.CanonicalItem{}, gerrors.WrapParse("parse_item", ProviderTag,
			fmt.Errorf("tweet %s: %w", raw.ID, err))
	}

	item := models.CanonicalItem{
		Provider:        models.ProviderTweet,
		ProviderItemID:  raw.ID,
		Text:            raw.Text,
		Language:        raw.Lang,
		CreatedAtSource: createdAt,
		ReplyToItemID:   raw.InReplyToID,
		HasLinks:        linkPattern.MatchString(raw.Text),
	}

	if raw.PublicMetrics != nil {
		item.Counters = models.Counters{
			View:     raw.PublicMetrics.ViewCount,
			Like:     raw.PublicMetrics.LikeCount,
			Share:    raw.PublicMetrics.RetweetCount,
			Comment:  raw.PublicMetrics.ReplyCount,
			Quote:    raw.PublicMetrics.QuoteCount,
			Bookmark: raw.PublicMetrics.BookmarkCount,
		}
	}

	if raw.Entities != nil {
		for _, h := range raw.Entities.Hashtags {
			item.Hashtags = append(item.Hashtags, h.Tag)
		}
		for _, m := range raw.Entities.Mentions {
			item.Mentions = append(item.Mentions, m.Username)
		}
		if len(raw.Entities.URLs) > 0 {
			item.HasLinks = true
		}
	}
	// Fall back to scanning the text when the provider sent no entity block.
	if raw.Entities == nil {
		item.Hashtags = extractHashtags(raw.Text)
		item.Mentions = extractMentions(raw.Text)
	}

	if payload, err := json.Marshal(raw); err == nil {
		item.RawPayload = payload
	}
	return item, nil
}

// ParseAuthor maps the embedded author block, or reports false when the
// delivery carried none.
func ParseAuthor(raw RawTweet) (models.CanonicalAuthor, bool) {
	a := raw.Author
	if a == nil || a.ID == "" {
		return models.CanonicalAuthor{}, false
	}
	return models.CanonicalAuthor{
		Provider:       models.ProviderTweet,
		ProviderUserID: a.ID,
		Handle:         strings.ToLower(a.Username),
		DisplayName:    a.Name,
		Verified:       a.Verified,
		FollowerCount:  a.FollowersCount,
		FollowingCount: a.FollowingCount,
		HeartCount:     a.HeartCount,
		PostCount:      a.TweetCount,
		Location:       a.Location,
		Language:       a.Lang,
	}, true
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("missing created_at")
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, time.RubyDate} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable created_at %q", value)
}

func extractHashtags(text string) []string {
	var out []string
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

func extractMentions(text string) []string {
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
