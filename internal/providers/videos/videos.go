// Package videos adapts the short-video pull provider.
package videos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/providers/transport"
)

// ProviderTag is the uniqueness namespace for video records.
const ProviderTag = "video"

// MaxPageSize is the provider's search page cap.
const MaxPageSize = 100

// RawVideo is the provider's wire representation of one video.
type RawVideo struct {
	ID          string     `json:"id"`
	Description string     `json:"desc"`
	Lang        string     `json:"lang"`
	CreateTime  int64      `json:"create_time"`
	Author      *RawAuthor `json:"author"`
	Stats       *RawStats  `json:"stats"`
	Hashtags    []string   `json:"hashtags"`
}

// RawAuthor is the provider's author block.
type RawAuthor struct {
	ID             string `json:"id"`
	UniqueID       string `json:"unique_id"`
	Nickname       string `json:"nickname"`
	Verified       bool   `json:"verified"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	HeartCount     int64  `json:"heart_count"`
	VideoCount     int64  `json:"video_count"`
	Region         string `json:"region"`
}

// RawStats is the provider's counter block.
type RawStats struct {
	PlayCount    int64 `json:"play_count"`
	DiggCount    int64 `json:"digg_count"`
	ShareCount   int64 `json:"share_count"`
	CommentCount int64 `json:"comment_count"`
	CollectCount int64 `json:"collect_count"`
}

// ParseItem maps a raw video to the canonical item.
func ParseItem(raw RawVideo) (models.CanonicalItem, error) {
	if raw.ID == "" {
		return models.CanonicalItem{}, gerrors.WrapParse("parse_item", ProviderTag,
			fmt.Errorf("video has no id"))
	}
	if raw.CreateTime <= 0 {
		return models.CanonicalItem{}, gerrors.WrapParse("parse_item", ProviderTag,
			fmt.Errorf("video %s has no create_time", raw.ID))
	}

	item := models.CanonicalItem{
		Provider:        models.ProviderVideo,
		ProviderItemID:  raw.ID,
		Text:            raw.Description,
		Language:        raw.Lang,
		CreatedAtSource: time.Unix(raw.CreateTime, 0).UTC(),
		Hashtags:        raw.Hashtags,
	}
	if raw.Stats != nil {
		item.Counters = models.Counters{
			View:    raw.Stats.PlayCount,
			Like:    raw.Stats.DiggCount,
			Share:   raw.Stats.ShareCount,
			Comment: raw.Stats.CommentCount,
			Collect: raw.Stats.CollectCount,
		}
	}
	if payload, err := json.Marshal(raw); err == nil {
		item.RawPayload = payload
	}
	return item, nil
}

// ParseAuthor maps the embedded author block, or reports false when absent.
func ParseAuthor(raw RawVideo) (models.CanonicalAuthor, bool) {
	a := raw.Author
	if a == nil || a.ID == "" {
		return models.CanonicalAuthor{}, false
	}
	return models.CanonicalAuthor{
		Provider:       models.ProviderVideo,
		ProviderUserID: a.ID,
		Handle:         strings.ToLower(a.UniqueID),
		DisplayName:    a.Nickname,
		Verified:       a.Verified,
		FollowerCount:  a.FollowerCount,
		FollowingCount: a.FollowingCount,
		HeartCount:     a.HeartCount,
		PostCount:      a.VideoCount,
		Location:       a.Region,
	}, true
}

// Client talks to the video provider's pull API.
type Client struct {
	http *transport.Client
}

// ClientConfig configures the video provider connection.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
}

// NewClient builds a video provider client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		http: transport.New(transport.Config{
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Provider: ProviderTag,
			Timeout:  cfg.Timeout,
			RPS:      cfg.RPS,
		}),
	}
}

type searchResponse struct {
	Videos     []RawVideo `json:"videos"`
	NextCursor string     `json:"next_cursor"`
}

// UserVideos lists the recent videos of one account.
func (c *Client) UserVideos(ctx context.Context, handle, cursor string, pageSize int) ([]RawVideo, string, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	query.Set("count", fmt.Sprint(clampPage(pageSize)))

	var resp searchResponse
	err := c.http.Get(ctx, "/user/"+url.PathEscape(strings.ToLower(handle)), query, &resp)
	if err != nil {
		return nil, "", err
	}
	return resp.Videos, resp.NextCursor, nil
}

// Search runs a keyword or hashtag search. Hashtag queries arrive with the
// leading '#' already stripped by the rule registry.
func (c *Client) Search(ctx context.Context, kind models.RuleKind, queryText, cursor string, pageSize int) ([]RawVideo, string, error) {
	if kind == models.RuleKindUser {
		return c.UserVideos(ctx, queryText, cursor, pageSize)
	}

	query := url.Values{}
	query.Set("q", queryText)
	query.Set("count", fmt.Sprint(clampPage(pageSize)))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := "/search"
	if kind == models.RuleKindHashtag {
		path = "/hashtag"
	}

	var resp searchResponse
	if err := c.http.Get(ctx, path, query, &resp); err != nil {
		return nil, "", err
	}
	return resp.Videos, resp.NextCursor, nil
}

// FetchCounters loads fresh counters for one video. A provider 404
// propagates as not-found so the tracker can retire the item.
func (c *Client) FetchCounters(ctx context.Context, providerItemID string) (models.Counters, error) {
	var raw RawVideo
	if err := c.http.Get(ctx, "/video/"+url.PathEscape(providerItemID), nil, &raw); err != nil {
		return models.Counters{}, err
	}
	if raw.Stats == nil {
		return models.Counters{}, gerrors.WrapParse("fetch_counters", ProviderTag,
			fmt.Errorf("video %s has no stats block", providerItemID))
	}
	return models.Counters{
		View:    raw.Stats.PlayCount,
		Like:    raw.Stats.DiggCount,
		Share:   raw.Stats.ShareCount,
		Comment: raw.Stats.CommentCount,
		Collect: raw.Stats.CollectCount,
	}, nil
}

func clampPage(n int) int {
	if n <= 0 || n > MaxPageSize {
		return MaxPageSize
	}
	return n
}
