package tweets

import (
	"context"
	"fmt"
	"net/url"
	"time"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/providers/transport"
)

// MaxPageSize is the provider's hard cap on search page size.
const MaxPageSize = 100

// Client talks to the push tweet provider: rule mirroring, backfill search
// and single-item counter refresh.
type Client struct {
	http *transport.Client
}

// ClientConfig configures the push provider connection.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	WebhookURL string
	Timeout    time.Duration
	RPS        float64
}

// NewClient builds a push provider client.
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

type remoteRuleRequest struct {
	Query           string `json:"query"`
	IntervalSeconds int    `json:"interval_seconds"`
	WebhookURL      string `json:"webhook_url,omitempty"`
	Active          *bool  `json:"active,omitempty"`
}

type remoteRuleResponse struct {
	ID string `json:"id"`
}

// CreateRule registers a streaming rule with the provider and returns the
// provider-assigned rule id.
func (c *Client) CreateRule(ctx context.Context, query string, intervalSeconds int, webhookURL string) (string, error) {
	var resp remoteRuleResponse
	err := c.http.Post(ctx, "/rules", remoteRuleRequest{
		Query:           query,
		IntervalSeconds: intervalSeconds,
		WebhookURL:      webhookURL,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", gerrors.WrapParse("create_rule", ProviderTag, fmt.Errorf("provider returned no rule id"))
	}
	return resp.ID, nil
}

// UpdateRule pushes a query/interval change to the provider.
func (c *Client) UpdateRule(ctx context.Context, externalID, query string, intervalSeconds int) error {
	return c.http.Patch(ctx, "/rules/"+url.PathEscape(externalID), remoteRuleRequest{
		Query:           query,
		IntervalSeconds: intervalSeconds,
	}, nil)
}

// SetRuleActive toggles the remote rule's delivery.
func (c *Client) SetRuleActive(ctx context.Context, externalID string, active bool) error {
	return c.http.Patch(ctx, "/rules/"+url.PathEscape(externalID), remoteRuleRequest{Active: &active}, nil)
}

// DeleteRule removes the remote rule. A 404 means it is already gone, which
// callers treat as success.
func (c *Client) DeleteRule(ctx context.Context, externalID string) error {
	err := c.http.Delete(ctx, "/rules/"+url.PathEscape(externalID))
	if gerrors.IsNotFound(err) {
		return nil
	}
	return err
}

type searchRequest struct {
	Query    string `json:"query"`
	Cursor   string `json:"cursor,omitempty"`
	PageSize int    `json:"page_size"`
}

type searchResponse struct {
	Results    []RawTweet `json:"results"`
	NextCursor string     `json:"next_cursor"`
}

// Search runs one page of the backfill search. The page size is capped at
// the provider limit; an empty next cursor ends the walk.
func (c *Client) Search(ctx context.Context, query, cursor string, pageSize int) ([]RawTweet, string, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	var resp searchResponse
	err := c.http.Post(ctx, "/search", searchRequest{
		Query:    query,
		Cursor:   cursor,
		PageSize: pageSize,
	}, &resp)
	if err != nil {
		return nil, "", err
	}
	return resp.Results, resp.NextCursor, nil
}

// FetchCounters loads fresh engagement counters for one tweet. A provider
// 404 propagates as not-found so the tracker can retire the item.
func (c *Client) FetchCounters(ctx context.Context, providerItemID string) (models.Counters, error) {
	var raw RawTweet
	if err := c.http.Get(ctx, "/tweets/"+url.PathEscape(providerItemID), nil, &raw); err != nil {
		return models.Counters{}, err
	}
	if raw.PublicMetrics == nil {
		return models.Counters{}, gerrors.WrapParse("fetch_counters", ProviderTag,
			fmt.Errorf("tweet %s has no metrics block", providerItemID))
	}
	return models.Counters{
		View:     raw.PublicMetrics.ViewCount,
		Like:     raw.PublicMetrics.LikeCount,
		Share:    raw.PublicMetrics.RetweetCount,
		Comment:  raw.PublicMetrics.ReplyCount,
		Quote:    raw.PublicMetrics.QuoteCount,
		Bookmark: raw.PublicMetrics.BookmarkCount,
	}, nil
}
