// Package news adapts the news pull provider, a query-object POST API.
// Articles have no live counters; news items never enter the engagement
// refresh path.
package news

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/providers/transport"
)

// ProviderTag is the uniqueness namespace for news records.
const ProviderTag = "news"

// MaxPageSize is the provider's per-fetch article ceiling.
const MaxPageSize = 100

// RawArticle is the provider's wire representation of one article.
type RawArticle struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Lang        string `json:"lang"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
}

// ParseItem maps a raw article to the canonical item. Articles without a
// provider id are keyed by a hash of their URL.
func ParseItem(raw RawArticle) (models.CanonicalItem, error) {
	id := raw.ID
	if id == "" {
		if raw.URL == "" {
			return models.CanonicalItem{}, gerrors.WrapParse("parse_item", ProviderTag,
				fmt.Errorf("article has neither id nor url"))
		}
		sum := sha256.Sum256([]byte(raw.URL))
		id = hex.EncodeToString(sum[:16])
	}

	publishedAt, err := time.Parse(time.RFC3339, raw.PublishedAt)
	if err != nil {
		return models.CanonicalItem{}, gerrors.WrapParse("parse_item", ProviderTag,
			fmt.Errorf("article %s: unparseable published_at %q", id, raw.PublishedAt))
	}

	text := raw.Title
	if raw.Summary != "" {
		text += "\n\n" + raw.Summary
	}
	item := models.CanonicalItem{
		Provider:        models.ProviderNews,
		ProviderItemID:  id,
		Text:            text,
		Language:        raw.Lang,
		CreatedAtSource: publishedAt.UTC(),
		HasLinks:        raw.URL != "",
	}
	if payload, err := json.Marshal(raw); err == nil {
		item.RawPayload = payload
	}
	return item, nil
}

// Query is the provider's search query object. The rule registry stores it
// serialized as the rule's query spec.
type Query struct {
	Text      string   `json:"text"`
	Languages []string `json:"languages,omitempty"`
	Sources   []string `json:"sources,omitempty"`
}

// ParseQuery decodes a stored news query spec.
func ParseQuery(spec string) (Query, error) {
	var q Query
	if err := json.Unmarshal([]byte(spec), &q); err != nil {
		return Query{}, gerrors.WrapParse("parse_query", ProviderTag,
			fmt.Errorf("invalid query spec: %w", err))
	}
	if q.Text == "" {
		return Query{}, gerrors.WrapParse("parse_query", ProviderTag,
			fmt.Errorf("query spec has no text"))
	}
	return q, nil
}

// Client talks to the news provider.
type Client struct {
	http *transport.Client
}

// ClientConfig configures the news provider connection.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
}

// NewClient builds a news provider client.
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

type searchRequest struct {
	Query    Query  `json:"query"`
	Cursor   string `json:"cursor,omitempty"`
	PageSize int    `json:"page_size"`
}

type searchResponse struct {
	Articles   []RawArticle `json:"articles"`
	NextCursor string       `json:"next_cursor"`
}

// Search runs one page of an article search.
func (c *Client) Search(ctx context.Context, q Query, cursor string, pageSize int) ([]RawArticle, string, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	var resp searchResponse
	err := c.http.Post(ctx, "/search", searchRequest{Query: q, Cursor: cursor, PageSize: pageSize}, &resp)
	if err != nil {
		return nil, "", err
	}
	return resp.Articles, resp.NextCursor, nil
}
