// Package transport is the rate-limited JSON HTTP client shared by the
// provider adapters. Every outbound call waits on a token-bucket limiter so
// a burst of refresh jobs cannot exhaust a provider quota.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
)

// Config holds the connection settings of one provider endpoint.
type Config struct {
	BaseURL  string
	APIKey   string
	Provider string // provider name used in error context and logs
	Timeout  time.Duration
	RPS      float64
	Burst    int
}

// Client wraps http.Client with auth, rate limiting and error mapping.
type Client struct {
	baseURL    string
	apiKey     string
	provider   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New builds a client for one provider endpoint.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		provider:   cfg.Provider,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Patch issues a PATCH with a JSON body and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete issues a DELETE. A 404 from the remote is surfaced as not-found so
// callers can treat it as already gone.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := strings.ToLower(method) + " " + path

	if err := c.limiter.Wait(ctx); err != nil {
		return gerrors.New(gerrors.ErrorTypeTimeout, op, c.provider, err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return gerrors.New(gerrors.ErrorTypeInternal, op, c.provider, fmt.Errorf("failed to encode request body: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return gerrors.New(gerrors.ErrorTypeInternal, op, c.provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gerrors.New(gerrors.ErrorTypeTimeout, op, c.provider, err)
		}
		return gerrors.WrapConnection(op, c.provider, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("provider", c.provider).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Provider request")

	if resp.StatusCode >= 400 {
		// Bounded read keeps a hostile error body from ballooning memory.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.mapStatus(op, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gerrors.WrapParse(op, c.provider, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) mapStatus(op string, status int, detail string) error {
	err := fmt.Errorf("status %d: %s", status, detail)
	switch {
	case status == http.StatusNotFound:
		return gerrors.WrapNotFound(op, c.provider, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gerrors.New(gerrors.ErrorTypeAuth, op, c.provider, err)
	case status == http.StatusTooManyRequests:
		return gerrors.New(gerrors.ErrorTypeRateLimit, op, c.provider, err)
	default:
		return gerrors.WrapAPI(op, c.provider, err, status)
	}
}
