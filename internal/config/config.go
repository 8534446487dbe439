// Package config loads service configuration from the environment.
// Precedence: defaults, then an optional .env file, then GORGONE_* variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const envPrefix = "GORGONE_"

// Config holds the full runtime configuration of the service.
type Config struct {
	// Server
	ListenAddr string
	AppURL     string // public base URL the queue service calls back on

	// Storage
	DatabasePath string

	// Providers
	TweetAPIKey     string
	TweetAPIBaseURL string
	VideoAPIKey     string
	VideoAPIBaseURL string
	NewsAPIKey      string
	NewsAPIBaseURL  string

	// Webhook / queue
	WebhookSecret   string
	QueueToken      string
	QueueSigningKey string

	// Embeddings
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string

	// Rate limits, requests per second per provider
	TweetRateLimit float64
	VideoRateLimit float64
	NewsRateLimit  float64

	// Worker concurrency per topic
	RefreshWorkers   int
	PollWorkers      int
	VectorizeWorkers int

	// Handler deadlines
	WebhookTimeout  time.Duration
	PollTimeout     time.Duration
	SnapshotTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		ListenAddr:       ":7655",
		DatabasePath:     "/var/lib/gorgone/gorgone.db",
		TweetAPIBaseURL:  "https://api.tweetstream.dev",
		VideoAPIBaseURL:  "https://api.clipwatch.dev",
		NewsAPIBaseURL:   "https://api.newsriver.dev",
		EmbeddingModel:   "text-embedding-3-small",
		TweetRateLimit:   10,
		VideoRateLimit:   5,
		NewsRateLimit:    2,
		RefreshWorkers:   8,
		PollWorkers:      4,
		VectorizeWorkers: 2,
		WebhookTimeout:   30 * time.Second,
		PollTimeout:      120 * time.Second,
		SnapshotTimeout:  60 * time.Second,
		LogLevel:         "info",
		LogFormat:        "auto",
	}
}

// Load builds the configuration from defaults, an optional .env file and the
// environment, then validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment overrides from .env")
	}

	cfg := Defaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.AppURL, "APP_URL")
	setString(&c.DatabasePath, "DATABASE_PATH")

	setString(&c.TweetAPIKey, "TWEET_API_KEY")
	setString(&c.TweetAPIBaseURL, "TWEET_API_URL")
	setString(&c.VideoAPIKey, "VIDEO_API_KEY")
	setString(&c.VideoAPIBaseURL, "VIDEO_API_URL")
	setString(&c.NewsAPIKey, "NEWS_API_KEY")
	setString(&c.NewsAPIBaseURL, "NEWS_API_URL")

	setString(&c.WebhookSecret, "WEBHOOK_SECRET")
	setString(&c.QueueToken, "QUEUE_TOKEN")
	setString(&c.QueueSigningKey, "QUEUE_SIGNING_KEY")

	setString(&c.EmbeddingAPIKey, "EMBEDDING_API_KEY")
	setString(&c.EmbeddingBaseURL, "EMBEDDING_API_URL")
	setString(&c.EmbeddingModel, "EMBEDDING_MODEL")

	setFloat(&c.TweetRateLimit, "TWEET_RATE_LIMIT")
	setFloat(&c.VideoRateLimit, "VIDEO_RATE_LIMIT")
	setFloat(&c.NewsRateLimit, "NEWS_RATE_LIMIT")

	setInt(&c.RefreshWorkers, "REFRESH_WORKERS")
	setInt(&c.PollWorkers, "POLL_WORKERS")
	setInt(&c.VectorizeWorkers, "VECTORIZE_WORKERS")

	setDuration(&c.WebhookTimeout, "WEBHOOK_TIMEOUT")
	setDuration(&c.PollTimeout, "POLL_TIMEOUT")
	setDuration(&c.SnapshotTimeout, "SNAPSHOT_TIMEOUT")

	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
}

// Validate checks required keys and bounds.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"DATABASE_PATH":     c.DatabasePath,
		"TWEET_API_KEY":     c.TweetAPIKey,
		"VIDEO_API_KEY":     c.VideoAPIKey,
		"NEWS_API_KEY":      c.NewsAPIKey,
		"EMBEDDING_API_KEY": c.EmbeddingAPIKey,
		"WEBHOOK_SECRET":    c.WebhookSecret,
		"QUEUE_TOKEN":       c.QueueToken,
		"QUEUE_SIGNING_KEY": c.QueueSigningKey,
		"APP_URL":           c.AppURL,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, envPrefix+key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.TweetRateLimit <= 0 || c.VideoRateLimit <= 0 || c.NewsRateLimit <= 0 {
		return fmt.Errorf("provider rate limits must be positive")
	}
	if c.RefreshWorkers <= 0 || c.PollWorkers <= 0 || c.VectorizeWorkers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-integer environment value")
		return
	}
	*dst = parsed
}

func setFloat(dst *float64, key string) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-numeric environment value")
		return
	}
	*dst = parsed
}

func setDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring unparsable duration value")
		return
	}
	*dst = parsed
}
