package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gorgonehq/gorgone/internal/aggregates"
	"github.com/gorgonehq/gorgone/internal/api"
	"github.com/gorgonehq/gorgone/internal/config"
	"github.com/gorgonehq/gorgone/internal/embeddings"
	"github.com/gorgonehq/gorgone/internal/ingest"
	"github.com/gorgonehq/gorgone/internal/logging"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/providers/news"
	"github.com/gorgonehq/gorgone/internal/providers/tweets"
	"github.com/gorgonehq/gorgone/internal/providers/videos"
	"github.com/gorgonehq/gorgone/internal/rules"
	"github.com/gorgonehq/gorgone/internal/scheduler"
	"github.com/gorgonehq/gorgone/internal/store"
	"github.com/gorgonehq/gorgone/internal/tracker"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "gorgone",
	Short:   "Gorgone - social content ingestion and engagement tracking engine",
	Long:    `Gorgone ingests tweets, short videos and news articles through provider adapters, tracks their engagement across tiered refresh schedules, and serves per-zone read models.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Gorgone %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() error {
	// Baseline logger for early startup, reconfigured once config loads.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "gorgone"})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "gorgone"})

	log.Info().Str("version", Version).Msg("Starting Gorgone")

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	webhookURL := cfg.AppURL + "/webhook"
	tweetClient := tweets.NewClient(tweets.ClientConfig{
		BaseURL:    cfg.TweetAPIBaseURL,
		APIKey:     cfg.TweetAPIKey,
		WebhookURL: webhookURL,
		RPS:        cfg.TweetRateLimit,
	})
	videoClient := videos.NewClient(videos.ClientConfig{
		BaseURL: cfg.VideoAPIBaseURL,
		APIKey:  cfg.VideoAPIKey,
		RPS:     cfg.VideoRateLimit,
	})
	newsClient := news.NewClient(news.ClientConfig{
		BaseURL: cfg.NewsAPIBaseURL,
		APIKey:  cfg.NewsAPIKey,
		RPS:     cfg.NewsRateLimit,
	})

	registry := rules.New(s, tweetClient, webhookURL)
	dispatcher := scheduler.New(s, scheduler.Config{})

	engagement := tracker.New(s, map[models.Provider]tracker.CounterFetcher{
		models.ProviderTweet: tweetClient,
		models.ProviderVideo: videoClient,
	})
	embedder := embeddings.NewOpenAIEmbedder(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	vectorizer := embeddings.NewService(s, embedder, cfg.EmbeddingModel)

	orchestrator := ingest.New(ingest.Config{
		Store:      s,
		Registry:   registry,
		Queue:      dispatcher,
		PushSearch: tweetClient,
		Videos:     videoClient,
		News:       newsClient,
		Vectorizer: vectorizer,
		Refresher:  engagement,
	})
	orchestrator.RegisterHandlers(dispatcher, ingest.WorkerConfig{
		RefreshWorkers:   cfg.RefreshWorkers,
		PollWorkers:      cfg.PollWorkers,
		VectorizeWorkers: cfg.VectorizeWorkers,
		SnapshotTimeout:  cfg.SnapshotTimeout,
		PollTimeout:      cfg.PollTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.SeedPolling(ctx); err != nil {
		log.Error().Err(err).Msg("Poll seeding failed; pull rules resume on next enqueue")
	}
	if _, err := dispatcher.Enqueue(ctx, scheduler.TopicRefreshAggregates, struct{}{}, time.Minute, "refresh_aggregates"); err != nil {
		log.Error().Err(err).Msg("Aggregate sweep seeding failed")
	}

	handler := api.NewRouter(api.Deps{
		Config:       cfg,
		Store:        s,
		Orchestrator: orchestrator,
		Registry:     registry,
		Aggregates:   aggregates.New(s),
		Dispatcher:   dispatcher,
		Version:      Version,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	dispatcher.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
		}

		// Workers drain after the listener stops accepting new callbacks.
		dispatcher.Wait()
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Shutdown complete")
	return nil
}
