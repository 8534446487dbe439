// Package store is the canonical write path for zones, rules, items,
// authors, entities, engagement history and the durable job queue, backed by
// SQLite for durability across restarts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store provides persistent storage for the ingestion core.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path with WAL mode enabled.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS zones (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			ds_tweet INTEGER NOT NULL DEFAULT 0,
			ds_video INTEGER NOT NULL DEFAULT 0,
			ds_news INTEGER NOT NULL DEFAULT 0,
			settings TEXT NOT NULL DEFAULT '{}',
			is_active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			zone_id TEXT NOT NULL REFERENCES zones(id),
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			query TEXT NOT NULL,
			interval_seconds INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			external_rule_id TEXT,
			created_at INTEGER NOT NULL,
			last_polled_at INTEGER,
			total_items_collected INTEGER NOT NULL DEFAULT 0,
			last_item_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE (zone_id, name)
		);
		CREATE INDEX IF NOT EXISTS idx_rules_external
		ON rules(external_rule_id) WHERE external_rule_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS authors (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_user_id TEXT NOT NULL,
			handle TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			verified INTEGER NOT NULL DEFAULT 0,
			follower_count INTEGER NOT NULL DEFAULT 0,
			following_count INTEGER NOT NULL DEFAULT 0,
			heart_count INTEGER NOT NULL DEFAULT 0,
			post_count INTEGER NOT NULL DEFAULT 0,
			location TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			first_seen_at INTEGER NOT NULL,
			last_seen_at INTEGER NOT NULL,
			last_updated_at INTEGER NOT NULL,
			total_items_collected INTEGER NOT NULL DEFAULT 0,
			UNIQUE (provider, provider_user_id),
			UNIQUE (provider, handle)
		);

		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			zone_id TEXT NOT NULL REFERENCES zones(id),
			provider TEXT NOT NULL,
			provider_item_id TEXT NOT NULL,
			author_id TEXT REFERENCES authors(id),
			text TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			created_at_source INTEGER NOT NULL,
			reply_to_item_id TEXT NOT NULL DEFAULT '',
			cnt_view INTEGER NOT NULL DEFAULT 0,
			cnt_like INTEGER NOT NULL DEFAULT 0,
			cnt_share INTEGER NOT NULL DEFAULT 0,
			cnt_comment INTEGER NOT NULL DEFAULT 0,
			cnt_quote INTEGER NOT NULL DEFAULT 0,
			cnt_bookmark INTEGER NOT NULL DEFAULT 0,
			cnt_collect INTEGER NOT NULL DEFAULT 0,
			has_links INTEGER NOT NULL DEFAULT 0,
			raw_payload BLOB,
			predictions TEXT,
			content_hash TEXT,
			vector TEXT,
			vectorized_at INTEGER,
			ingested_at INTEGER NOT NULL,
			UNIQUE (provider, provider_item_id)
		);
		CREATE INDEX IF NOT EXISTS idx_items_zone ON items(zone_id, ingested_at);
		CREATE INDEX IF NOT EXISTS idx_items_author ON items(author_id);

		CREATE TABLE IF NOT EXISTS entities (
			item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			zone_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			normalized_value TEXT NOT NULL,
			UNIQUE (item_id, kind, normalized_value)
		);
		CREATE INDEX IF NOT EXISTS idx_entities_zone
		ON entities(zone_id, kind, normalized_value);

		CREATE TABLE IF NOT EXISTS engagement_history (
			item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			snapshot_at INTEGER NOT NULL,
			cnt_view INTEGER NOT NULL DEFAULT 0,
			cnt_like INTEGER NOT NULL DEFAULT 0,
			cnt_share INTEGER NOT NULL DEFAULT 0,
			cnt_comment INTEGER NOT NULL DEFAULT 0,
			cnt_quote INTEGER NOT NULL DEFAULT 0,
			cnt_bookmark INTEGER NOT NULL DEFAULT 0,
			cnt_collect INTEGER NOT NULL DEFAULT 0,
			d_view INTEGER NOT NULL DEFAULT 0,
			d_like INTEGER NOT NULL DEFAULT 0,
			d_share INTEGER NOT NULL DEFAULT 0,
			d_comment INTEGER NOT NULL DEFAULT 0,
			d_quote INTEGER NOT NULL DEFAULT 0,
			d_bookmark INTEGER NOT NULL DEFAULT 0,
			d_collect INTEGER NOT NULL DEFAULT 0,
			velocity REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (item_id, snapshot_at)
		);

		CREATE TABLE IF NOT EXISTS engagement_tracking (
			item_id TEXT PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
			tier TEXT NOT NULL,
			next_update_at INTEGER,
			update_count INTEGER NOT NULL DEFAULT 0,
			last_updated_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_tracking_due
		ON engagement_tracking(next_update_at) WHERE next_update_at IS NOT NULL;

		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			payload BLOB,
			run_after INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 5,
			idempotency_key TEXT,
			state TEXT NOT NULL DEFAULT 'pending',
			lease_until INTEGER,
			created_at INTEGER NOT NULL
		);
		DROP INDEX IF EXISTS idx_jobs_idem;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_pending_idem
		ON jobs(topic, idempotency_key)
		WHERE idempotency_key IS NOT NULL AND state = 'pending';
		CREATE INDEX IF NOT EXISTS idx_jobs_lease
		ON jobs(topic, state, run_after);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			vector TEXT NOT NULL,
			model_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agg_top_authors (
			zone_id TEXT NOT NULL,
			period TEXT NOT NULL,
			rank INTEGER NOT NULL,
			author_id TEXT NOT NULL,
			item_count INTEGER NOT NULL,
			engagement INTEGER NOT NULL,
			refreshed_at INTEGER NOT NULL,
			PRIMARY KEY (zone_id, period, rank)
		);

		CREATE TABLE IF NOT EXISTS agg_zone_overview (
			zone_id TEXT NOT NULL,
			period TEXT NOT NULL,
			item_count INTEGER NOT NULL,
			author_count INTEGER NOT NULL,
			total_engagement INTEGER NOT NULL,
			refreshed_at INTEGER NOT NULL,
			PRIMARY KEY (zone_id, period)
		);

		CREATE TABLE IF NOT EXISTS agg_zone_locations (
			zone_id TEXT NOT NULL,
			location TEXT NOT NULL,
			author_count INTEGER NOT NULL,
			refreshed_at INTEGER NOT NULL,
			PRIMARY KEY (zone_id, location)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Debug().Msg("Schema initialized")
	return nil
}

// Close shuts down the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique-constraint error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toUnix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func toUnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

func fromUnixMilli(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func scanNullableUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}
