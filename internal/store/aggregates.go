package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AggPeriods are the trailing windows the aggregate tables are computed over.
var AggPeriods = []string{"3h", "6h", "12h", "24h", "7d", "30d"}

func periodStart(period string, now time.Time) time.Time {
	switch period {
	case "3h":
		return now.Add(-3 * time.Hour)
	case "6h":
		return now.Add(-6 * time.Hour)
	case "12h":
		return now.Add(-12 * time.Hour)
	case "24h":
		return now.Add(-24 * time.Hour)
	case "7d":
		return now.Add(-7 * 24 * time.Hour)
	case "30d":
		return now.Add(-30 * 24 * time.Hour)
	default:
		return now.Add(-24 * time.Hour)
	}
}

// TopAuthor is one row of the per-zone author leaderboard.
type TopAuthor struct {
	Rank       int    `json:"rank"`
	AuthorID   string `json:"authorId"`
	Handle     string `json:"handle"`
	ItemCount  int64  `json:"itemCount"`
	Engagement int64  `json:"engagement"`
}

// ZoneOverview is the per-zone headline numbers for one period.
type ZoneOverview struct {
	ZoneID          string    `json:"zoneId"`
	Period          string    `json:"period"`
	ItemCount       int64     `json:"itemCount"`
	AuthorCount     int64     `json:"authorCount"`
	TotalEngagement int64     `json:"totalEngagement"`
	RefreshedAt     time.Time `json:"refreshedAt"`
}

// ZoneLocation counts distinct authors per self-reported location.
type ZoneLocation struct {
	Location    string `json:"location"`
	AuthorCount int64  `json:"authorCount"`
}

// RefreshZoneAggregates recomputes every aggregate table for a zone from the
// item and author tables. Each table is rebuilt in a single transaction so
// readers never see a half-refreshed window.
func (s *Store) RefreshZoneAggregates(ctx context.Context, zoneID string, topN int, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin aggregate refresh: %w", err)
	}
	defer tx.Rollback()

	refreshedAt := toUnix(now)

	if _, err := tx.ExecContext(ctx, `DELETE FROM agg_top_authors WHERE zone_id = ?`, zoneID); err != nil {
		return fmt.Errorf("failed to clear top authors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agg_zone_overview WHERE zone_id = ?`, zoneID); err != nil {
		return fmt.Errorf("failed to clear zone overview: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agg_zone_locations WHERE zone_id = ?`, zoneID); err != nil {
		return fmt.Errorf("failed to clear zone locations: %w", err)
	}

	for _, period := range AggPeriods {
		since := toUnix(periodStart(period, now))

		_, err := tx.ExecContext(ctx, `
			INSERT INTO agg_top_authors (zone_id, period, rank, author_id, item_count, engagement, refreshed_at)
			SELECT ?, ?, ROW_NUMBER() OVER (ORDER BY engagement DESC, item_count DESC, author_id),
				author_id, item_count, engagement, ?
			FROM (
				SELECT author_id,
					COUNT(*) AS item_count,
					SUM(cnt_view + cnt_like + cnt_share + cnt_comment + cnt_quote + cnt_bookmark + cnt_collect) AS engagement
				FROM items
				WHERE zone_id = ? AND ingested_at >= ? AND author_id IS NOT NULL
				GROUP BY author_id
				ORDER BY engagement DESC, item_count DESC, author_id
				LIMIT ?
			)`,
			zoneID, period, refreshedAt, zoneID, since, topN,
		)
		if err != nil {
			return fmt.Errorf("failed to refresh top authors (%s): %w", period, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO agg_zone_overview (zone_id, period, item_count, author_count, total_engagement, refreshed_at)
			SELECT ?, ?, COUNT(*), COUNT(DISTINCT author_id),
				COALESCE(SUM(cnt_view + cnt_like + cnt_share + cnt_comment + cnt_quote + cnt_bookmark + cnt_collect), 0), ?
			FROM items
			WHERE zone_id = ? AND ingested_at >= ?`,
			zoneID, period, refreshedAt, zoneID, since,
		)
		if err != nil {
			return fmt.Errorf("failed to refresh zone overview (%s): %w", period, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agg_zone_locations (zone_id, location, author_count, refreshed_at)
		SELECT ?, a.location, COUNT(DISTINCT a.id), ?
		FROM authors a
		JOIN items i ON i.author_id = a.id
		WHERE i.zone_id = ? AND a.location != ''
		GROUP BY a.location`,
		zoneID, refreshedAt, zoneID,
	)
	if err != nil {
		return fmt.Errorf("failed to refresh zone locations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit aggregate refresh: %w", err)
	}
	return nil
}

// TopAuthors reads the precomputed leaderboard for a zone and period.
func (s *Store) TopAuthors(ctx context.Context, zoneID, period string, limit int) ([]TopAuthor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.rank, t.author_id, COALESCE(a.handle, ''), t.item_count, t.engagement
		FROM agg_top_authors t
		LEFT JOIN authors a ON a.id = t.author_id
		WHERE t.zone_id = ? AND t.period = ?
		ORDER BY t.rank LIMIT ?`, zoneID, period, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top authors: %w", err)
	}
	defer rows.Close()

	var out []TopAuthor
	for rows.Next() {
		var a TopAuthor
		if err := rows.Scan(&a.Rank, &a.AuthorID, &a.Handle, &a.ItemCount, &a.Engagement); err != nil {
			return nil, fmt.Errorf("failed to scan top author: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetZoneOverview reads the precomputed overview for a zone and period, or
// nil when the aggregate has never been refreshed.
func (s *Store) GetZoneOverview(ctx context.Context, zoneID, period string) (*ZoneOverview, error) {
	var o ZoneOverview
	var refreshedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT zone_id, period, item_count, author_count, total_engagement, refreshed_at
		FROM agg_zone_overview WHERE zone_id = ? AND period = ?`, zoneID, period,
	).Scan(&o.ZoneID, &o.Period, &o.ItemCount, &o.AuthorCount, &o.TotalEngagement, &refreshedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load zone overview: %w", err)
	}
	o.RefreshedAt = fromUnix(refreshedAt)
	return &o, nil
}

// ZoneLocations reads the precomputed location distribution of a zone.
func (s *Store) ZoneLocations(ctx context.Context, zoneID string, limit int) ([]ZoneLocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT location, author_count FROM agg_zone_locations
		WHERE zone_id = ?
		ORDER BY author_count DESC, location LIMIT ?`, zoneID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query zone locations: %w", err)
	}
	defer rows.Close()

	var out []ZoneLocation
	for rows.Next() {
		var l ZoneLocation
		if err := rows.Scan(&l.Location, &l.AuthorCount); err != nil {
			return nil, fmt.Errorf("failed to scan zone location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListActiveZoneIDs returns the ids of active zones, for refresh sweeps.
func (s *Store) ListActiveZoneIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM zones WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan zone id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
