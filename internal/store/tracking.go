package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorgonehq/gorgone/internal/models"
)

// UpsertTracking creates or replaces the single tracking row of an item.
func (s *Store) UpsertTracking(ctx context.Context, t models.Tracking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_tracking (item_id, tier, next_update_at, update_count, last_updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			tier = excluded.tier,
			next_update_at = excluded.next_update_at,
			update_count = excluded.update_count,
			last_updated_at = excluded.last_updated_at`,
		t.ItemID, string(t.Tier), nullableUnix(t.NextUpdateAt), t.UpdateCount, nullableUnix(t.LastUpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tracking for %s: %w", t.ItemID, err)
	}
	return nil
}

// GetTracking loads the tracking row of an item, or nil when untracked.
func (s *Store) GetTracking(ctx context.Context, itemID string) (*models.Tracking, error) {
	var t models.Tracking
	var tier string
	var next, last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT item_id, tier, next_update_at, update_count, last_updated_at
		FROM engagement_tracking WHERE item_id = ?`, itemID,
	).Scan(&t.ItemID, &tier, &next, &t.UpdateCount, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tracking: %w", err)
	}
	t.Tier = models.Tier(tier)
	t.NextUpdateAt = scanNullableUnix(next)
	t.LastUpdatedAt = scanNullableUnix(last)
	return &t, nil
}

// AdvanceTracking records a completed refresh: increments update_count,
// stamps last_updated_at and sets the new tier and next_update_at. It
// returns the post-increment update count, computed server-side so
// concurrent refreshes cannot observe the same value.
func (s *Store) AdvanceTracking(ctx context.Context, itemID string, tier models.Tier, nextUpdateAt *time.Time, updatedAt time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE engagement_tracking SET
			tier = ?,
			next_update_at = ?,
			update_count = update_count + 1,
			last_updated_at = ?
		WHERE item_id = ?
		RETURNING update_count`,
		string(tier), nullableUnix(nextUpdateAt), toUnix(updatedAt), itemID,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("tracking row for item %s: %w", itemID, sql.ErrNoRows)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to advance tracking for %s: %w", itemID, err)
	}
	return count, nil
}

// MarkCold demotes an item to the terminal cold tier without touching the
// update counter. Used when the provider reports the item gone.
func (s *Store) MarkCold(ctx context.Context, itemID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE engagement_tracking SET tier = ?, next_update_at = NULL, last_updated_at = ?
		WHERE item_id = ?`,
		string(models.TierCold), toUnix(at), itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s cold: %w", itemID, err)
	}
	return nil
}

// CountByTier returns the number of tracked items per tier.
func (s *Store) CountByTier(ctx context.Context) (map[models.Tier]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM engagement_tracking GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tiers: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Tier]int64)
	for rows.Next() {
		var tier string
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		out[models.Tier(tier)] = count
	}
	return out, rows.Err()
}
