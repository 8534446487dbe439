package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorgonehq/gorgone/internal/models"
)

// AppendSnapshot appends an engagement observation for an item. Snapshots
// are append-only and strictly ordered: if the wall clock has not advanced
// past the previous snapshot, the new timestamp is bumped one millisecond
// beyond it.
func (s *Store) AppendSnapshot(ctx context.Context, itemID string, counters, deltas models.Counters, velocity float64) (time.Time, error) {
	now := toUnixMilli(time.Now())

	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(snapshot_at) FROM engagement_history WHERE item_id = ?`, itemID,
	).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last snapshot time: %w", err)
	}
	if last.Valid && now <= last.Int64 {
		now = last.Int64 + 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO engagement_history (
			item_id, snapshot_at,
			cnt_view, cnt_like, cnt_share, cnt_comment, cnt_quote, cnt_bookmark, cnt_collect,
			d_view, d_like, d_share, d_comment, d_quote, d_bookmark, d_collect,
			velocity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		itemID, now,
		counters.View, counters.Like, counters.Share, counters.Comment,
		counters.Quote, counters.Bookmark, counters.Collect,
		deltas.View, deltas.Like, deltas.Share, deltas.Comment,
		deltas.Quote, deltas.Bookmark, deltas.Collect,
		velocity,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to append snapshot: %w", err)
	}
	return fromUnixMilli(now), nil
}

// ListSnapshots returns all snapshots of an item ordered by time ascending.
func (s *Store) ListSnapshots(ctx context.Context, itemID string) ([]models.EngagementSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_at,
			cnt_view, cnt_like, cnt_share, cnt_comment, cnt_quote, cnt_bookmark, cnt_collect,
			d_view, d_like, d_share, d_comment, d_quote, d_bookmark, d_collect,
			velocity
		FROM engagement_history WHERE item_id = ?
		ORDER BY snapshot_at ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.EngagementSnapshot
	for rows.Next() {
		snap := models.EngagementSnapshot{ItemID: itemID}
		var at int64
		err := rows.Scan(&at,
			&snap.Counters.View, &snap.Counters.Like, &snap.Counters.Share, &snap.Counters.Comment,
			&snap.Counters.Quote, &snap.Counters.Bookmark, &snap.Counters.Collect,
			&snap.Deltas.View, &snap.Deltas.Like, &snap.Deltas.Share, &snap.Deltas.Comment,
			&snap.Deltas.Quote, &snap.Deltas.Bookmark, &snap.Deltas.Collect,
			&snap.Velocity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.SnapshotAt = fromUnixMilli(at)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the most recent snapshot of an item, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, itemID string) (*models.EngagementSnapshot, error) {
	snaps, err := s.listRecentSnapshots(ctx, itemID, 1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

// RecentSnapshots returns up to limit snapshots newest-first.
func (s *Store) RecentSnapshots(ctx context.Context, itemID string, limit int) ([]models.EngagementSnapshot, error) {
	return s.listRecentSnapshots(ctx, itemID, limit)
}

func (s *Store) listRecentSnapshots(ctx context.Context, itemID string, limit int) ([]models.EngagementSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_at,
			cnt_view, cnt_like, cnt_share, cnt_comment, cnt_quote, cnt_bookmark, cnt_collect,
			d_view, d_like, d_share, d_comment, d_quote, d_bookmark, d_collect,
			velocity
		FROM engagement_history WHERE item_id = ?
		ORDER BY snapshot_at DESC LIMIT ?`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.EngagementSnapshot
	for rows.Next() {
		snap := models.EngagementSnapshot{ItemID: itemID}
		var at int64
		err := rows.Scan(&at,
			&snap.Counters.View, &snap.Counters.Like, &snap.Counters.Share, &snap.Counters.Comment,
			&snap.Counters.Quote, &snap.Counters.Bookmark, &snap.Counters.Collect,
			&snap.Deltas.View, &snap.Deltas.Like, &snap.Deltas.Share, &snap.Deltas.Comment,
			&snap.Deltas.Quote, &snap.Deltas.Bookmark, &snap.Deltas.Collect,
			&snap.Velocity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.SnapshotAt = fromUnixMilli(at)
		out = append(out, snap)
	}
	return out, rows.Err()
}
