package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gorgonehq/gorgone/internal/models"
)

// UpsertAuthor inserts or updates an author matched by
// (provider, provider_user_id). Statistics are last-write-wins and
// total_items_collected is bumped atomically by itemIncrement. On a
// concurrent-insert unique violation the upsert retries once.
func (s *Store) UpsertAuthor(ctx context.Context, a models.CanonicalAuthor, itemIncrement int) (string, error) {
	id, err := s.upsertAuthorOnce(ctx, a, itemIncrement)
	if err != nil && isUniqueViolation(err) {
		id, err = s.upsertAuthorOnce(ctx, a, itemIncrement)
	}
	return id, err
}

func (s *Store) upsertAuthorOnce(ctx context.Context, a models.CanonicalAuthor, itemIncrement int) (string, error) {
	now := toUnix(time.Now())
	handle := strings.ToLower(strings.TrimSpace(a.Handle))

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM authors WHERE provider = ? AND provider_user_id = ?`,
		string(a.Provider), a.ProviderUserID,
	).Scan(&id)

	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
			UPDATE authors SET
				handle = ?, display_name = ?, verified = ?,
				follower_count = ?, following_count = ?, heart_count = ?, post_count = ?,
				location = ?, language = ?,
				last_seen_at = ?, last_updated_at = MAX(last_updated_at, ?),
				total_items_collected = total_items_collected + ?
			WHERE id = ?`,
			handle, a.DisplayName, boolToInt(a.Verified),
			a.FollowerCount, a.FollowingCount, a.HeartCount, a.PostCount,
			a.Location, a.Language,
			now, now, itemIncrement, id,
		)
		if err != nil {
			return "", fmt.Errorf("failed to update author %s: %w", id, err)
		}
		return id, nil

	case err == sql.ErrNoRows:
		id = uuid.NewString()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO authors (
				id, provider, provider_user_id, handle, display_name, verified,
				follower_count, following_count, heart_count, post_count,
				location, language,
				first_seen_at, last_seen_at, last_updated_at, total_items_collected
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(a.Provider), a.ProviderUserID, handle, a.DisplayName, boolToInt(a.Verified),
			a.FollowerCount, a.FollowingCount, a.HeartCount, a.PostCount,
			a.Location, a.Language,
			now, now, now, itemIncrement,
		)
		if err != nil {
			return "", err
		}
		return id, nil

	default:
		return "", fmt.Errorf("failed to look up author: %w", err)
	}
}

// GetAuthor loads an author by internal id.
func (s *Store) GetAuthor(ctx context.Context, id string) (*models.Author, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, provider_user_id, handle, display_name, verified,
			follower_count, following_count, heart_count, post_count,
			location, language,
			first_seen_at, last_seen_at, last_updated_at, total_items_collected
		FROM authors WHERE id = ?`, id)
	return scanAuthor(row)
}

// GetAuthorByHandle loads an author by provider and lowercased handle.
func (s *Store) GetAuthorByHandle(ctx context.Context, provider models.Provider, handle string) (*models.Author, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, provider_user_id, handle, display_name, verified,
			follower_count, following_count, heart_count, post_count,
			location, language,
			first_seen_at, last_seen_at, last_updated_at, total_items_collected
		FROM authors WHERE provider = ? AND handle = ?`,
		string(provider), strings.ToLower(strings.TrimSpace(handle)))
	return scanAuthor(row)
}

func scanAuthor(row *sql.Row) (*models.Author, error) {
	var a models.Author
	var provider string
	var verified int
	var firstSeen, lastSeen, lastUpdated int64
	err := row.Scan(
		&a.ID, &provider, &a.ProviderUserID, &a.Handle, &a.DisplayName, &verified,
		&a.FollowerCount, &a.FollowingCount, &a.HeartCount, &a.PostCount,
		&a.Location, &a.Language,
		&firstSeen, &lastSeen, &lastUpdated, &a.TotalItemsCollected,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan author: %w", err)
	}
	a.Provider = models.Provider(provider)
	a.Verified = verified != 0
	a.FirstSeenAt = fromUnix(firstSeen)
	a.LastSeenAt = fromUnix(lastSeen)
	a.LastUpdatedAt = fromUnix(lastUpdated)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
