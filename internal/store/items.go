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

// InsertResult reports the outcome of an insert-if-absent.
type InsertResult struct {
	ID       string
	Inserted bool
}

// InsertItemIfAbsent inserts an item and its entities in a single
// transaction, keyed by the globally unique (provider, provider_item_id).
// A pre-existing item is a normal duplicate, not an error: the existing id
// is returned with Inserted=false.
func (s *Store) InsertItemIfAbsent(ctx context.Context, zoneID string, item models.CanonicalItem, authorID string) (InsertResult, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM items WHERE provider = ? AND provider_item_id = ?`,
		string(item.Provider), item.ProviderItemID,
	).Scan(&existing)
	if err == nil {
		return InsertResult{ID: existing, Inserted: false}, nil
	}
	if err != sql.ErrNoRows {
		return InsertResult{}, fmt.Errorf("failed to look up item: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	var author any
	if authorID != "" {
		author = authorID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (
			id, zone_id, provider, provider_item_id, author_id, text, language,
			created_at_source, reply_to_item_id,
			cnt_view, cnt_like, cnt_share, cnt_comment, cnt_quote, cnt_bookmark, cnt_collect,
			has_links, raw_payload, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, zoneID, string(item.Provider), item.ProviderItemID, author, item.Text, item.Language,
		toUnix(item.CreatedAtSource), item.ReplyToItemID,
		item.Counters.View, item.Counters.Like, item.Counters.Share, item.Counters.Comment,
		item.Counters.Quote, item.Counters.Bookmark, item.Counters.Collect,
		boolToInt(item.HasLinks), item.RawPayload, toUnix(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race; the concurrent writer's row wins.
			tx.Rollback()
			selectErr := s.db.QueryRowContext(ctx,
				`SELECT id FROM items WHERE provider = ? AND provider_item_id = ?`,
				string(item.Provider), item.ProviderItemID,
			).Scan(&existing)
			if selectErr != nil {
				return InsertResult{}, fmt.Errorf("failed to resolve duplicate item: %w", selectErr)
			}
			return InsertResult{ID: existing, Inserted: false}, nil
		}
		return InsertResult{}, fmt.Errorf("failed to insert item: %w", err)
	}

	for _, e := range dedupEntities(id, zoneID, item) {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO entities (item_id, zone_id, kind, value, normalized_value)
			VALUES (?, ?, ?, ?, ?)`,
			e.ItemID, e.ZoneID, string(e.Kind), e.Value, e.NormalizedValue,
		)
		if err != nil {
			return InsertResult{}, fmt.Errorf("failed to insert entity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("failed to commit item insert: %w", err)
	}
	return InsertResult{ID: id, Inserted: true}, nil
}

// dedupEntities builds the entity rows for an item, deduplicated by
// (kind, normalized_value).
func dedupEntities(itemID, zoneID string, item models.CanonicalItem) []models.Entity {
	seen := make(map[string]struct{})
	var out []models.Entity

	add := func(kind models.EntityKind, value string) {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			return
		}
		key := string(kind) + ":" + normalized
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, models.Entity{
			ItemID:          itemID,
			ZoneID:          zoneID,
			Kind:            kind,
			Value:           value,
			NormalizedValue: normalized,
		})
	}

	for _, h := range item.Hashtags {
		add(models.EntityHashtag, h)
	}
	for _, m := range item.Mentions {
		add(models.EntityMention, m)
	}
	return out
}

// UpdateItemCounters atomically replaces an item's counters and returns the
// pre-image so the tracker can compute deltas against a stable previous.
// Stored counters never decrease.
func (s *Store) UpdateItemCounters(ctx context.Context, itemID string, c models.Counters) (models.Counters, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prev models.Counters
	err = tx.QueryRowContext(ctx, `
		SELECT cnt_view, cnt_like, cnt_share, cnt_comment, cnt_quote, cnt_bookmark, cnt_collect
		FROM items WHERE id = ?`, itemID,
	).Scan(&prev.View, &prev.Like, &prev.Share, &prev.Comment, &prev.Quote, &prev.Bookmark, &prev.Collect)
	if err == sql.ErrNoRows {
		return models.Counters{}, fmt.Errorf("item %s: %w", itemID, sql.ErrNoRows)
	}
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to read counters: %w", err)
	}

	stored := c.Max(prev)
	_, err = tx.ExecContext(ctx, `
		UPDATE items SET
			cnt_view = ?, cnt_like = ?, cnt_share = ?, cnt_comment = ?,
			cnt_quote = ?, cnt_bookmark = ?, cnt_collect = ?
		WHERE id = ?`,
		stored.View, stored.Like, stored.Share, stored.Comment,
		stored.Quote, stored.Bookmark, stored.Collect, itemID,
	)
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to update counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Counters{}, fmt.Errorf("failed to commit counter update: %w", err)
	}
	return prev, nil
}

// SetPredictions writes the serialized prediction payload for an item.
func (s *Store) SetPredictions(ctx context.Context, itemID string, predictions []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET predictions = ? WHERE id = ?`, string(predictions), itemID)
	if err != nil {
		return fmt.Errorf("failed to store predictions for %s: %w", itemID, err)
	}
	return nil
}

// GetItem loads an item by internal id. Returns nil when absent.
func (s *Store) GetItem(ctx context.Context, id string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, zone_id, provider, provider_item_id, COALESCE(author_id, ''),
			text, language, created_at_source, reply_to_item_id,
			cnt_view, cnt_like, cnt_share, cnt_comment, cnt_quote, cnt_bookmark, cnt_collect,
			has_links, COALESCE(predictions, '')
		FROM items WHERE id = ?`, id)

	var item models.Item
	var provider, predictions string
	var createdAt int64
	var hasLinks int
	err := row.Scan(
		&item.ID, &item.ZoneID, &provider, &item.ProviderItemID, &item.AuthorID,
		&item.Text, &item.Language, &createdAt, &item.ReplyToItemID,
		&item.Counters.View, &item.Counters.Like, &item.Counters.Share, &item.Counters.Comment,
		&item.Counters.Quote, &item.Counters.Bookmark, &item.Counters.Collect,
		&hasLinks, &predictions,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}
	item.Provider = models.Provider(provider)
	item.CreatedAtSource = fromUnix(createdAt)
	item.HasLinks = hasLinks != 0
	if predictions != "" {
		item.Predictions = []byte(predictions)
	}
	return &item, nil
}

// ListEntities returns the entities of an item ordered by kind and value.
func (s *Store) ListEntities(ctx context.Context, itemID string) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, zone_id, kind, value, normalized_value
		FROM entities WHERE item_id = ?
		ORDER BY kind, normalized_value`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		var e models.Entity
		var kind string
		if err := rows.Scan(&e.ItemID, &e.ZoneID, &kind, &e.Value, &e.NormalizedValue); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Kind = models.EntityKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
