package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CachedEmbedding is a content-addressed vector from the embedding cache.
type CachedEmbedding struct {
	ContentHash string
	Vector      string
	ModelID     string
	CreatedAt   time.Time
}

// GetCachedEmbedding returns the cached vector for a content hash, or nil.
func (s *Store) GetCachedEmbedding(ctx context.Context, contentHash string) (*CachedEmbedding, error) {
	var e CachedEmbedding
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, vector, model_id, created_at
		FROM embedding_cache WHERE content_hash = ?`, contentHash,
	).Scan(&e.ContentHash, &e.Vector, &e.ModelID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cached embedding: %w", err)
	}
	e.CreatedAt = fromUnix(createdAt)
	return &e, nil
}

// PutCachedEmbedding stores a vector under its content hash. Concurrent
// writers of the same hash produce identical vectors, so last write wins.
func (s *Store) PutCachedEmbedding(ctx context.Context, contentHash, vector, modelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, vector, model_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (content_hash) DO UPDATE SET
			vector = excluded.vector,
			model_id = excluded.model_id`,
		contentHash, vector, modelID, toUnix(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

// MarkItemVectorized stamps an item with its content hash, vector and the
// vectorization time.
func (s *Store) MarkItemVectorized(ctx context.Context, itemID, contentHash, vector string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET content_hash = ?, vector = ?, vectorized_at = ?
		WHERE id = ?`,
		contentHash, vector, toUnix(at), itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s vectorized: %w", itemID, err)
	}
	return nil
}

// ItemVectorState reports whether an item already carries a vector.
type ItemVectorState struct {
	ID          string
	Text        string
	AuthorID    string
	Vectorized  bool
	ContentHash string
}

// GetItemVectorStates loads the vectorization state of a batch of items.
// Unknown ids are silently skipped.
func (s *Store) GetItemVectorStates(ctx context.Context, itemIDs []string) ([]ItemVectorState, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, text, COALESCE(author_id, ''), vectorized_at IS NOT NULL, COALESCE(content_hash, '')
		FROM items WHERE id IN (?` + repeat(",?", len(itemIDs)-1) + `)`
	args := make([]any, len(itemIDs))
	for i, id := range itemIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector states: %w", err)
	}
	defer rows.Close()

	var out []ItemVectorState
	for rows.Next() {
		var st ItemVectorState
		var vectorized int
		if err := rows.Scan(&st.ID, &st.Text, &st.AuthorID, &vectorized, &st.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan vector state: %w", err)
		}
		st.Vectorized = vectorized != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListUnvectorizedItems returns ids of items without a vector, oldest first,
// for backfill sweeps.
func (s *Store) ListUnvectorizedItems(ctx context.Context, zoneID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM items
		WHERE zone_id = ? AND vectorized_at IS NULL
		ORDER BY ingested_at, id LIMIT ?`, zoneID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unvectorized items: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
