package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorgonehq/gorgone/internal/models"
)

const ruleColumns = `id, zone_id, name, kind, query, interval_seconds, is_active,
	COALESCE(external_rule_id, ''), created_at, last_polled_at,
	total_items_collected, last_item_count`

// CreateRule inserts a rule. (zone_id, name) uniqueness violations surface
// as errors for the registry to classify.
func (s *Store) CreateRule(ctx context.Context, r models.Rule) error {
	var external any
	if r.ExternalRuleID != "" {
		external = r.ExternalRuleID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (
			id, zone_id, name, kind, query, interval_seconds, is_active,
			external_rule_id, created_at, total_items_collected, last_item_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		r.ID, r.ZoneID, r.Name, string(r.Kind), r.Query, r.IntervalSeconds,
		boolToInt(r.IsActive), external, toUnix(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// UpdateRule rewrites the mutable fields of a rule.
func (s *Store) UpdateRule(ctx context.Context, r models.Rule) error {
	var external any
	if r.ExternalRuleID != "" {
		external = r.ExternalRuleID
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET name = ?, query = ?, interval_seconds = ?, is_active = ?, external_rule_id = ?
		WHERE id = ?`,
		r.Name, r.Query, r.IntervalSeconds, boolToInt(r.IsActive), external, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", r.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteRule removes a rule row.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetRule loads a rule by internal id, or nil when absent.
func (s *Store) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

// GetRuleByExternalID resolves a rule from the push provider's rule id.
func (s *Store) GetRuleByExternalID(ctx context.Context, externalID string) (*models.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE external_rule_id = ?`, externalID)
	return scanRule(row)
}

// ListRules returns the rules of a zone ordered by creation time.
func (s *Store) ListRules(ctx context.Context, zoneID string) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE zone_id = ? ORDER BY created_at, id`, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListActivePollRules returns every active rule of the given kinds across
// all zones. The dispatcher uses it to seed poll jobs at startup.
func (s *Store) ListActivePollRules(ctx context.Context, kinds ...models.RuleKind) ([]models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE is_active = 1`
	args := make([]any, 0, len(kinds))
	if len(kinds) > 0 {
		query += ` AND kind IN (?` + repeat(",?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// RecordRulePoll stamps a successful poll: last_polled_at, the per-poll item
// count and the running total.
func (s *Store) RecordRulePoll(ctx context.Context, ruleID string, polledAt time.Time, itemCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			last_polled_at = ?,
			last_item_count = ?,
			total_items_collected = total_items_collected + ?
		WHERE id = ?`,
		toUnix(polledAt), itemCount, itemCount, ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to record poll for rule %s: %w", ruleID, err)
	}
	return nil
}

func scanRule(row *sql.Row) (*models.Rule, error) {
	var r models.Rule
	var kind string
	var active int
	var createdAt int64
	var lastPolled sql.NullInt64
	err := row.Scan(&r.ID, &r.ZoneID, &r.Name, &kind, &r.Query, &r.IntervalSeconds,
		&active, &r.ExternalRuleID, &createdAt, &lastPolled,
		&r.TotalItemsCollected, &r.LastItemCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	r.Kind = models.RuleKind(kind)
	r.IsActive = active != 0
	r.CreatedAt = fromUnix(createdAt)
	r.LastPolledAt = scanNullableUnix(lastPolled)
	return &r, nil
}

func scanRules(rows *sql.Rows) ([]models.Rule, error) {
	var out []models.Rule
	for rows.Next() {
		var r models.Rule
		var kind string
		var active int
		var createdAt int64
		var lastPolled sql.NullInt64
		err := rows.Scan(&r.ID, &r.ZoneID, &r.Name, &kind, &r.Query, &r.IntervalSeconds,
			&active, &r.ExternalRuleID, &createdAt, &lastPolled,
			&r.TotalItemsCollected, &r.LastItemCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Kind = models.RuleKind(kind)
		r.IsActive = active != 0
		r.CreatedAt = fromUnix(createdAt)
		r.LastPolledAt = scanNullableUnix(lastPolled)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertZone writes a zone row. Zones are owned by external collaborators;
// the core only needs this for provisioning and tests.
func (s *Store) UpsertZone(ctx context.Context, z models.Zone) error {
	settings, err := json.Marshal(z.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode zone settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO zones (id, client_id, ds_tweet, ds_video, ds_news, settings, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			ds_tweet = excluded.ds_tweet,
			ds_video = excluded.ds_video,
			ds_news = excluded.ds_news,
			settings = excluded.settings,
			is_active = excluded.is_active`,
		z.ID, z.ClientID, boolToInt(z.DataSources.Tweet), boolToInt(z.DataSources.Video),
		boolToInt(z.DataSources.News), string(settings), boolToInt(z.IsActive),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert zone: %w", err)
	}
	return nil
}

// GetZone loads a zone, or nil when absent.
func (s *Store) GetZone(ctx context.Context, id string) (*models.Zone, error) {
	var z models.Zone
	var tweet, video, news, active int
	var settings string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, ds_tweet, ds_video, ds_news, settings, is_active
		FROM zones WHERE id = ?`, id,
	).Scan(&z.ID, &z.ClientID, &tweet, &video, &news, &settings, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load zone: %w", err)
	}
	z.DataSources = models.DataSources{Tweet: tweet != 0, Video: video != 0, News: news != 0}
	z.IsActive = active != 0
	if err := json.Unmarshal([]byte(settings), &z.Settings); err != nil {
		z.Settings = models.DefaultZoneSettings()
	}
	return &z, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
