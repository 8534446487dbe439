// Package rules manages per-zone monitoring rules: validation against the
// per-provider grammar and interval floors, persistence, and mirroring of
// push rules to the tweet provider.
package rules

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/store"
)

// Interval floors per provider, in seconds.
const (
	MinPushInterval = 60
	MinNewsInterval = 15 * 60
)

// Allowed video poll intervals, in seconds.
var videoIntervals = map[int]bool{
	60 * 60:  true,
	180 * 60: true,
	360 * 60: true,
}

// Mirror is the remote rule lifecycle on the push provider.
type Mirror interface {
	CreateRule(ctx context.Context, query string, intervalSeconds int, webhookURL string) (string, error)
	UpdateRule(ctx context.Context, externalID, query string, intervalSeconds int) error
	SetRuleActive(ctx context.Context, externalID string, active bool) error
	DeleteRule(ctx context.Context, externalID string) error
}

// Registry owns the rule lifecycle.
type Registry struct {
	store      *store.Store
	mirror     Mirror
	webhookURL string
}

// New builds a registry. webhookURL is the inbound delivery address
// registered with mirrored rules.
func New(s *store.Store, mirror Mirror, webhookURL string) *Registry {
	return &Registry{store: s, mirror: mirror, webhookURL: webhookURL}
}

// List returns the rules of a zone.
func (r *Registry) List(ctx context.Context, zoneID string) ([]models.Rule, error) {
	return r.store.ListRules(ctx, zoneID)
}

// Get loads one rule.
func (r *Registry) Get(ctx context.Context, id string) (*models.Rule, error) {
	return r.store.GetRule(ctx, id)
}

// Create validates and persists a rule, mirroring push rules to the remote
// provider first so a remote failure never leaves a local rule without its
// stream.
func (r *Registry) Create(ctx context.Context, rule models.Rule) (models.Rule, error) {
	if err := Validate(rule); err != nil {
		return models.Rule{}, err
	}
	rule.ID = uuid.NewString()
	rule.CreatedAt = time.Now()

	if rule.IsPush() {
		externalID, err := r.mirror.CreateRule(ctx, rule.Query, rule.IntervalSeconds, r.webhookURL)
		if err != nil {
			return models.Rule{}, fmt.Errorf("remote rule create failed: %w", err)
		}
		rule.ExternalRuleID = externalID
	}

	if err := r.store.CreateRule(ctx, rule); err != nil {
		if rule.ExternalRuleID != "" {
			// Unwind the remote rule so it does not stream into the void.
			if delErr := r.mirror.DeleteRule(ctx, rule.ExternalRuleID); delErr != nil {
				log.Warn().Err(delErr).Str("externalRuleId", rule.ExternalRuleID).
					Msg("Failed to unwind remote rule after local create failure")
			}
		}
		if isUniqueName(err) {
			return models.Rule{}, gerrors.New(gerrors.ErrorTypeConflict, "create_rule", "",
				fmt.Errorf("rule name %q already exists in zone %s", rule.Name, rule.ZoneID))
		}
		return models.Rule{}, err
	}

	log.Info().Str("ruleId", rule.ID).Str("zoneId", rule.ZoneID).
		Str("kind", string(rule.Kind)).Bool("push", rule.IsPush()).
		Msg("Rule created")
	return rule, nil
}

// Patch carries the mutable rule fields of an update.
type Patch struct {
	Name            *string
	Query           *string
	IntervalSeconds *int
}

// Update applies a patch and mirrors query/interval changes to the push
// provider.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (models.Rule, error) {
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return models.Rule{}, err
	}
	if rule == nil {
		return models.Rule{}, gerrors.WrapNotFound("update_rule", "", fmt.Errorf("rule %s", id))
	}

	remoteDirty := false
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Query != nil && *patch.Query != rule.Query {
		rule.Query = *patch.Query
		remoteDirty = true
	}
	if patch.IntervalSeconds != nil && *patch.IntervalSeconds != rule.IntervalSeconds {
		rule.IntervalSeconds = *patch.IntervalSeconds
		remoteDirty = true
	}
	if err := Validate(*rule); err != nil {
		return models.Rule{}, err
	}

	if remoteDirty && rule.IsPush() && rule.ExternalRuleID != "" {
		if err := r.mirror.UpdateRule(ctx, rule.ExternalRuleID, rule.Query, rule.IntervalSeconds); err != nil {
			return models.Rule{}, fmt.Errorf("remote rule update failed: %w", err)
		}
	}
	if err := r.store.UpdateRule(ctx, *rule); err != nil {
		return models.Rule{}, err
	}
	return *rule, nil
}

// Toggle flips a rule's active flag. Remote toggle failures are logged;
// local state wins.
func (r *Registry) Toggle(ctx context.Context, id string, active bool) error {
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if rule == nil {
		return gerrors.WrapNotFound("toggle_rule", "", fmt.Errorf("rule %s", id))
	}
	if rule.IsActive == active {
		return nil
	}
	rule.IsActive = active
	if err := r.store.UpdateRule(ctx, *rule); err != nil {
		return err
	}

	if rule.IsPush() && rule.ExternalRuleID != "" {
		if err := r.mirror.SetRuleActive(ctx, rule.ExternalRuleID, active); err != nil {
			log.Warn().Err(err).Str("ruleId", id).Bool("active", active).
				Msg("Remote rule toggle failed; local state wins")
		}
	}
	return nil
}

// Delete removes a rule. The remote delete is best-effort: the local delete
// proceeds even when the provider call fails.
func (r *Registry) Delete(ctx context.Context, id string) error {
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if rule == nil {
		return gerrors.WrapNotFound("delete_rule", "", fmt.Errorf("rule %s", id))
	}

	if rule.IsPush() && rule.ExternalRuleID != "" {
		if err := r.mirror.DeleteRule(ctx, rule.ExternalRuleID); err != nil {
			log.Warn().Err(err).Str("ruleId", id).Str("externalRuleId", rule.ExternalRuleID).
				Msg("Remote rule delete failed; deleting locally anyway")
		}
	}
	if err := r.store.DeleteRule(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return gerrors.WrapNotFound("delete_rule", "", fmt.Errorf("rule %s", id))
		}
		return err
	}
	log.Info().Str("ruleId", id).Msg("Rule deleted")
	return nil
}

// ResolveByExternalID maps a provider rule id back to the local rule.
func (r *Registry) ResolveByExternalID(ctx context.Context, externalID string) (*models.Rule, error) {
	return r.store.GetRuleByExternalID(ctx, externalID)
}

func isUniqueName(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
