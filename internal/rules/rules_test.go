package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/store"
)

func TestValidate(t *testing.T) {
	base := models.Rule{ZoneID: "zone-1", Name: "r"}

	tests := []struct {
		name    string
		rule    models.Rule
		wantErr bool
	}{
		{"keyword ok", rule(base, models.RuleKindKeyword, "golang OR gopher", 300), false},
		{"keyword implicit and", rule(base, models.RuleKindKeyword, "golang gopher", 300), false},
		{"keyword grouped", rule(base, models.RuleKindKeyword, "(golang OR gopher) AND NOT rust", 300), false},
		{"keyword dangling operator", rule(base, models.RuleKindKeyword, "golang OR", 300), true},
		{"keyword unbalanced parens", rule(base, models.RuleKindKeyword, "(golang OR gopher", 300), true},
		{"keyword leading operator", rule(base, models.RuleKindKeyword, "AND golang", 300), true},
		{"keyword empty group", rule(base, models.RuleKindKeyword, "golang AND ()", 300), true},
		{"push interval floor", rule(base, models.RuleKindKeyword, "golang", 30), true},
		{"hashtag ok", rule(base, models.RuleKindHashtag, "#golang", 300), false},
		{"hashtag multiple tokens", rule(base, models.RuleKindHashtag, "#golang #rust", 300), true},
		{"user ok", rule(base, models.RuleKindUser, "@rob", 300), false},
		{"user garbage", rule(base, models.RuleKindUser, "not a handle", 300), true},
		{"video ok", rule(base, models.RuleKindHashtag, "video:fyp", 3600), false},
		{"video bad interval", rule(base, models.RuleKindHashtag, "video:fyp", 1800), true},
		{"video 6h interval", rule(base, models.RuleKindKeyword, "video:dance", 21600), false},
		{"news ok", rule(base, models.RuleKindNewsQuery, `{"text":"golang"}`, 900), false},
		{"news interval floor", rule(base, models.RuleKindNewsQuery, `{"text":"golang"}`, 600), true},
		{"news bad spec", rule(base, models.RuleKindNewsQuery, `golang`, 900), true},
		{"missing name", models.Rule{ZoneID: "z", Kind: models.RuleKindKeyword, Query: "q", IntervalSeconds: 300}, true},
		{"missing zone", models.Rule{Name: "r", Kind: models.RuleKindKeyword, Query: "q", IntervalSeconds: 300}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func rule(base models.Rule, kind models.RuleKind, query string, interval int) models.Rule {
	base.Kind = kind
	base.Query = query
	base.IntervalSeconds = interval
	return base
}

type fakeMirror struct {
	created   int
	deleted   []string
	updated   int
	toggled   []bool
	failOn    string
	nextID    int
	createErr error
}

func (f *fakeMirror) CreateRule(ctx context.Context, query string, interval int, webhookURL string) (string, error) {
	if f.failOn == "create" {
		return "", fmt.Errorf("provider down")
	}
	f.created++
	f.nextID++
	return fmt.Sprintf("ext-%d", f.nextID), nil
}

func (f *fakeMirror) UpdateRule(ctx context.Context, externalID, query string, interval int) error {
	if f.failOn == "update" {
		return fmt.Errorf("provider down")
	}
	f.updated++
	return nil
}

func (f *fakeMirror) SetRuleActive(ctx context.Context, externalID string, active bool) error {
	if f.failOn == "toggle" {
		return fmt.Errorf("provider down")
	}
	f.toggled = append(f.toggled, active)
	return nil
}

func (f *fakeMirror) DeleteRule(ctx context.Context, externalID string) error {
	if f.failOn == "delete" {
		return fmt.Errorf("provider down")
	}
	f.deleted = append(f.deleted, externalID)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeMirror, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	err = s.UpsertZone(context.Background(), models.Zone{
		ID: "zone-1", ClientID: "c-1", Settings: models.DefaultZoneSettings(), IsActive: true,
	})
	if err != nil {
		t.Fatalf("zone seed failed: %v", err)
	}

	mirror := &fakeMirror{}
	return New(s, mirror, "https://app.example/webhook"), mirror, s
}

func TestCreatePushRuleMirrors(t *testing.T) {
	reg, mirror, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, models.Rule{
		ZoneID: "zone-1", Name: "golang", Kind: models.RuleKindKeyword,
		Query: "golang", IntervalSeconds: 300, IsActive: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ExternalRuleID == "" {
		t.Fatal("push rule missing external id")
	}
	if mirror.created != 1 {
		t.Errorf("remote creates = %d, want 1", mirror.created)
	}

	resolved, err := reg.ResolveByExternalID(ctx, created.ExternalRuleID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved == nil || resolved.ID != created.ID {
		t.Fatalf("resolve = %+v, want rule %s", resolved, created.ID)
	}
}

func TestCreateNewsRuleDoesNotMirror(t *testing.T) {
	reg, mirror, _ := newTestRegistry(t)

	created, err := reg.Create(context.Background(), models.Rule{
		ZoneID: "zone-1", Name: "go-news", Kind: models.RuleKindNewsQuery,
		Query: `{"text":"golang"}`, IntervalSeconds: 900, IsActive: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ExternalRuleID != "" {
		t.Error("news rule should not carry an external id")
	}
	if mirror.created != 0 {
		t.Errorf("remote creates = %d, want 0", mirror.created)
	}
}

func TestCreateDuplicateNameUnwindsRemote(t *testing.T) {
	reg, mirror, _ := newTestRegistry(t)
	ctx := context.Background()

	base := models.Rule{
		ZoneID: "zone-1", Name: "golang", Kind: models.RuleKindKeyword,
		Query: "golang", IntervalSeconds: 300, IsActive: true,
	}
	if _, err := reg.Create(ctx, base); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, err := reg.Create(ctx, base)
	if err == nil {
		t.Fatal("expected conflict for duplicate name")
	}
	if gerrors.HTTPStatus(err) != 409 {
		t.Errorf("status = %d, want 409", gerrors.HTTPStatus(err))
	}
	// The second remote rule must be unwound.
	if len(mirror.deleted) != 1 {
		t.Errorf("remote deletes = %v, want the orphaned rule removed", mirror.deleted)
	}
}

func TestCreateFailsWhenRemoteCreateFails(t *testing.T) {
	reg, mirror, s := newTestRegistry(t)
	mirror.failOn = "create"

	_, err := reg.Create(context.Background(), models.Rule{
		ZoneID: "zone-1", Name: "golang", Kind: models.RuleKindKeyword,
		Query: "golang", IntervalSeconds: 300, IsActive: true,
	})
	if err == nil {
		t.Fatal("expected error when remote create fails")
	}
	rules, err := s.ListRules(context.Background(), "zone-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rules) != 0 {
		t.Error("no local rule should exist after remote create failure")
	}
}

func TestDeleteProceedsOnRemoteFailure(t *testing.T) {
	reg, mirror, s := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, models.Rule{
		ZoneID: "zone-1", Name: "golang", Kind: models.RuleKindKeyword,
		Query: "golang", IntervalSeconds: 300, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	mirror.failOn = "delete"
	if err := reg.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete should win locally despite remote failure: %v", err)
	}
	got, err := s.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Error("rule still present after delete")
	}
}

func TestToggleLocalStateWins(t *testing.T) {
	reg, mirror, s := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, models.Rule{
		ZoneID: "zone-1", Name: "golang", Kind: models.RuleKindKeyword,
		Query: "golang", IntervalSeconds: 300, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	mirror.failOn = "toggle"
	if err := reg.Toggle(ctx, created.ID, false); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	got, err := s.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.IsActive {
		t.Error("rule still active after toggle")
	}
}

func TestUpdateMirrorsQueryChange(t *testing.T) {
	reg, mirror, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, models.Rule{
		ZoneID: "zone-1", Name: "golang", Kind: models.RuleKindKeyword,
		Query: "golang", IntervalSeconds: 300, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	newQuery := "golang OR gopher"
	updated, err := reg.Update(ctx, created.ID, Patch{Query: &newQuery})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Query != newQuery {
		t.Errorf("query = %q", updated.Query)
	}
	if mirror.updated != 1 {
		t.Errorf("remote updates = %d, want 1", mirror.updated)
	}

	// Name-only change does not touch the remote.
	newName := "renamed"
	if _, err := reg.Update(ctx, created.ID, Patch{Name: &newName}); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if mirror.updated != 1 {
		t.Errorf("remote updates = %d after rename, want still 1", mirror.updated)
	}
}
