package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/store"
)

func TestTierAtIngest(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want models.Tier
	}{
		{30 * time.Minute, models.TierUltraHot},
		{59 * time.Minute, models.TierUltraHot},
		{2 * time.Hour, models.TierHot},
		{23 * time.Hour, models.TierHot},
		{25 * time.Hour, models.TierWarm},
		{6 * 24 * time.Hour, models.TierWarm},
		{8 * 24 * time.Hour, models.TierCold},
	}
	for _, tt := range tests {
		if got := TierAtIngest(tt.age); got != tt.want {
			t.Errorf("TierAtIngest(%v) = %s, want %s", tt.age, got, tt.want)
		}
	}
}

func TestNextTier(t *testing.T) {
	th := Thresholds{UltraHot: 1000, Hot: 200, Warm: 50}

	tests := []struct {
		name       string
		current    models.Tier
		age        time.Duration
		velocity   float64
		zeroStreak int
		want       models.Tier
	}{
		{"ultra stays while young", models.TierUltraHot, 30 * time.Minute, 500, 0, models.TierUltraHot},
		{"ultra ages into hot", models.TierUltraHot, 2 * time.Hour, 500, 0, models.TierHot},
		{"double zero delta drops ultra to warm", models.TierUltraHot, 30 * time.Minute, 0, 2, models.TierWarm},
		{"single zero delta keeps ultra", models.TierUltraHot, 30 * time.Minute, 0, 1, models.TierUltraHot},
		{"hot promoted on spike", models.TierHot, 2 * time.Hour, 1500, 0, models.TierUltraHot},
		{"hot ages into warm", models.TierHot, 30 * time.Hour, 100, 0, models.TierWarm},
		{"warm promoted on spike", models.TierWarm, 2 * 24 * time.Hour, 250, 0, models.TierHot},
		{"warm ages into cold", models.TierWarm, 8 * 24 * time.Hour, 9999, 0, models.TierCold},
		{"cold is terminal", models.TierCold, time.Hour, 9999, 0, models.TierCold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextTier(tt.current, tt.age, tt.velocity, tt.zeroStreak, th)
			if got != tt.want {
				t.Errorf("NextTier() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComputePredictions(t *testing.T) {
	base := time.Now().Add(-2 * time.Hour)
	snapshots := []models.EngagementSnapshot{
		{SnapshotAt: base, Counters: models.Counters{Like: 100, View: 1000}},
		{SnapshotAt: base.Add(time.Hour), Counters: models.Counters{Like: 200, View: 3000}},
		{SnapshotAt: base.Add(2 * time.Hour), Counters: models.Counters{Like: 300, View: 5000}},
	}

	p, ok := ComputePredictions(snapshots, time.Now())
	if !ok {
		t.Fatal("expected predictions")
	}
	if p.Model != PredictionModel {
		t.Errorf("model = %q", p.Model)
	}
	if p.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 3/6", p.Confidence)
	}

	like := p.Metrics["like"]
	// 200 likes over 2 hours -> 100/h.
	if like.P1H != 400 || like.P3H != 600 {
		t.Errorf("like forecast = %+v", like)
	}
	view := p.Metrics["view"]
	if view.P1H != 7000 {
		t.Errorf("view p1h = %v, want 7000", view.P1H)
	}
}

func TestComputePredictionsNeverBelowCurrent(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	// Counters revised down between snapshots: velocity clamps to 0.
	snapshots := []models.EngagementSnapshot{
		{SnapshotAt: base, Counters: models.Counters{Like: 500}},
		{SnapshotAt: base.Add(time.Hour), Counters: models.Counters{Like: 400}},
	}
	p, ok := ComputePredictions(snapshots, time.Now())
	if !ok {
		t.Fatal("expected predictions")
	}
	like := p.Metrics["like"]
	if like.P1H != 400 || like.P3H != 400 {
		t.Errorf("forecast below current: %+v", like)
	}
}

func TestComputePredictionsNeedsTwoSnapshots(t *testing.T) {
	if _, ok := ComputePredictions([]models.EngagementSnapshot{{}}, time.Now()); ok {
		t.Fatal("expected no predictions from a single snapshot")
	}
}

func TestComputePredictionsConfidenceCap(t *testing.T) {
	base := time.Now().Add(-10 * time.Hour)
	var snapshots []models.EngagementSnapshot
	for i := 0; i < 10; i++ {
		snapshots = append(snapshots, models.EngagementSnapshot{
			SnapshotAt: base.Add(time.Duration(i) * time.Hour),
			Counters:   models.Counters{Like: int64(i * 10)},
		})
	}
	p, _ := ComputePredictions(snapshots, time.Now())
	if p.Confidence != 0.9 {
		t.Errorf("confidence = %v, want capped at 0.9", p.Confidence)
	}
}

type fakeFetcher struct {
	counters models.Counters
	err      error
}

func (f *fakeFetcher) FetchCounters(ctx context.Context, providerItemID string) (models.Counters, error) {
	if f.err != nil {
		return models.Counters{}, f.err
	}
	return f.counters, nil
}

func newTestTracker(t *testing.T, fetcher CounterFetcher) (*Tracker, *store.Store, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	err = s.UpsertZone(ctx, models.Zone{
		ID: "zone-1", ClientID: "c-1", Settings: models.DefaultZoneSettings(), IsActive: true,
	})
	if err != nil {
		t.Fatalf("zone seed failed: %v", err)
	}

	res, err := s.InsertItemIfAbsent(ctx, "zone-1", models.CanonicalItem{
		Provider:        models.ProviderTweet,
		ProviderItemID:  "tw-1",
		Text:            "hello",
		CreatedAtSource: time.Now().Add(-30 * time.Minute),
		Counters:        models.Counters{View: 100, Like: 10},
	}, "")
	if err != nil {
		t.Fatalf("item seed failed: %v", err)
	}

	next := time.Now().Add(10 * time.Minute)
	err = s.UpsertTracking(ctx, models.Tracking{
		ItemID: res.ID, Tier: models.TierUltraHot, NextUpdateAt: &next,
	})
	if err != nil {
		t.Fatalf("tracking seed failed: %v", err)
	}

	// Initial snapshot at ingest: deltas = counters, velocity 0.
	_, err = s.AppendSnapshot(ctx, res.ID, models.Counters{View: 100, Like: 10},
		models.Counters{View: 100, Like: 10}, 0)
	if err != nil {
		t.Fatalf("initial snapshot failed: %v", err)
	}

	tr := New(s, map[models.Provider]CounterFetcher{models.ProviderTweet: fetcher})
	return tr, s, res.ID
}

func TestRefreshItemAppendsSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{counters: models.Counters{View: 400, Like: 40}}
	tr, s, itemID := newTestTracker(t, fetcher)
	ctx := context.Background()

	result, err := tr.RefreshItem(ctx, itemID)
	if err != nil {
		t.Fatalf("RefreshItem failed: %v", err)
	}
	if result.UpdateCount != 1 {
		t.Errorf("update count = %d, want 1", result.UpdateCount)
	}
	if result.Tier != models.TierUltraHot {
		t.Errorf("tier = %s, want ultra_hot for young active item", result.Tier)
	}
	if result.NextUpdateAt == nil {
		t.Fatal("expected next update time")
	}
	if result.Velocity <= 0 {
		t.Errorf("velocity = %v, want positive", result.Velocity)
	}

	snaps, err := s.ListSnapshots(ctx, itemID)
	if err != nil {
		t.Fatalf("list snapshots failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	latest := snaps[1]
	if latest.Deltas.View != 300 || latest.Deltas.Like != 30 {
		t.Errorf("deltas = %+v", latest.Deltas)
	}
}

func TestRefreshItemNotFoundRetiresToCold(t *testing.T) {
	fetcher := &fakeFetcher{err: gerrors.WrapNotFound("fetch_counters", "tweet", fmt.Errorf("gone"))}
	tr, s, itemID := newTestTracker(t, fetcher)
	ctx := context.Background()

	result, err := tr.RefreshItem(ctx, itemID)
	if err != nil {
		t.Fatalf("RefreshItem failed: %v", err)
	}
	if !result.MarkedCold || result.Tier != models.TierCold {
		t.Fatalf("result = %+v, want cold", result)
	}

	tracking, err := s.GetTracking(ctx, itemID)
	if err != nil {
		t.Fatalf("get tracking failed: %v", err)
	}
	if tracking.Tier != models.TierCold || tracking.NextUpdateAt != nil {
		t.Errorf("tracking = %+v", tracking)
	}
	// No snapshot appended on retirement.
	snaps, _ := s.ListSnapshots(ctx, itemID)
	if len(snaps) != 1 {
		t.Errorf("got %d snapshots, want only the initial one", len(snaps))
	}
}

func TestRefreshItemClampsRevisedDownCounters(t *testing.T) {
	fetcher := &fakeFetcher{counters: models.Counters{View: 50, Like: 5}}
	tr, s, itemID := newTestTracker(t, fetcher)
	ctx := context.Background()

	result, err := tr.RefreshItem(ctx, itemID)
	if err != nil {
		t.Fatalf("RefreshItem failed: %v", err)
	}
	if result.Velocity != 0 {
		t.Errorf("velocity = %v, want 0 for revised-down counters", result.Velocity)
	}

	snaps, _ := s.ListSnapshots(ctx, itemID)
	latest := snaps[len(snaps)-1]
	if latest.Deltas.Sum() != 0 {
		t.Errorf("deltas = %+v, want all clamped to 0", latest.Deltas)
	}
	// The snapshot sequence never decreases per metric either.
	if latest.Counters.View != 100 || latest.Counters.Like != 10 {
		t.Errorf("snapshot counters = %+v, want clamped to {View:100 Like:10}", latest.Counters)
	}
	// Stored item counters never regress.
	item, _ := s.GetItem(ctx, itemID)
	if item.Counters.View != 100 {
		t.Errorf("stored view = %d, want 100", item.Counters.View)
	}
}

func TestRefreshItemDoubleZeroDeltaDemotesToWarm(t *testing.T) {
	fetcher := &fakeFetcher{counters: models.Counters{View: 100, Like: 10}}
	tr, _, itemID := newTestTracker(t, fetcher)
	ctx := context.Background()

	first, err := tr.RefreshItem(ctx, itemID)
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if first.Tier != models.TierUltraHot {
		t.Fatalf("tier after one zero delta = %s, want ultra_hot", first.Tier)
	}

	second, err := tr.RefreshItem(ctx, itemID)
	if err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	if second.Tier != models.TierWarm {
		t.Fatalf("tier after two zero deltas = %s, want warm", second.Tier)
	}
}

func TestRefreshItemWritesPredictionsAfterSecondUpdate(t *testing.T) {
	fetcher := &fakeFetcher{counters: models.Counters{View: 200, Like: 20}}
	tr, s, itemID := newTestTracker(t, fetcher)
	ctx := context.Background()

	if _, err := tr.RefreshItem(ctx, itemID); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	item, _ := s.GetItem(ctx, itemID)
	if item.Predictions != nil {
		t.Fatal("predictions written after a single update")
	}

	fetcher.counters = models.Counters{View: 300, Like: 30}
	result, err := tr.RefreshItem(ctx, itemID)
	if err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	if result.UpdateCount != 2 {
		t.Fatalf("update count = %d, want 2", result.UpdateCount)
	}

	item, _ = s.GetItem(ctx, itemID)
	if item.Predictions == nil {
		t.Fatal("expected predictions after second update")
	}
	var p Predictions
	if err := json.Unmarshal(item.Predictions, &p); err != nil {
		t.Fatalf("predictions not valid JSON: %v", err)
	}
	if p.Model != PredictionModel {
		t.Errorf("model = %q", p.Model)
	}
}

func TestRefreshItemColdIsNoOp(t *testing.T) {
	fetcher := &fakeFetcher{counters: models.Counters{View: 999}}
	tr, s, itemID := newTestTracker(t, fetcher)
	ctx := context.Background()

	if err := s.MarkCold(ctx, itemID, time.Now()); err != nil {
		t.Fatalf("mark cold failed: %v", err)
	}
	result, err := tr.RefreshItem(ctx, itemID)
	if err != nil {
		t.Fatalf("RefreshItem failed: %v", err)
	}
	if !result.Skipped {
		t.Fatal("expected cold refresh to be skipped")
	}
}

func TestRefreshItemProviderWithoutFetcherRetires(t *testing.T) {
	tr, s, _ := newTestTracker(t, &fakeFetcher{})
	ctx := context.Background()

	res, err := s.InsertItemIfAbsent(ctx, "zone-1", models.CanonicalItem{
		Provider:        models.ProviderNews,
		ProviderItemID:  "a-1",
		Text:            "article",
		CreatedAtSource: time.Now().Add(-10 * time.Minute),
	}, "")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.UpsertTracking(ctx, models.Tracking{ItemID: res.ID, Tier: models.TierUltraHot}); err != nil {
		t.Fatalf("tracking failed: %v", err)
	}

	result, err := tr.RefreshItem(ctx, res.ID)
	if err != nil {
		t.Fatalf("RefreshItem failed: %v", err)
	}
	if !result.MarkedCold {
		t.Fatal("expected item without fetcher to be retired")
	}
}
