package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/store"
	"github.com/gorgonehq/gorgone/internal/telemetry"
)

// CounterFetcher loads fresh engagement counters for one provider item.
type CounterFetcher interface {
	FetchCounters(ctx context.Context, providerItemID string) (models.Counters, error)
}

// Tracker runs the per-item refresh tick.
type Tracker struct {
	store    *store.Store
	fetchers map[models.Provider]CounterFetcher
}

// New builds a tracker. Providers without a fetcher (news) are retired to
// cold on their first refresh.
func New(s *store.Store, fetchers map[models.Provider]CounterFetcher) *Tracker {
	return &Tracker{store: s, fetchers: fetchers}
}

// RefreshResult reports the outcome of one refresh tick.
type RefreshResult struct {
	ItemID       string
	PreviousTier models.Tier
	Tier         models.Tier
	NextUpdateAt *time.Time
	UpdateCount  int
	Velocity     float64
	MarkedCold   bool
	Skipped      bool
}

// RefreshItem executes the snapshot algorithm for one tracked item: fetch
// fresh counters, compute clamped deltas against the stored pre-image,
// append the snapshot, recompute the tier and, from the second update on,
// the predictions. The scheduler's idempotency key guarantees a single
// in-flight refresh per item.
func (t *Tracker) RefreshItem(ctx context.Context, itemID string) (RefreshResult, error) {
	now := time.Now()

	item, err := t.store.GetItem(ctx, itemID)
	if err != nil {
		return RefreshResult{}, err
	}
	if item == nil {
		return RefreshResult{}, gerrors.WrapNotFound("refresh_item", "", fmt.Errorf("item %s", itemID))
	}
	tracking, err := t.store.GetTracking(ctx, itemID)
	if err != nil {
		return RefreshResult{}, err
	}
	if tracking == nil {
		return RefreshResult{}, gerrors.WrapNotFound("refresh_item", string(item.Provider),
			fmt.Errorf("item %s is not tracked", itemID))
	}
	if tracking.Tier == models.TierCold {
		return RefreshResult{ItemID: itemID, PreviousTier: models.TierCold, Tier: models.TierCold, Skipped: true}, nil
	}

	fetcher, ok := t.fetchers[item.Provider]
	if !ok {
		// Provider has no live counters; retire the item.
		return t.retire(ctx, itemID, tracking.Tier, now)
	}

	counters, err := fetcher.FetchCounters(ctx, item.ProviderItemID)
	if gerrors.IsNotFound(err) {
		// Item deleted at the source.
		return t.retire(ctx, itemID, tracking.Tier, now)
	}
	if err != nil {
		var ie *gerrors.IngestError
		if errors.As(err, &ie) {
			telemetry.Get().RecordProviderError(string(item.Provider), string(ie.Type))
		}
		return RefreshResult{}, err
	}

	previousSnapshot, err := t.store.LatestSnapshot(ctx, itemID)
	if err != nil {
		return RefreshResult{}, err
	}

	previous, err := t.store.UpdateItemCounters(ctx, itemID, counters)
	if err != nil {
		return RefreshResult{}, err
	}

	// Providers occasionally revise counts down; the snapshot sequence
	// stays per-metric non-decreasing, same as the item row.
	clamped := counters.Max(previous)

	var deltas models.Counters
	var velocity float64
	if previousSnapshot == nil {
		// First observation: deltas mirror the counters, velocity undefined.
		deltas = clamped
	} else {
		deltas = counters.DeltaFrom(previous)
		elapsed := now.Sub(previousSnapshot.SnapshotAt)
		if elapsed < time.Minute {
			elapsed = time.Minute
		}
		velocity = float64(deltas.Sum()) / elapsed.Hours()
	}

	zeroStreak := 0
	if deltas.Sum() == 0 {
		zeroStreak = 1
		if previousSnapshot != nil && previousSnapshot.Deltas.Sum() == 0 {
			zeroStreak = 2
		}
	}

	snapshotAt, err := t.store.AppendSnapshot(ctx, itemID, clamped, deltas, velocity)
	if err != nil {
		return RefreshResult{}, err
	}

	thresholds, err := t.zoneThresholds(ctx, item.ZoneID)
	if err != nil {
		return RefreshResult{}, err
	}
	age := now.Sub(item.CreatedAtSource)
	newTier := NextTier(tracking.Tier, age, velocity, zeroStreak, thresholds)

	var nextUpdate *time.Time
	if period, refreshable := RefreshPeriod(newTier); refreshable {
		at := snapshotAt.Add(period)
		nextUpdate = &at
	}
	count, err := t.store.AdvanceTracking(ctx, itemID, newTier, nextUpdate, now)
	if err != nil {
		return RefreshResult{}, err
	}

	telemetry.Get().RecordSnapshot(string(newTier))
	if newTier != tracking.Tier {
		telemetry.Get().RecordTierTransition(string(tracking.Tier), string(newTier))
		log.Info().Str("itemId", itemID).Str("from", string(tracking.Tier)).
			Str("to", string(newTier)).Float64("velocity", velocity).Msg("Tier transition")
	}

	if count >= 2 {
		if err := t.recomputePredictions(ctx, itemID, now); err != nil {
			// Predictions are derived data; the snapshot already landed.
			log.Warn().Err(err).Str("itemId", itemID).Msg("Prediction recompute failed")
		}
	}

	return RefreshResult{
		ItemID:       itemID,
		PreviousTier: tracking.Tier,
		Tier:         newTier,
		NextUpdateAt: nextUpdate,
		UpdateCount:  count,
		Velocity:     velocity,
	}, nil
}

func (t *Tracker) retire(ctx context.Context, itemID string, from models.Tier, now time.Time) (RefreshResult, error) {
	if err := t.store.MarkCold(ctx, itemID, now); err != nil {
		return RefreshResult{}, err
	}
	telemetry.Get().RecordTierTransition(string(from), string(models.TierCold))
	log.Info().Str("itemId", itemID).Str("from", string(from)).Msg("Item retired to cold")
	return RefreshResult{
		ItemID:       itemID,
		PreviousTier: from,
		Tier:         models.TierCold,
		MarkedCold:   true,
	}, nil
}

func (t *Tracker) zoneThresholds(ctx context.Context, zoneID string) (Thresholds, error) {
	zone, err := t.store.GetZone(ctx, zoneID)
	if err != nil {
		return Thresholds{}, err
	}
	if zone == nil {
		return ThresholdsFrom(models.DefaultZoneSettings()), nil
	}
	return ThresholdsFrom(zone.Settings), nil
}

func (t *Tracker) recomputePredictions(ctx context.Context, itemID string, now time.Time) error {
	snapshots, err := t.store.ListSnapshots(ctx, itemID)
	if err != nil {
		return err
	}
	predictions, ok := ComputePredictions(snapshots, now)
	if !ok {
		return nil
	}
	encoded, err := predictions.Encode()
	if err != nil {
		return err
	}
	return t.store.SetPredictions(ctx, itemID, encoded)
}
