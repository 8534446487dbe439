// Package tracker drives the tiered engagement refresh lifecycle: tier
// assignment, the snapshot algorithm and velocity-linear predictions.
package tracker

import (
	"time"

	"github.com/gorgonehq/gorgone/internal/models"
)

// Tier age limits, measured from the item's source creation time.
const (
	UltraHotMaxAge = time.Hour
	HotMaxAge      = 24 * time.Hour
	WarmMaxAge     = 7 * 24 * time.Hour
)

// Refresh periods per tier. Cold items are never refreshed.
var refreshPeriods = map[models.Tier]time.Duration{
	models.TierUltraHot: 10 * time.Minute,
	models.TierHot:      30 * time.Minute,
	models.TierWarm:     60 * time.Minute,
}

// Thresholds are the per-zone promotion velocities, in total engagement
// delta per hour.
type Thresholds struct {
	UltraHot float64
	Hot      float64
	Warm     float64
}

// ThresholdsFrom reads the zone's overrides, falling back to the defaults.
func ThresholdsFrom(settings models.ZoneSettings) Thresholds {
	t := Thresholds{
		UltraHot: settings.UltraHotThreshold,
		Hot:      settings.HotThreshold,
		Warm:     settings.WarmThreshold,
	}
	if t.UltraHot <= 0 {
		t.UltraHot = models.DefaultUltraHotThreshold
	}
	if t.Hot <= 0 {
		t.Hot = models.DefaultHotThreshold
	}
	if t.Warm <= 0 {
		t.Warm = models.DefaultWarmThreshold
	}
	return t
}

// RefreshPeriod returns the tier's refresh cadence and whether the tier is
// refreshed at all.
func RefreshPeriod(tier models.Tier) (time.Duration, bool) {
	period, ok := refreshPeriods[tier]
	return period, ok
}

// TierAtIngest assigns the initial tier from the item's age alone.
func TierAtIngest(age time.Duration) models.Tier {
	switch {
	case age < UltraHotMaxAge:
		return models.TierUltraHot
	case age < HotMaxAge:
		return models.TierHot
	case age < WarmMaxAge:
		return models.TierWarm
	default:
		return models.TierCold
	}
}

// NextTier computes the post-snapshot tier. Demotion follows age; promotion
// lifts the item at most one tier above the age-derived one when the
// observed velocity clears that tier's threshold, while the item is still
// inside its current age window. Cold is terminal. Two consecutive
// zero-delta snapshots drop an ultra_hot item straight to warm.
func NextTier(current models.Tier, age time.Duration, velocity float64, zeroStreak int, t Thresholds) models.Tier {
	if current == models.TierCold || age >= WarmMaxAge {
		return models.TierCold
	}
	if current == models.TierUltraHot && zeroStreak >= 2 {
		return models.TierWarm
	}

	tier := TierAtIngest(age)
	switch tier {
	case models.TierHot:
		if velocity >= t.UltraHot {
			tier = models.TierUltraHot
		}
	case models.TierWarm:
		if velocity >= t.Hot {
			tier = models.TierHot
		}
	}
	return tier
}
