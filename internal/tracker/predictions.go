package tracker

import (
	"encoding/json"
	"math"
	"time"

	"github.com/gorgonehq/gorgone/internal/models"
)

// PredictionModel tags the extrapolation algorithm.
const PredictionModel = "velocity_linear_v1"

// MetricForecast extrapolates one engagement metric 1, 2 and 3 hours out.
type MetricForecast struct {
	Current int64   `json:"current"`
	P1H     float64 `json:"p1h"`
	P2H     float64 `json:"p2h"`
	P3H     float64 `json:"p3h"`
}

// Predictions is the serialized prediction payload stored on an item.
type Predictions struct {
	Model      string                    `json:"model"`
	Confidence float64                   `json:"confidence"`
	ComputedAt time.Time                 `json:"computedAt"`
	Metrics    map[string]MetricForecast `json:"metrics"`
}

// ComputePredictions builds the velocity-linear forecast from an item's
// snapshot history (oldest first). It needs at least two snapshots.
func ComputePredictions(snapshots []models.EngagementSnapshot, now time.Time) (Predictions, bool) {
	if len(snapshots) < 2 {
		return Predictions{}, false
	}

	latest := snapshots[len(snapshots)-1].Counters
	p := Predictions{
		Model:      PredictionModel,
		Confidence: math.Min(0.9, float64(len(snapshots))/6),
		ComputedAt: now,
		Metrics:    make(map[string]MetricForecast, 5),
	}

	metrics := map[string]func(models.Counters) int64{
		"like":    func(c models.Counters) int64 { return c.Like },
		"share":   func(c models.Counters) int64 { return c.Share },
		"comment": func(c models.Counters) int64 { return c.Comment },
		"quote":   func(c models.Counters) int64 { return c.Quote },
		"view":    func(c models.Counters) int64 { return c.View },
	}
	for name, get := range metrics {
		velocity := pairwiseVelocity(snapshots, get)
		current := get(latest)
		p.Metrics[name] = MetricForecast{
			Current: current,
			P1H:     extrapolate(current, velocity, 1),
			P2H:     extrapolate(current, velocity, 2),
			P3H:     extrapolate(current, velocity, 3),
		}
	}
	return p, true
}

// pairwiseVelocity sums consecutive-pair deltas (clamped at zero) over the
// total elapsed hours.
func pairwiseVelocity(snapshots []models.EngagementSnapshot, get func(models.Counters) int64) float64 {
	var totalDelta float64
	var totalHours float64
	for i := 1; i < len(snapshots); i++ {
		delta := get(snapshots[i].Counters) - get(snapshots[i-1].Counters)
		if delta > 0 {
			totalDelta += float64(delta)
		}
		totalHours += snapshots[i].SnapshotAt.Sub(snapshots[i-1].SnapshotAt).Hours()
	}
	if totalHours < 1.0/60 {
		totalHours = 1.0 / 60
	}
	return totalDelta / totalHours
}

// extrapolate projects a metric h hours ahead, never below the current value.
func extrapolate(current int64, velocity float64, h float64) float64 {
	projected := float64(current) + velocity*h
	return math.Max(float64(current), projected)
}

// Encode serializes predictions for storage.
func (p Predictions) Encode() ([]byte, error) {
	return json.Marshal(p)
}
