package scheduler

import (
	"math"
	"time"
)

// BackoffConfig shapes the retry delay of failed jobs.
type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Jitter     float64
	Max        time.Duration
}

// DefaultBackoff is the retry curve applied when no override is configured:
// 5s, 10s, 20s, ... capped at 10 minutes, with 20% jitter.
var DefaultBackoff = BackoffConfig{
	Initial:    5 * time.Second,
	Multiplier: 2,
	Jitter:     0.2,
	Max:        10 * time.Minute,
}

// NextDelay returns the delay before retry number attempt (1-based). rng is
// a uniform sample in [0,1) used to spread retries of jobs that failed
// together.
func (cfg BackoffConfig) NextDelay(attempt int, rng float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(cfg.Initial)
	if base <= 0 {
		base = float64(5 * time.Second)
	}
	multiplier := cfg.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt-1))
	if cfg.Jitter > 0 {
		j := cfg.Jitter
		if j > 1 {
			j = 1
		}
		delay = delay * (1 + (rng*2-1)*j)
	}
	if cfg.Max > 0 && delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}
	return time.Duration(delay)
}
