// Package aggregates exposes the materialized read views of a zone: author
// leaderboards per trailing window, headline overview numbers and the
// location distribution. Writes go through the store's refresh; this
// package owns the read API and period validation.
package aggregates

import (
	"context"
	"fmt"
	"time"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/store"
)

// DefaultPeriod is used when a reader does not name a window.
const DefaultPeriod = "24h"

// Service reads the per-zone aggregate tables.
type Service struct {
	store *store.Store
}

// New builds the aggregate reader.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// ValidPeriod reports whether the period names a materialized window.
func ValidPeriod(period string) bool {
	for _, p := range store.AggPeriods {
		if p == period {
			return true
		}
	}
	return false
}

func normalizePeriod(period string) (string, error) {
	if period == "" {
		return DefaultPeriod, nil
	}
	if !ValidPeriod(period) {
		return "", gerrors.New(gerrors.ErrorTypeValidation, "read_aggregates", "",
			fmt.Errorf("unknown period %q, expected one of %v", period, store.AggPeriods))
	}
	return period, nil
}

// TopAuthors returns the ranked author leaderboard of a zone for one window.
func (s *Service) TopAuthors(ctx context.Context, zoneID, period string, limit int) ([]store.TopAuthor, error) {
	period, err := normalizePeriod(period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.TopAuthors(ctx, zoneID, period, limit)
}

// Overview returns the headline numbers of a zone for one window. A zone
// that has never been refreshed yields a zero-valued overview rather than
// a lookup error.
func (s *Service) Overview(ctx context.Context, zoneID, period string) (store.ZoneOverview, error) {
	period, err := normalizePeriod(period)
	if err != nil {
		return store.ZoneOverview{}, err
	}
	overview, err := s.store.GetZoneOverview(ctx, zoneID, period)
	if err != nil {
		return store.ZoneOverview{}, err
	}
	if overview == nil {
		return store.ZoneOverview{ZoneID: zoneID, Period: period}, nil
	}
	return *overview, nil
}

// Locations returns the distinct author locations of a zone.
func (s *Service) Locations(ctx context.Context, zoneID string, limit int) ([]store.ZoneLocation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ZoneLocations(ctx, zoneID, limit)
}

// Refresh rebuilds every aggregate table of one zone.
func (s *Service) Refresh(ctx context.Context, zoneID string, topN int) error {
	if topN <= 0 {
		topN = 20
	}
	return s.store.RefreshZoneAggregates(ctx, zoneID, topN, time.Now())
}
