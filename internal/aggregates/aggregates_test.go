package aggregates

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "aggregates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.UpsertZone(context.Background(), models.Zone{
		ID: "zone-1", ClientID: "c-1", Settings: models.DefaultZoneSettings(), IsActive: true,
	}))
	return New(s), s
}

func seedItems(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	authorID, err := s.UpsertAuthor(ctx, models.CanonicalAuthor{
		Provider:       models.ProviderTweet,
		ProviderUserID: "u-1",
		Handle:         "ada",
		Location:       "Lyon",
	}, 1)
	require.NoError(t, err)

	for i, id := range []string{"tw-1", "tw-2"} {
		_, err := s.InsertItemIfAbsent(ctx, "zone-1", models.CanonicalItem{
			Provider:        models.ProviderTweet,
			ProviderItemID:  id,
			Text:            "post",
			CreatedAtSource: time.Now().Add(-time.Duration(i+1) * time.Hour),
			Counters:        models.Counters{View: 100, Like: 5},
		}, authorID)
		require.NoError(t, err)
	}
}

func TestValidPeriod(t *testing.T) {
	for _, p := range store.AggPeriods {
		assert.True(t, ValidPeriod(p), p)
	}
	assert.False(t, ValidPeriod("5h"))
	assert.False(t, ValidPeriod(""))
}

func TestReadersRejectUnknownPeriod(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.TopAuthors(ctx, "zone-1", "5h", 10)
	assert.Error(t, err)

	_, err = svc.Overview(ctx, "zone-1", "45m")
	assert.Error(t, err)
}

func TestReadersDefaultPeriod(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedItems(t, s)
	require.NoError(t, svc.Refresh(ctx, "zone-1", 10))

	overview, err := svc.Overview(ctx, "zone-1", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPeriod, overview.Period)
	assert.EqualValues(t, 2, overview.ItemCount)

	authors, err := svc.TopAuthors(ctx, "zone-1", "", 0)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Equal(t, "ada", authors[0].Handle)
	assert.EqualValues(t, 2, authors[0].ItemCount)
}

func TestOverviewBeforeFirstRefreshIsZeroValued(t *testing.T) {
	svc, _ := newTestService(t)

	overview, err := svc.Overview(context.Background(), "zone-1", "24h")
	require.NoError(t, err)
	assert.Equal(t, "zone-1", overview.ZoneID)
	assert.Zero(t, overview.ItemCount)
}

func TestLocations(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedItems(t, s)
	require.NoError(t, svc.Refresh(ctx, "zone-1", 10))

	locations, err := svc.Locations(ctx, "zone-1", 0)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "Lyon", locations[0].Location)
	assert.EqualValues(t, 1, locations[0].AuthorCount)
}
