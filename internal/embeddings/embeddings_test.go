package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/store"
)

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash("Hello   World", "Alice", []string{"#Go", "news"})
	b := ContentHash("hello world", "alice", []string{"news", "go"})
	if a != b {
		t.Fatal("hash should ignore case, whitespace runs, '#' and tag order")
	}

	c := ContentHash("hello world", "bob", []string{"news", "go"})
	if a == c {
		t.Fatal("different author must hash differently")
	}
	d := ContentHash("hello world!", "alice", []string{"news", "go"})
	if a == d {
		t.Fatal("different text must hash differently")
	}
}

type fakeEmbedder struct {
	calls   int
	batches []int
	fail    bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls++
	f.batches = append(f.batches, len(texts))
	if f.fail {
		return nil, fmt.Errorf("embedding provider down")
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(len(texts[i])), 0.5}
	}
	return out, nil
}

func newTestService(t *testing.T, embedder Embedder) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "embed.db"))
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
	return NewService(s, embedder, "test-embedding-model"), s
}

func seedItem(t *testing.T, s *store.Store, providerItemID, text string) string {
	t.Helper()
	res, err := s.InsertItemIfAbsent(context.Background(), "zone-1", models.CanonicalItem{
		Provider:        models.ProviderTweet,
		ProviderItemID:  providerItemID,
		Text:            text,
		CreatedAtSource: time.Now(),
		Hashtags:        []string{"go"},
	}, "")
	if err != nil {
		t.Fatalf("item seed failed: %v", err)
	}
	return res.ID
}

func TestEnsureEmbeddingsVectorizesAndCaches(t *testing.T) {
	embedder := &fakeEmbedder{}
	svc, s := newTestService(t, embedder)
	ctx := context.Background()

	id1 := seedItem(t, s, "tw-1", "the same text")
	id2 := seedItem(t, s, "tw-2", "different text entirely")

	result, err := svc.EnsureEmbeddings(ctx, []string{id1, id2})
	if err != nil {
		t.Fatalf("EnsureEmbeddings failed: %v", err)
	}
	if result.NewlyVectorized != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.CacheHitRate != 0 {
		t.Errorf("cache hit rate = %v on first pass, want 0", result.CacheHitRate)
	}
	if embedder.calls != 1 {
		t.Errorf("embedder calls = %d, want 1 batch", embedder.calls)
	}

	// Same content on a new item hits the cache, no provider call.
	id3 := seedItem(t, s, "tw-3", "the same text")
	result, err = svc.EnsureEmbeddings(ctx, []string{id3})
	if err != nil {
		t.Fatalf("second EnsureEmbeddings failed: %v", err)
	}
	if result.NewlyVectorized != 1 || result.CacheHitRate != 1.0 {
		t.Fatalf("result = %+v, want cache hit", result)
	}
	if embedder.calls != 1 {
		t.Errorf("embedder calls = %d, want no new call on cache hit", embedder.calls)
	}
}

func TestEnsureEmbeddingsIdempotent(t *testing.T) {
	embedder := &fakeEmbedder{}
	svc, s := newTestService(t, embedder)
	ctx := context.Background()

	id := seedItem(t, s, "tw-1", "some text")
	if _, err := svc.EnsureEmbeddings(ctx, []string{id}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	result, err := svc.EnsureEmbeddings(ctx, []string{id})
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if result.AlreadyVectorized != 1 || result.NewlyVectorized != 0 {
		t.Fatalf("result = %+v, want no-op", result)
	}
	if embedder.calls != 1 {
		t.Errorf("embedder calls = %d after repeat, want 1", embedder.calls)
	}
}

func TestEnsureEmbeddingsProviderFailureIsPerBatch(t *testing.T) {
	embedder := &fakeEmbedder{fail: true}
	svc, s := newTestService(t, embedder)
	ctx := context.Background()

	id := seedItem(t, s, "tw-1", "some text")
	result, err := svc.EnsureEmbeddings(ctx, []string{id})
	if err != nil {
		t.Fatalf("EnsureEmbeddings should not propagate provider failure: %v", err)
	}
	if result.Failed != 1 || result.NewlyVectorized != 0 {
		t.Fatalf("result = %+v", result)
	}

	// Failure leaves the item retryable.
	embedder.fail = false
	result, err = svc.EnsureEmbeddings(ctx, []string{id})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.NewlyVectorized != 1 {
		t.Fatalf("retry result = %+v", result)
	}
}

func TestEnsureEmbeddingsBatchesLargeInputs(t *testing.T) {
	embedder := &fakeEmbedder{}
	svc, s := newTestService(t, embedder)
	ctx := context.Background()

	var ids []string
	for i := 0; i < MaxBatchSize+10; i++ {
		ids = append(ids, seedItem(t, s, fmt.Sprintf("tw-%d", i), fmt.Sprintf("unique text %d", i)))
	}

	result, err := svc.EnsureEmbeddings(ctx, ids)
	if err != nil {
		t.Fatalf("EnsureEmbeddings failed: %v", err)
	}
	if result.NewlyVectorized != MaxBatchSize+10 {
		t.Fatalf("result = %+v", result)
	}
	if len(embedder.batches) != 2 || embedder.batches[0] != MaxBatchSize || embedder.batches[1] != 10 {
		t.Fatalf("batches = %v, want [%d 10]", embedder.batches, MaxBatchSize)
	}
}

func TestEnsureEmbeddingsUnknownItemCountsFailed(t *testing.T) {
	svc, _ := newTestService(t, &fakeEmbedder{})
	result, err := svc.EnsureEmbeddings(context.Background(), []string{"no-such-item"})
	if err != nil {
		t.Fatalf("EnsureEmbeddings failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("result = %+v", result)
	}
}
