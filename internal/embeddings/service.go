package embeddings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/store"
	"github.com/gorgonehq/gorgone/internal/telemetry"
)

// MaxBatchSize is the embedding provider's input ceiling per request.
const MaxBatchSize = 96

// Service vectorizes items through the content-addressed cache.
type Service struct {
	store    *store.Store
	embedder Embedder
	model    string
}

// NewService builds the embedding service. model tags cached vectors.
func NewService(s *store.Store, embedder Embedder, model string) *Service {
	return &Service{store: s, embedder: embedder, model: model}
}

// Result summarizes one EnsureEmbeddings call.
type Result struct {
	Total             int     `json:"total"`
	AlreadyVectorized int     `json:"alreadyVectorized"`
	NewlyVectorized   int     `json:"newlyVectorized"`
	Failed            int     `json:"failed"`
	CacheHitRate      float64 `json:"cacheHitRate"`
}

type pendingItem struct {
	id   string
	hash string
	text string
}

// EnsureEmbeddings vectorizes the given items. Already-vectorized items are
// no-ops; cache hits copy the stored vector; misses are embedded in batches.
// Failures are per item and never abort the rest of the call.
func (s *Service) EnsureEmbeddings(ctx context.Context, itemIDs []string) (Result, error) {
	result := Result{Total: len(itemIDs)}
	if len(itemIDs) == 0 {
		return result, nil
	}

	states, err := s.store.GetItemVectorStates(ctx, itemIDs)
	if err != nil {
		return result, err
	}
	known := make(map[string]store.ItemVectorState, len(states))
	for _, st := range states {
		known[st.ID] = st
	}

	handles := make(map[string]string)
	var misses []pendingItem
	var lookups, hits int

	for _, id := range itemIDs {
		st, ok := known[id]
		if !ok {
			log.Warn().Str("itemId", id).Msg("Vectorize requested for unknown item")
			result.Failed++
			continue
		}
		if st.Vectorized {
			result.AlreadyVectorized++
			continue
		}

		hash, err := s.contentHashFor(ctx, st, handles)
		if err != nil {
			log.Warn().Err(err).Str("itemId", id).Msg("Content hash failed")
			result.Failed++
			continue
		}

		lookups++
		cached, err := s.store.GetCachedEmbedding(ctx, hash)
		if err != nil {
			telemetry.Get().RecordEmbeddingLookup("error")
			result.Failed++
			continue
		}
		if cached != nil {
			telemetry.Get().RecordEmbeddingLookup("hit")
			hits++
			if err := s.store.MarkItemVectorized(ctx, id, hash, cached.Vector, time.Now()); err != nil {
				result.Failed++
				continue
			}
			result.NewlyVectorized++
			continue
		}
		telemetry.Get().RecordEmbeddingLookup("miss")
		misses = append(misses, pendingItem{id: id, hash: hash, text: st.Text})
	}

	for start := 0; start < len(misses); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(misses) {
			end = len(misses)
		}
		s.embedBatch(ctx, misses[start:end], &result)
	}

	if lookups > 0 {
		result.CacheHitRate = float64(hits) / float64(lookups)
	}
	return result, nil
}

func (s *Service) embedBatch(ctx context.Context, batch []pendingItem, result *Result) {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		log.Warn().Err(err).Int("batch", len(batch)).Msg("Embedding batch failed")
		result.Failed += len(batch)
		return
	}

	for i, p := range batch {
		encoded, err := json.Marshal(vectors[i])
		if err != nil {
			result.Failed++
			continue
		}
		vector := string(encoded)
		if err := s.store.PutCachedEmbedding(ctx, p.hash, vector, s.model); err != nil {
			log.Warn().Err(err).Str("itemId", p.id).Msg("Embedding cache write failed")
		}
		if err := s.store.MarkItemVectorized(ctx, p.id, p.hash, vector, time.Now()); err != nil {
			result.Failed++
			continue
		}
		result.NewlyVectorized++
	}
}

// contentHashFor assembles the hash inputs of one item, memoizing author
// handle lookups across the call.
func (s *Service) contentHashFor(ctx context.Context, st store.ItemVectorState, handles map[string]string) (string, error) {
	if st.ContentHash != "" {
		return st.ContentHash, nil
	}

	handle := ""
	if st.AuthorID != "" {
		if cached, ok := handles[st.AuthorID]; ok {
			handle = cached
		} else {
			author, err := s.store.GetAuthor(ctx, st.AuthorID)
			if err != nil {
				return "", err
			}
			if author != nil {
				handle = author.Handle
			}
			handles[st.AuthorID] = handle
		}
	}

	entities, err := s.store.ListEntities(ctx, st.ID)
	if err != nil {
		return "", err
	}
	var hashtags []string
	for _, e := range entities {
		if e.Kind == models.EntityHashtag {
			hashtags = append(hashtags, e.NormalizedValue)
		}
	}
	return ContentHash(st.Text, handle, hashtags), nil
}
