package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/davidbz/conductor/internal/observability"
)

const (
	cacheStatsListSize = 5
	keySeparator       = "\x1f"
)

// EmbeddingCache is a content-addressed cache of job-description embeddings.
type EmbeddingCache struct {
	store     EmbeddingStore
	dimension int
	hits      atomic.Int64
	misses    atomic.Int64
	inflight  singleflight.Group
}

// NewEmbeddingCache creates a cache over store. A positive dimension enforces vector length.
func NewEmbeddingCache(store EmbeddingStore, dimension int) *EmbeddingCache {
	return &EmbeddingCache{
		store:     store,
		dimension: dimension,
	}
}

// NormalizeText lower-cases s and collapses every whitespace run to a single space.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CacheKey is the deterministic content hash of a posting. Postings that differ only in
// case or incidental whitespace share a key.
func CacheKey(posting JobPosting) string {
	h := sha256.New()
	h.Write([]byte(NormalizeText(posting.Description)))
	h.Write([]byte(keySeparator))
	h.Write([]byte(NormalizeText(posting.RoleTitle)))
	h.Write([]byte(keySeparator))
	h.Write([]byte(NormalizeText(posting.CompanyName)))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached vector for key. A hit increments the entry's access count.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float64, error) {
	entry, err := c.store.GetEmbedding(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		c.misses.Add(1)
		observability.RecordCacheLookup(ctx, false)
		observability.FromContext(ctx).Debug("embedding cache miss",
			observability.String("content_hash", key))
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	c.hits.Add(1)
	observability.RecordCacheLookup(ctx, true)
	observability.FromContext(ctx).Debug("embedding cache hit",
		observability.String("content_hash", key),
		observability.Int64("access_count", entry.AccessCount))

	return entry.Embedding, nil
}

// Put stores vector under key unless an entry exists. It returns the canonical stored
// vector, which is the earlier writer's when two callers race on the same key.
func (c *EmbeddingCache) Put(
	ctx context.Context,
	key string,
	vector []float64,
	meta EmbeddingMetadata,
) ([]float64, error) {
	if key == "" {
		return nil, errors.New("cache key cannot be empty")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: vector cannot be empty", ErrInvalidEmbedding)
	}
	if c.dimension > 0 && len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrInvalidEmbedding, c.dimension, len(vector))
	}

	stored, created, err := c.store.PutEmbeddingIfAbsent(ctx, JobEmbeddingCacheEntry{
		ContentHash: key,
		RoleTitle:   meta.RoleTitle,
		CompanyName: meta.CompanyName,
		Embedding:   vector,
	})
	if err != nil {
		observability.FromContext(ctx).Error("failed to store embedding",
			observability.String("content_hash", key),
			observability.Error(err))
		return nil, fmt.Errorf("failed to store embedding: %w", err)
	}

	if !created {
		observability.FromContext(ctx).Debug("embedding already cached, using stored vector",
			observability.String("content_hash", key))
	}

	return stored.Embedding, nil
}

// ComputeFunc produces an embedding on cache miss.
type ComputeFunc func(ctx context.Context) ([]float64, error)

// GetOrCompute returns the cached vector for posting, or computes and stores it. Concurrent
// misses for one key in this process share a single compute; across processes the store's
// uniqueness on the hash converges every writer on one vector.
func (c *EmbeddingCache) GetOrCompute(
	ctx context.Context,
	posting JobPosting,
	compute ComputeFunc,
) ([]float64, bool, error) {
	key := CacheKey(posting)

	vector, err := c.Get(ctx, key)
	if err == nil {
		return vector, true, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, false, err
	}

	// The shared compute outlives any single caller; each caller stops waiting on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		computed, computeErr := compute(shared)
		if computeErr != nil {
			return nil, computeErr
		}
		return c.Put(shared, key, computed, EmbeddingMetadata{
			RoleTitle:   posting.RoleTitle,
			CompanyName: posting.CompanyName,
		})
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		canonical, _ := res.Val.([]float64)
		return canonical, false, nil
	}
}

// Stats reports cache contents and the hit rate observed by this process.
func (c *EmbeddingCache) Stats(ctx context.Context) (CacheStats, error) {
	entries, err := c.store.ListEmbeddings(ctx)
	if err != nil {
		return CacheStats{}, fmt.Errorf("failed to list embeddings: %w", err)
	}

	stats := CacheStats{
		TotalEmbeddings: len(entries),
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
	}
	if lookups := stats.Hits + stats.Misses; lookups > 0 {
		stats.HitRate = float64(stats.Hits) / float64(lookups)
	}

	companies := make(map[string]struct{})
	for i := range entries {
		entries[i].Embedding = nil
		stats.TotalAccessCount += entries[i].AccessCount
		if name := NormalizeText(entries[i].CompanyName); name != "" {
			companies[name] = struct{}{}
		}
	}
	stats.UniqueCompanies = len(companies)

	mostAccessed := append([]JobEmbeddingCacheEntry(nil), entries...)
	sort.SliceStable(mostAccessed, func(i, j int) bool {
		return mostAccessed[i].AccessCount > mostAccessed[j].AccessCount
	})
	stats.MostAccessed = head(mostAccessed, cacheStatsListSize)

	recent := append([]JobEmbeddingCacheEntry(nil), entries...)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	stats.Recent = head(recent, cacheStatsListSize)

	return stats, nil
}

func head(entries []JobEmbeddingCacheEntry, n int) []JobEmbeddingCacheEntry {
	if len(entries) > n {
		return entries[:n]
	}
	return entries
}
