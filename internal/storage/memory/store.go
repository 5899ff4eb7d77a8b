// Package memory implements every domain store in process memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage"
)

var (
	_ domain.BreakerStateStore  = (*Store)(nil)
	_ domain.MetricStore        = (*Store)(nil)
	_ domain.CostStore          = (*Store)(nil)
	_ domain.EmbeddingStore     = (*Store)(nil)
	_ domain.ArtifactChunkStore = (*Store)(nil)
)

type costKey struct {
	model string
	user  string
	date  string
}

type chunkIndexKey struct {
	artifact string
	index    int
}

type chunkHashKey struct {
	artifact string
	hash     string
}

// Store is a thread-safe in-memory implementation of the breaker, metric, cost, embedding
// and artifact chunk stores. Vectors are copied on the way in and out.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	breakers   map[string]domain.CircuitBreakerState
	metrics    []domain.PerformanceMetric
	costs      map[costKey]domain.CostRecord
	embeddings map[string]domain.JobEmbeddingCacheEntry
	chunks     map[chunkIndexKey]domain.ArtifactChunk
	chunkIndex map[chunkHashKey]chunkIndexKey
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:        time.Now,
		breakers:   make(map[string]domain.CircuitBreakerState),
		costs:      make(map[costKey]domain.CostRecord),
		embeddings: make(map[string]domain.JobEmbeddingCacheEntry),
		chunks:     make(map[chunkIndexKey]domain.ArtifactChunk),
		chunkIndex: make(map[chunkHashKey]chunkIndexKey),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadBreakerState implements domain.BreakerStateStore.
func (s *Store) LoadBreakerState(_ context.Context, modelID string) (domain.CircuitBreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.breakers[modelID]
	if !ok {
		return domain.CircuitBreakerState{}, domain.ErrStateNotFound
	}
	return copyBreakerState(state), nil
}

// SaveBreakerState implements domain.BreakerStateStore.
func (s *Store) SaveBreakerState(_ context.Context, state domain.CircuitBreakerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.breakers[state.ModelID] = copyBreakerState(state)
	return nil
}

// ListBreakerStates implements domain.BreakerStateStore.
func (s *Store) ListBreakerStates(_ context.Context) ([]domain.CircuitBreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]domain.CircuitBreakerState, 0, len(s.breakers))
	for _, state := range s.breakers {
		states = append(states, copyBreakerState(state))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ModelID < states[j].ModelID })
	return states, nil
}

// AppendMetric implements domain.MetricStore.
func (s *Store) AppendMetric(_ context.Context, metric domain.PerformanceMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, copyMetric(metric))
	return nil
}

// ListMetrics implements domain.MetricStore.
func (s *Store) ListMetrics(
	_ context.Context,
	filter domain.MetricFilter,
	page domain.Page,
) ([]domain.PerformanceMetric, int, error) {
	matched := s.matchMetrics(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return storage.Paginate(matched, page), len(matched), nil
}

// SummarizeMetrics implements domain.MetricStore.
func (s *Store) SummarizeMetrics(_ context.Context, filter domain.MetricFilter) (domain.MetricSummary, error) {
	return domain.SummarizeMetrics(s.matchMetrics(filter)), nil
}

func (s *Store) matchMetrics(filter domain.MetricFilter) []domain.PerformanceMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.PerformanceMetric
	for _, m := range s.metrics {
		if filter.Matches(m) {
			matched = append(matched, copyMetric(m))
		}
	}
	return matched
}

// AddCost implements domain.CostStore.
func (s *Store) AddCost(_ context.Context, delta domain.CostDelta) (domain.CostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := costKey{model: delta.ModelName, user: delta.UserID, date: delta.Date}
	record, ok := s.costs[key]
	if !ok {
		record = domain.CostRecord{
			ModelName: delta.ModelName,
			UserID:    delta.UserID,
			Date:      delta.Date,
		}
	}
	record.TotalCostUSD += delta.CostUSD
	record.GenerationCount++
	record.TotalTokensUsed += delta.Tokens
	record.UpdatedAt = s.now().UTC()

	s.costs[key] = record
	return record, nil
}

// ListCosts implements domain.CostStore.
func (s *Store) ListCosts(
	_ context.Context,
	filter domain.CostFilter,
	page domain.Page,
) ([]domain.CostRecord, int, error) {
	s.mu.RLock()
	var matched []domain.CostRecord
	for _, r := range s.costs {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.ModelName != b.ModelName {
			return a.ModelName < b.ModelName
		}
		return a.UserID < b.UserID
	})
	return storage.Paginate(matched, page), len(matched), nil
}

// GetEmbedding implements domain.EmbeddingStore.
func (s *Store) GetEmbedding(_ context.Context, contentHash string) (domain.JobEmbeddingCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.embeddings[contentHash]
	if !ok {
		return domain.JobEmbeddingCacheEntry{}, domain.ErrCacheMiss
	}
	entry.AccessCount++
	entry.LastAccessedAt = s.now().UTC()
	s.embeddings[contentHash] = entry

	entry.Embedding = storage.CopyVector(entry.Embedding)
	return entry, nil
}

// PutEmbeddingIfAbsent implements domain.EmbeddingStore.
func (s *Store) PutEmbeddingIfAbsent(
	_ context.Context,
	entry domain.JobEmbeddingCacheEntry,
) (domain.JobEmbeddingCacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.embeddings[entry.ContentHash]; ok {
		existing.Embedding = storage.CopyVector(existing.Embedding)
		return existing, false, nil
	}

	now := s.now().UTC()
	entry.Embedding = storage.CopyVector(entry.Embedding)
	entry.AccessCount = 0
	entry.CreatedAt = now
	entry.LastAccessedAt = now
	s.embeddings[entry.ContentHash] = entry

	entry.Embedding = storage.CopyVector(entry.Embedding)
	return entry, true, nil
}

// ListEmbeddings implements domain.EmbeddingStore.
func (s *Store) ListEmbeddings(_ context.Context) ([]domain.JobEmbeddingCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.JobEmbeddingCacheEntry, 0, len(s.embeddings))
	for _, entry := range s.embeddings {
		entry.Embedding = nil
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ContentHash < entries[j].ContentHash })
	return entries, nil
}

// FindChunkByHash implements domain.ArtifactChunkStore.
func (s *Store) FindChunkByHash(_ context.Context, artifactID, contentHash string) (domain.ArtifactChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.chunkIndex[chunkHashKey{artifact: artifactID, hash: contentHash}]
	if !ok {
		return domain.ArtifactChunk{}, domain.ErrCacheMiss
	}
	return copyChunk(s.chunks[key]), nil
}

// PutChunkIfAbsent implements domain.ArtifactChunkStore.
func (s *Store) PutChunkIfAbsent(_ context.Context, chunk domain.ArtifactChunk) (domain.ArtifactChunk, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	indexKey := chunkIndexKey{artifact: chunk.ArtifactID, index: chunk.ChunkIndex}
	hashKey := chunkHashKey{artifact: chunk.ArtifactID, hash: chunk.ContentHash}

	if existing, ok := s.chunks[indexKey]; ok {
		return copyChunk(existing), false, nil
	}
	if key, ok := s.chunkIndex[hashKey]; ok {
		return copyChunk(s.chunks[key]), false, nil
	}

	chunk = copyChunk(chunk)
	chunk.CreatedAt = s.now().UTC()
	s.chunks[indexKey] = chunk
	s.chunkIndex[hashKey] = indexKey
	return copyChunk(chunk), true, nil
}

// ListChunks implements domain.ArtifactChunkStore.
func (s *Store) ListChunks(_ context.Context, artifactID string) ([]domain.ArtifactChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []domain.ArtifactChunk
	for key, chunk := range s.chunks {
		if key.artifact == artifactID {
			chunks = append(chunks, copyChunk(chunk))
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

func copyBreakerState(state domain.CircuitBreakerState) domain.CircuitBreakerState {
	if state.LastFailure != nil {
		t := *state.LastFailure
		state.LastFailure = &t
	}
	return state
}

func copyMetric(m domain.PerformanceMetric) domain.PerformanceMetric {
	if m.QualityScore != nil {
		q := *m.QualityScore
		m.QualityScore = &q
	}
	if m.Metadata != nil {
		meta := make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = v
		}
		m.Metadata = meta
	}
	return m
}

func copyChunk(c domain.ArtifactChunk) domain.ArtifactChunk {
	c.Embedding = storage.CopyVector(c.Embedding)
	return c
}
