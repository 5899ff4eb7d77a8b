package domain_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage/memory"
)

func TestCacheKey(t *testing.T) {
	base := domain.JobPosting{Description: "Build Go services", RoleTitle: "Engineer", CompanyName: "Acme"}

	t.Run("case and whitespace do not matter", func(t *testing.T) {
		noisy := domain.JobPosting{
			Description: "  build   GO\tservices\n",
			RoleTitle:   "ENGINEER",
			CompanyName: " acme ",
		}
		require.Equal(t, domain.CacheKey(base), domain.CacheKey(noisy))
	})

	t.Run("fields do not bleed into each other", func(t *testing.T) {
		shifted := domain.JobPosting{Description: "Build Go services Engineer", CompanyName: "Acme"}
		require.NotEqual(t, domain.CacheKey(base), domain.CacheKey(shifted))
	})

	require.Len(t, domain.CacheKey(base), 64)
}

func TestEmbeddingCache_GetOrCompute(t *testing.T) {
	ctx := context.Background()
	cache := domain.NewEmbeddingCache(memory.NewStore(), 3)
	posting := domain.JobPosting{Description: "Go engineer", CompanyName: "Acme"}

	var computes atomic.Int32
	compute := func(context.Context) ([]float64, error) {
		computes.Add(1)
		return []float64{1, 2, 3}, nil
	}

	vector, hit, err := cache.GetOrCompute(ctx, posting, compute)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, []float64{1, 2, 3}, vector)

	vector, hit, err = cache.GetOrCompute(ctx, posting, compute)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []float64{1, 2, 3}, vector)
	require.Equal(t, int32(1), computes.Load())

	t.Run("compute errors are returned and nothing is stored", func(t *testing.T) {
		other := domain.JobPosting{Description: "Rust engineer"}
		_, _, err := cache.GetOrCompute(ctx, other, func(context.Context) ([]float64, error) {
			return nil, errors.New("provider down")
		})
		require.ErrorContains(t, err, "provider down")

		_, err = cache.Get(ctx, domain.CacheKey(other))
		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("wrong dimension is rejected", func(t *testing.T) {
		other := domain.JobPosting{Description: "Python engineer"}
		_, _, err := cache.GetOrCompute(ctx, other, func(context.Context) ([]float64, error) {
			return []float64{1}, nil
		})
		require.ErrorIs(t, err, domain.ErrInvalidEmbedding)
	})
}

func TestEmbeddingCache_CancelledCallerDoesNotAbortSharedCompute(t *testing.T) {
	cache := domain.NewEmbeddingCache(memory.NewStore(), 0)
	posting := domain.JobPosting{Description: "SRE", CompanyName: "Hooli"}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	compute := func(ctx context.Context) ([]float64, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return []float64{4, 2}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := cache.GetOrCompute(leaderCtx, posting, compute)
		leaderErr <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	type outcome struct {
		vector []float64
		err    error
	}
	follower := make(chan outcome, 1)
	go func() {
		vector, _, err := cache.GetOrCompute(context.Background(), posting, compute)
		follower <- outcome{vector: vector, err: err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	got := <-follower
	require.NoError(t, got.err)
	require.Equal(t, []float64{4, 2}, got.vector)

	require.Eventually(t, func() bool {
		_, err := cache.Get(context.Background(), domain.CacheKey(posting))
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestEmbeddingCache_ConcurrentMissesConverge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := domain.NewEmbeddingCache(store, 0)
	posting := domain.JobPosting{Description: "Platform engineer", CompanyName: "Initech"}

	var computes atomic.Int32
	const callers = 16
	results := make(chan []float64, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vector, _, err := cache.GetOrCompute(ctx, posting, func(context.Context) ([]float64, error) {
				n := computes.Add(1)
				return []float64{float64(n)}, nil
			})
			results <- vector
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := store.GetEmbedding(ctx, domain.CacheKey(posting))
	require.NoError(t, err)
	for vector := range results {
		require.Equal(t, stored.Embedding, vector)
	}
}

func TestEmbeddingCache_PutKeepsFirstWriter(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	// Two caches over one store behave like two processes.
	first := domain.NewEmbeddingCache(store, 0)
	second := domain.NewEmbeddingCache(store, 0)

	v1, err := first.Put(ctx, "k", []float64{1, 1}, domain.EmbeddingMetadata{CompanyName: "Acme"})
	require.NoError(t, err)
	v2, err := second.Put(ctx, "k", []float64{2, 2}, domain.EmbeddingMetadata{})
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, []float64{1, 1}, v2)

	_, err = first.Put(ctx, "", []float64{1}, domain.EmbeddingMetadata{})
	require.Error(t, err)
	_, err = first.Put(ctx, "k2", nil, domain.EmbeddingMetadata{})
	require.ErrorIs(t, err, domain.ErrInvalidEmbedding)
}

func TestEmbeddingCache_Stats(t *testing.T) {
	ctx := context.Background()
	cache := domain.NewEmbeddingCache(memory.NewStore(), 0)

	_, err := cache.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrCacheMiss)

	for _, company := range []string{"Acme", "acme ", "Globex"} {
		key := domain.CacheKey(domain.JobPosting{Description: "role at " + company, CompanyName: company})
		_, err := cache.Put(ctx, key, []float64{1}, domain.EmbeddingMetadata{CompanyName: company})
		require.NoError(t, err)
	}
	hot := domain.CacheKey(domain.JobPosting{Description: "role at Globex", CompanyName: "Globex"})
	for range 2 {
		_, err := cache.Get(ctx, hot)
		require.NoError(t, err)
	}

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalEmbeddings, "Acme and acme normalize to one entry")
	require.Equal(t, 2, stats.UniqueCompanies)
	require.Equal(t, int64(2), stats.TotalAccessCount)
	require.Equal(t, int64(2), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	require.Equal(t, "Globex", stats.MostAccessed[0].CompanyName)
	require.Len(t, stats.Recent, 2)
	for _, entry := range stats.MostAccessed {
		require.Nil(t, entry.Embedding)
	}
}
