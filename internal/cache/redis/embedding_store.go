package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/observability"
	"github.com/davidbz/conductor/internal/storage"
)

const (
	fieldEmbedding    = "embedding"
	fieldRoleTitle    = "role_title"
	fieldCompanyName  = "company_name"
	fieldAccessCount  = "access_count"
	fieldCreatedAt    = "created_at"
	fieldLastAccessed = "last_accessed_at"
)

// insertScript claims the hash with HSETNX on the vector field; only the claiming writer
// fills in the metadata, so every concurrent writer converges on the first vector.
//
//nolint:gochecknoglobals // Scripts are immutable and cache their SHA
var insertScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'embedding', ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1],
	'role_title', ARGV[2],
	'company_name', ARGV[3],
	'access_count', '0',
	'created_at', ARGV[4],
	'last_accessed_at', ARGV[4])
redis.call('SADD', KEYS[2], ARGV[5])
return 1
`)

// touchScript records an access and returns the whole entry, or nil for a missing key.
//
//nolint:gochecknoglobals // Scripts are immutable and cache their SHA
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
redis.call('HINCRBY', KEYS[1], 'access_count', '1')
redis.call('HSET', KEYS[1], 'last_accessed_at', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

// EmbeddingStore keeps content-addressed embeddings in Redis hashes, shared by every
// process pointed at the same server.
type EmbeddingStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ domain.EmbeddingStore = (*EmbeddingStore)(nil)

// Option configures an EmbeddingStore.
type Option func(*EmbeddingStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *EmbeddingStore) {
		s.now = now
	}
}

// NewClient connects to the Redis server at url and verifies it answers.
func NewClient(ctx context.Context, url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewEmbeddingStore creates a store whose keys all start with prefix.
func NewEmbeddingStore(client *redis.Client, prefix string, opts ...Option) *EmbeddingStore {
	s := &EmbeddingStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EmbeddingStore) entryKey(contentHash string) string {
	return s.prefix + "embedding:" + contentHash
}

func (s *EmbeddingStore) indexKey() string {
	return s.prefix + "embeddings"
}

// GetEmbedding implements domain.EmbeddingStore.
func (s *EmbeddingStore) GetEmbedding(ctx context.Context, contentHash string) (domain.JobEmbeddingCacheEntry, error) {
	now := strconv.FormatInt(s.now().UTC().UnixNano(), 10)

	raw, err := touchScript.Run(ctx, s.client, []string{s.entryKey(contentHash)}, now).StringSlice()
	if errors.Is(err, redis.Nil) {
		return domain.JobEmbeddingCacheEntry{}, domain.ErrCacheMiss
	}
	if err != nil {
		observability.FromContext(ctx).Error("redis embedding lookup failed",
			observability.String("content_hash", contentHash),
			observability.Error(err))
		return domain.JobEmbeddingCacheEntry{}, fmt.Errorf("failed to read embedding: %w", err)
	}

	return parseEntry(contentHash, pairs(raw), true)
}

// PutEmbeddingIfAbsent implements domain.EmbeddingStore.
func (s *EmbeddingStore) PutEmbeddingIfAbsent(
	ctx context.Context,
	entry domain.JobEmbeddingCacheEntry,
) (domain.JobEmbeddingCacheEntry, bool, error) {
	key := s.entryKey(entry.ContentHash)
	now := strconv.FormatInt(s.now().UTC().UnixNano(), 10)

	created, err := insertScript.Run(ctx, s.client, []string{key, s.indexKey()},
		storage.EncodeVector(entry.Embedding), entry.RoleTitle, entry.CompanyName, now, entry.ContentHash,
	).Int()
	if err != nil {
		return domain.JobEmbeddingCacheEntry{}, false, fmt.Errorf("failed to insert embedding: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.JobEmbeddingCacheEntry{}, false, fmt.Errorf("failed to read stored embedding: %w", err)
	}

	stored, err := parseEntry(entry.ContentHash, fields, true)
	if err != nil {
		return domain.JobEmbeddingCacheEntry{}, false, err
	}
	return stored, created == 1, nil
}

// ListEmbeddings implements domain.EmbeddingStore.
func (s *EmbeddingStore) ListEmbeddings(ctx context.Context) ([]domain.JobEmbeddingCacheEntry, error) {
	hashes, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	sort.Strings(hashes)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(hashes))
	for i, hash := range hashes {
		cmds[i] = pipe.HMGet(ctx, s.entryKey(hash),
			fieldRoleTitle, fieldCompanyName, fieldAccessCount, fieldCreatedAt, fieldLastAccessed)
	}
	if len(hashes) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to read embedding metadata: %w", err)
		}
	}

	entries := make([]domain.JobEmbeddingCacheEntry, 0, len(hashes))
	for i, cmd := range cmds {
		values := cmd.Val()
		fields := map[string]string{}
		for j, name := range []string{fieldRoleTitle, fieldCompanyName, fieldAccessCount, fieldCreatedAt, fieldLastAccessed} {
			if v, ok := values[j].(string); ok {
				fields[name] = v
			}
		}
		if len(fields) == 0 {
			continue
		}
		entry, err := parseEntry(hashes[i], fields, false)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func pairs(raw []string) map[string]string {
	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		fields[raw[i]] = raw[i+1]
	}
	return fields
}

func parseEntry(contentHash string, fields map[string]string, withVector bool) (domain.JobEmbeddingCacheEntry, error) {
	entry := domain.JobEmbeddingCacheEntry{
		ContentHash: contentHash,
		RoleTitle:   fields[fieldRoleTitle],
		CompanyName: fields[fieldCompanyName],
	}

	if withVector {
		vector, err := storage.DecodeVector([]byte(fields[fieldEmbedding]))
		if err != nil {
			return domain.JobEmbeddingCacheEntry{}, fmt.Errorf("failed to decode embedding %s: %w", contentHash, err)
		}
		entry.Embedding = vector
	}

	if v := fields[fieldAccessCount]; v != "" {
		count, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.JobEmbeddingCacheEntry{}, fmt.Errorf("invalid access count for %s: %w", contentHash, err)
		}
		entry.AccessCount = count
	}
	entry.CreatedAt = parseNanos(fields[fieldCreatedAt])
	entry.LastAccessedAt = parseNanos(fields[fieldLastAccessed])

	return entry, nil
}

func parseNanos(v string) time.Time {
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
