package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage"
)

// GetEmbedding implements domain.EmbeddingStore. The access is recorded in the same
// statement that reads the row.
func (s *Store) GetEmbedding(ctx context.Context, contentHash string) (domain.JobEmbeddingCacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE job_embedding_cache
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE content_hash = ?
		RETURNING content_hash, role_title, company_name, embedding, access_count, created_at, last_accessed_at`,
		s.nowNanos(), contentHash)

	entry, err := scanEmbedding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobEmbeddingCacheEntry{}, domain.ErrCacheMiss
	}
	if err != nil {
		return domain.JobEmbeddingCacheEntry{}, fmt.Errorf("get embedding: %w", err)
	}
	return entry, nil
}

// PutEmbeddingIfAbsent implements domain.EmbeddingStore. The primary key on content_hash
// makes the insert a no-op for every writer after the first.
func (s *Store) PutEmbeddingIfAbsent(
	ctx context.Context,
	entry domain.JobEmbeddingCacheEntry,
) (domain.JobEmbeddingCacheEntry, bool, error) {
	now := s.nowNanos()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_embedding_cache
			(content_hash, role_title, company_name, embedding, access_count, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		entry.ContentHash, entry.RoleTitle, entry.CompanyName, storage.EncodeVector(entry.Embedding), now, now)
	if err != nil {
		return domain.JobEmbeddingCacheEntry{}, false, fmt.Errorf("insert embedding: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.JobEmbeddingCacheEntry{}, false, fmt.Errorf("insert embedding: %w", err)
	}

	stored, err := scanEmbedding(s.db.QueryRowContext(ctx, `
		SELECT content_hash, role_title, company_name, embedding, access_count, created_at, last_accessed_at
		FROM job_embedding_cache WHERE content_hash = ?`, entry.ContentHash))
	if err != nil {
		return domain.JobEmbeddingCacheEntry{}, false, fmt.Errorf("read stored embedding: %w", err)
	}
	return stored, affected == 1, nil
}

// ListEmbeddings implements domain.EmbeddingStore.
func (s *Store) ListEmbeddings(ctx context.Context) ([]domain.JobEmbeddingCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, role_title, company_name, access_count, created_at, last_accessed_at
		FROM job_embedding_cache ORDER BY content_hash`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var entries []domain.JobEmbeddingCacheEntry
	for rows.Next() {
		var (
			e                   domain.JobEmbeddingCacheEntry
			createdAt, accessed int64
		)
		if err := rows.Scan(&e.ContentHash, &e.RoleTitle, &e.CompanyName, &e.AccessCount,
			&createdAt, &accessed); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.CreatedAt = fromNanos(createdAt)
		e.LastAccessedAt = fromNanos(accessed)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEmbedding(row scanner) (domain.JobEmbeddingCacheEntry, error) {
	var (
		e                   domain.JobEmbeddingCacheEntry
		blob                []byte
		createdAt, accessed int64
	)
	if err := row.Scan(&e.ContentHash, &e.RoleTitle, &e.CompanyName, &blob, &e.AccessCount,
		&createdAt, &accessed); err != nil {
		return domain.JobEmbeddingCacheEntry{}, err
	}

	vector, err := storage.DecodeVector(blob)
	if err != nil {
		return domain.JobEmbeddingCacheEntry{}, err
	}
	e.Embedding = vector
	e.CreatedAt = fromNanos(createdAt)
	e.LastAccessedAt = fromNanos(accessed)
	return e, nil
}
