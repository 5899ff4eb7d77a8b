package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage"
)

const chunkColumns = `artifact_id, chunk_index, content, content_hash, embedding, model_used, tokens_used,
	processing_cost_usd, created_at`

// FindChunkByHash implements domain.ArtifactChunkStore.
func (s *Store) FindChunkByHash(ctx context.Context, artifactID, contentHash string) (domain.ArtifactChunk, error) {
	chunk, err := scanChunk(s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM artifact_chunks WHERE artifact_id = ? AND content_hash = ?`,
		artifactID, contentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ArtifactChunk{}, domain.ErrCacheMiss
	}
	if err != nil {
		return domain.ArtifactChunk{}, fmt.Errorf("find chunk: %w", err)
	}
	return chunk, nil
}

// PutChunkIfAbsent implements domain.ArtifactChunkStore. DO NOTHING without a conflict
// target covers both the (artifact, index) and (artifact, hash) constraints.
func (s *Store) PutChunkIfAbsent(ctx context.Context, chunk domain.ArtifactChunk) (domain.ArtifactChunk, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO artifact_chunks (`+chunkColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		chunk.ArtifactID, chunk.ChunkIndex, chunk.Content, chunk.ContentHash,
		storage.EncodeVector(chunk.Embedding), chunk.ModelUsed, chunk.TokensUsed,
		chunk.ProcessingCostUSD, s.nowNanos())
	if err != nil {
		return domain.ArtifactChunk{}, false, fmt.Errorf("insert chunk: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.ArtifactChunk{}, false, fmt.Errorf("insert chunk: %w", err)
	}

	stored, err := scanChunk(s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM artifact_chunks
		 WHERE artifact_id = ? AND (chunk_index = ? OR content_hash = ?)
		 ORDER BY chunk_index = ? DESC
		 LIMIT 1`,
		chunk.ArtifactID, chunk.ChunkIndex, chunk.ContentHash, chunk.ChunkIndex))
	if err != nil {
		return domain.ArtifactChunk{}, false, fmt.Errorf("read stored chunk: %w", err)
	}
	return stored, affected == 1, nil
}

// ListChunks implements domain.ArtifactChunkStore.
func (s *Store) ListChunks(ctx context.Context, artifactID string) ([]domain.ArtifactChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM artifact_chunks WHERE artifact_id = ? ORDER BY chunk_index`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.ArtifactChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func scanChunk(row scanner) (domain.ArtifactChunk, error) {
	var (
		c         domain.ArtifactChunk
		blob      []byte
		createdAt int64
	)
	if err := row.Scan(&c.ArtifactID, &c.ChunkIndex, &c.Content, &c.ContentHash, &blob, &c.ModelUsed,
		&c.TokensUsed, &c.ProcessingCostUSD, &createdAt); err != nil {
		return domain.ArtifactChunk{}, err
	}

	vector, err := storage.DecodeVector(blob)
	if err != nil {
		return domain.ArtifactChunk{}, err
	}
	c.Embedding = vector
	c.CreatedAt = fromNanos(createdAt)
	return c, nil
}
