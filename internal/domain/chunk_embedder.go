package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/davidbz/conductor/internal/observability"
)

// ChunkEmbedder embeds the chunks of an uploaded artifact, skipping content already embedded.
type ChunkEmbedder struct {
	store        ArtifactChunkStore
	orchestrator *Orchestrator
}

// NewChunkEmbedder creates a chunk embedder.
func NewChunkEmbedder(store ArtifactChunkStore, orchestrator *Orchestrator) *ChunkEmbedder {
	return &ChunkEmbedder{
		store:        store,
		orchestrator: orchestrator,
	}
}

// ChunkHash is the content hash used to deduplicate chunks within an artifact.
func ChunkHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeText(content)))
	return hex.EncodeToString(sum[:])
}

// EmbedArtifact embeds chunks in order and returns the stored row for each input. A chunk whose
// content hash already exists for the artifact reuses that row instead of calling a provider.
// New content at an index that is already stored fails with ErrChunkConflict before any
// provider call.
func (c *ChunkEmbedder) EmbedArtifact(
	ctx context.Context,
	artifactID, userID string,
	chunks []string,
) ([]ArtifactChunk, error) {
	if artifactID == "" {
		return nil, errors.New("artifact id cannot be empty")
	}

	logger := observability.FromContext(ctx)
	out := make([]ArtifactChunk, 0, len(chunks))
	var embedded int
	var taken map[int]string

	for index, content := range chunks {
		if NormalizeText(content) == "" {
			continue
		}
		hash := ChunkHash(content)

		existing, err := c.store.FindChunkByHash(ctx, artifactID, hash)
		if err == nil {
			out = append(out, existing)
			continue
		}
		if !errors.Is(err, ErrCacheMiss) {
			return nil, fmt.Errorf("failed to look up chunk %d: %w", index, err)
		}

		if taken == nil {
			if taken, err = c.storedIndexes(ctx, artifactID); err != nil {
				return nil, err
			}
		}
		if _, ok := taken[index]; ok {
			return nil, conflict(artifactID, index)
		}

		result, err := c.orchestrator.EmbedText(ctx, content, userID, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", index, err)
		}

		stored, created, err := c.store.PutChunkIfAbsent(ctx, ArtifactChunk{
			ArtifactID:        artifactID,
			ChunkIndex:        index,
			Content:           content,
			ContentHash:       hash,
			Embedding:         result.Vector,
			ModelUsed:         result.Model,
			TokensUsed:        result.Tokens,
			ProcessingCostUSD: result.CostUSD,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store chunk %d: %w", index, err)
		}
		if !created && stored.ContentHash != hash {
			return nil, conflict(artifactID, index)
		}
		taken[stored.ChunkIndex] = stored.ContentHash
		embedded++
		out = append(out, stored)
	}

	logger.Info("artifact embedded",
		observability.String("artifact_id", artifactID),
		observability.Int("chunks", len(chunks)),
		observability.Int("embedded", embedded))

	return out, nil
}

func (c *ChunkEmbedder) storedIndexes(ctx context.Context, artifactID string) (map[int]string, error) {
	existing, err := c.store.ListChunks(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of %s: %w", artifactID, err)
	}
	taken := make(map[int]string, len(existing))
	for _, chunk := range existing {
		taken[chunk.ChunkIndex] = chunk.ContentHash
	}
	return taken, nil
}

func conflict(artifactID string, index int) error {
	return fmt.Errorf("%w: %s chunk %d already holds different content", ErrChunkConflict, artifactID, index)
}
