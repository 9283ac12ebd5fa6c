package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
)

// vectorSearchMaxCandidates caps the embeddings loaded into memory during a
// vector search, newest chunks first. Larger corpora belong in the postgres
// pgvector index.
const vectorSearchMaxCandidates = 10_000

// StoreEmbedding stores the vector of a chunk, replacing any previous one.
func (s *Store) StoreEmbedding(ctx context.Context, chunkID string, embedding []float64, model string) error {
	return s.storeEmbedding(ctx, s.db, chunkID, embedding, model)
}

func (s *Store) storeEmbedding(ctx context.Context, q execer, chunkID string, embedding []float64, model string) error {
	if chunkID == "" {
		return fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, embedding, dimension, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = excluded.updated_at`,
		chunkID, storage.EncodeEmbedding(embedding), len(embedding), model, s.now())
	if err != nil {
		return fmt.Errorf("sqlite: store embedding %s: %w", chunkID, err)
	}
	return nil
}

// VectorSearch ranks stored embeddings by cosine similarity to query.
// Vectors of a different dimension are skipped.
func (s *Store) VectorSearch(ctx context.Context, query []float64, limit int) ([]storage.VectorHit, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.path, c.start_line, c.end_line, c.text, e.embedding, e.dimension
		FROM chunk_embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE e.dimension = ?
		ORDER BY c.updated_at DESC
		LIMIT ?`, len(query), vectorSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.VectorHit
	for rows.Next() {
		var h storage.VectorHit
		var text string
		var blob []byte
		var dim int
		if err := rows.Scan(&h.ChunkID, &h.Path, &h.StartLine, &h.EndLine, &text, &blob, &dim); err != nil {
			return nil, fmt.Errorf("sqlite: scan embedding: %w", err)
		}
		emb, err := storage.DecodeEmbedding(blob, dim)
		if err != nil {
			s.logger.Sugar().Warnw("sqlite: skipping corrupt embedding", "chunk_id", h.ChunkID, "error", err)
			continue
		}
		h.Score = storage.CosineSimilarity(query, emb)
		h.Snippet = textutil.Snippet(text, snippetRunes)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate embeddings: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
