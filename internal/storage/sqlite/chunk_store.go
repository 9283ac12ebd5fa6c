package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/internal/validation"
	"github.com/scrypster/memento-graph/pkg/types"
)

// snippetRunes is the length of snippets returned by search and explore.
const snippetRunes = 240

// embeddingModelUnknown labels vectors that arrive attached to a chunk.
const embeddingModelUnknown = "external"

const metadataColumns = `chunk_id, memory_file, type, created_at, people, case_ref, place, tags,
	importance, domain, emotion, emotion_raw, status, linked_nodes, outgoing_links, frontmatter,
	access_count, last_accessed_at`

// UpsertChunk writes a chunk and, when present, its embedding.
func (s *Store) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertChunk(ctx, tx, chunk)
	})
}

// UpsertChunkMetadata replaces the metadata of one chunk. Access counters
// survive re-indexing.
func (s *Store) UpsertChunkMetadata(ctx context.Context, meta *types.ChunkMetadata) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertMetadata(ctx, tx, meta)
	})
}

// IndexChunk writes a chunk and its metadata atomically: a chunk is never
// visible without its metadata.
func (s *Store) IndexChunk(ctx context.Context, chunk *types.Chunk, meta *types.ChunkMetadata) error {
	if chunk != nil && meta != nil && meta.ChunkID == "" {
		meta.ChunkID = chunk.ID
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertChunk(ctx, tx, chunk); err != nil {
			return err
		}
		return s.upsertMetadata(ctx, tx, meta)
	})
}

func (s *Store) upsertChunk(ctx context.Context, q execer, chunk *types.Chunk) error {
	if chunk == nil || chunk.ID == "" || chunk.Path == "" {
		return fmt.Errorf("%w: chunk id and path are required", storage.ErrInvalidInput)
	}
	if chunk.StartLine < 1 || chunk.EndLine < chunk.StartLine {
		return fmt.Errorf("%w: invalid line range %d-%d", storage.ErrInvalidInput, chunk.StartLine, chunk.EndLine)
	}
	hash := chunk.Hash
	if hash == "" {
		hash = ContentHash(chunk.Text)
	}
	now := s.now()

	_, err := q.ExecContext(ctx, `
		INSERT INTO chunks (id, path, file_key, source, start_line, end_line, text, hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			path = excluded.path,
			file_key = excluded.file_key,
			source = excluded.source,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			text = excluded.text,
			hash = excluded.hash,
			updated_at = excluded.updated_at`,
		chunk.ID, chunk.Path, textutil.LinkKey(chunk.Path), nullableString(chunk.Source),
		chunk.StartLine, chunk.EndLine, chunk.Text, hash, now, now)
	if err != nil {
		return fmt.Errorf("sqlite: upsert chunk %s: %w", chunk.ID, err)
	}

	if len(chunk.Embedding) > 0 {
		return s.storeEmbedding(ctx, q, chunk.ID, chunk.Embedding, embeddingModelUnknown)
	}
	return nil
}

func (s *Store) upsertMetadata(ctx context.Context, q execer, meta *types.ChunkMetadata) error {
	if meta == nil {
		return fmt.Errorf("%w: metadata is required", storage.ErrInvalidInput)
	}
	if err := validation.Struct(meta); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	// Unset type and importance take the classifier's fallback values.
	entryType := types.EntryKnowledge
	if meta.Type != "" {
		entryType = types.ParseEntryType(string(meta.Type))
	}
	importance := meta.Importance
	if importance == 0 {
		importance = types.DefaultImportance
	}
	status := types.ParseNodeStatus(string(meta.Status))
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	tags := make([]string, 0, len(meta.Tags))
	for _, t := range meta.Tags {
		tags = append(tags, strings.TrimPrefix(strings.TrimSpace(t), "#"))
	}
	tags = textutil.UniqueFold(tags)

	people, err := toJSON(meta.People)
	if err != nil {
		return fmt.Errorf("sqlite: encode people: %w", err)
	}
	peopleKeys, err := toJSON(textutil.Keys(meta.PeopleNames(), textutil.Fold))
	if err != nil {
		return fmt.Errorf("sqlite: encode people keys: %w", err)
	}
	tagsJSON, err := toJSON(tags)
	if err != nil {
		return fmt.Errorf("sqlite: encode tags: %w", err)
	}
	linked, err := toJSON(textutil.Keys(meta.LinkedNodes, strings.TrimSpace))
	if err != nil {
		return fmt.Errorf("sqlite: encode linked nodes: %w", err)
	}
	links, err := toJSON(meta.OutgoingLinks)
	if err != nil {
		return fmt.Errorf("sqlite: encode outgoing links: %w", err)
	}
	linkKeys, err := toJSON(textutil.Keys(meta.OutgoingLinks, textutil.LinkKey))
	if err != nil {
		return fmt.Errorf("sqlite: encode link keys: %w", err)
	}
	frontmatter, err := nullableJSON(meta.Frontmatter)
	if err != nil {
		return fmt.Errorf("sqlite: encode frontmatter: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO chunk_metadata (chunk_id, memory_file, type, created_at, people, people_keys,
			case_ref, place, tags, importance, domain, emotion, emotion_raw, status,
			linked_nodes, outgoing_links, link_keys, frontmatter, access_count, last_accessed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET
			memory_file = excluded.memory_file,
			type = excluded.type,
			created_at = excluded.created_at,
			people = excluded.people,
			people_keys = excluded.people_keys,
			case_ref = excluded.case_ref,
			place = excluded.place,
			tags = excluded.tags,
			importance = excluded.importance,
			domain = excluded.domain,
			emotion = excluded.emotion,
			emotion_raw = excluded.emotion_raw,
			status = excluded.status,
			linked_nodes = excluded.linked_nodes,
			outgoing_links = excluded.outgoing_links,
			link_keys = excluded.link_keys,
			frontmatter = excluded.frontmatter,
			access_count = MAX(chunk_metadata.access_count, excluded.access_count),
			last_accessed_at = COALESCE(excluded.last_accessed_at, chunk_metadata.last_accessed_at),
			updated_at = excluded.updated_at`,
		meta.ChunkID, meta.MemoryFile, string(entryType), createdAt.UTC(), people, peopleKeys,
		nullableString(meta.CaseRef), nullableString(meta.Place), tagsJSON, importance,
		nullableString(meta.Domain), nullableString(meta.Emotion), nullableString(meta.EmotionRaw),
		string(status), linked, links, linkKeys, frontmatter,
		meta.AccessCount, nullableTime(meta.LastAccessedAt), s.now())
	if err != nil {
		return fmt.Errorf("sqlite: upsert metadata %s: %w", meta.ChunkID, err)
	}
	return nil
}

// GetChunk returns a chunk with its embedding, if stored.
func (s *Store) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	var c types.Chunk
	var source sql.NullString
	var blob []byte
	var dim sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.path, c.source, c.start_line, c.end_line, c.text, c.hash, e.embedding, e.dimension
		FROM chunks c LEFT JOIN chunk_embeddings e ON e.chunk_id = c.id
		WHERE c.id = ?`, id).
		Scan(&c.ID, &c.Path, &source, &c.StartLine, &c.EndLine, &c.Text, &c.Hash, &blob, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get chunk %s: %w", id, err)
	}
	c.Source = source.String
	if dim.Valid && len(blob) > 0 {
		emb, err := storage.DecodeEmbedding(blob, int(dim.Int64))
		if err != nil {
			return nil, fmt.Errorf("sqlite: chunk %s embedding: %w", id, err)
		}
		c.Embedding = emb
	}
	return &c, nil
}

// GetChunkMetadata returns the metadata of one chunk.
func (s *Store) GetChunkMetadata(ctx context.Context, chunkID string) (*types.ChunkMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+metadataColumns+` FROM chunk_metadata WHERE chunk_id = ?`, chunkID)
	meta, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get metadata %s: %w", chunkID, err)
	}
	return meta, nil
}

// GetChunksMetadata loads metadata for many chunks in one query.
func (s *Store) GetChunksMetadata(ctx context.Context, chunkIDs []string) (map[string]*types.ChunkMetadata, error) {
	out := make(map[string]*types.ChunkMetadata, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metadataColumns+` FROM chunk_metadata WHERE chunk_id IN (`+placeholders(len(chunkIDs))+`)`,
		stringArgs(chunkIDs)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan metadata: %w", err)
		}
		out[m.ChunkID] = m
	}
	return out, rows.Err()
}

// GetTagsForChunk returns the tags recorded for a chunk. A chunk without
// metadata has no tags.
func (s *Store) GetTagsForChunk(ctx context.Context, chunkID string) ([]string, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT tags FROM chunk_metadata WHERE chunk_id = ?`, chunkID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: tags for chunk %s: %w", chunkID, err)
	}
	var tags []string
	if err := fromJSON(raw, &tags); err != nil {
		return nil, fmt.Errorf("sqlite: decode tags: %w", err)
	}
	return tags, nil
}

// DeleteChunksForPath removes the chunks of path not listed in keep, along
// with their metadata, and returns the removed IDs.
func (s *Store) DeleteChunksForPath(ctx context.Context, path string, keep []string) ([]string, error) {
	cond := "path = ?"
	args := []interface{}{path}
	if len(keep) > 0 {
		cond += " AND id NOT IN (" + placeholders(len(keep)) + ")"
		args = append(args, stringArgs(keep)...)
	}

	var removed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE `+cond, args...)
		if err != nil {
			return fmt.Errorf("sqlite: list chunks for %s: %w", path, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("sqlite: scan chunk id: %w", err)
			}
			removed = append(removed, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunk_metadata WHERE chunk_id IN (SELECT id FROM chunks WHERE `+cond+`)`, args...); err != nil {
			return fmt.Errorf("sqlite: delete metadata for %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE `+cond, args...); err != nil {
			return fmt.Errorf("sqlite: delete chunks for %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// NextStartLine returns the first free line after the chunks of path.
func (s *Store) NextStartLine(ctx context.Context, path string) (int, error) {
	var last int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(end_line), 0) FROM chunks WHERE path = ?`, path).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("sqlite: next start line for %s: %w", path, err)
	}
	return last + 1, nil
}

// RecordAccess increments access counters and stamps the access time.
func (s *Store) RecordAccess(ctx context.Context, chunkIDs []string, at time.Time) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	args := append([]interface{}{at.UTC()}, stringArgs(chunkIDs)...)
	_, err := s.db.ExecContext(ctx, `
		UPDATE chunk_metadata
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE chunk_id IN (`+placeholders(len(chunkIDs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: record access: %w", err)
	}
	return nil
}

func scanMetadata(row rowScanner) (*types.ChunkMetadata, error) {
	var m types.ChunkMetadata
	var entryType, status string
	var people, tags, linked, links sql.NullString
	var caseRef, place, domain, emotion, emotionRaw, frontmatter sql.NullString
	var lastAccessed sql.NullTime
	err := row.Scan(&m.ChunkID, &m.MemoryFile, &entryType, &m.CreatedAt, &people, &caseRef, &place, &tags,
		&m.Importance, &domain, &emotion, &emotionRaw, &status, &linked, &links, &frontmatter,
		&m.AccessCount, &lastAccessed)
	if err != nil {
		return nil, err
	}
	m.Type = types.ParseEntryType(entryType)
	m.Status = types.ParseNodeStatus(status)
	m.CaseRef = caseRef.String
	m.Place = place.String
	m.Domain = domain.String
	m.Emotion = emotion.String
	m.EmotionRaw = emotionRaw.String
	m.LastAccessedAt = timePtr(lastAccessed)

	for _, f := range []struct {
		src  sql.NullString
		dest interface{}
		name string
	}{
		{people, &m.People, "people"},
		{tags, &m.Tags, "tags"},
		{linked, &m.LinkedNodes, "linked_nodes"},
		{links, &m.OutgoingLinks, "outgoing_links"},
		{frontmatter, &m.Frontmatter, "frontmatter"},
	} {
		if err := fromJSON(f.src, f.dest); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.name, err)
		}
	}
	return &m, nil
}

// ContentHash is the hex SHA-256 of chunk text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
