package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/pkg/types"
)

// defaultMaxExpanded caps ExpandViaLinks when the caller passes no limit.
const defaultMaxExpanded = 5

const chunkColumns = `c.id, c.path, c.source, c.start_line, c.end_line, c.text, c.hash`

// FindBacklinks lists chunks whose outgoing links reference entityName. When
// no link matches, chunks naming the entity among their people are returned
// instead. Newest chunks come first.
func (s *Store) FindBacklinks(ctx context.Context, entityName string) ([]types.Chunk, error) {
	linkKey := textutil.LinkKey(entityName)
	if linkKey == "" {
		return nil, nil
	}

	const query = `
		SELECT ` + chunkColumns + `
		FROM chunk_metadata m
		JOIN chunks c ON c.id = m.chunk_id
		WHERE EXISTS (SELECT 1 FROM json_each(m.%s) j WHERE j.value = ?)
		ORDER BY m.created_at DESC, c.path, c.start_line`

	chunks, err := s.queryChunks(ctx, fmt.Sprintf(query, "link_keys"), linkKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite: backlinks for %q: %w", entityName, err)
	}
	if len(chunks) > 0 {
		return chunks, nil
	}

	chunks, err = s.queryChunks(ctx, fmt.Sprintf(query, "people_keys"), textutil.Fold(entityName))
	if err != nil {
		return nil, fmt.Errorf("sqlite: people backlinks for %q: %w", entityName, err)
	}
	return chunks, nil
}

// FindOutgoingLinks returns every link target declared by the chunks of file,
// in document order, without case-insensitive duplicates. file may be the
// stored path or a bare note name.
func (s *Store) FindOutgoingLinks(ctx context.Context, file string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.outgoing_links
		FROM chunk_metadata m
		LEFT JOIN chunks c ON c.id = m.chunk_id
		WHERE m.memory_file = ? OR c.path = ? OR c.file_key = ?
		ORDER BY c.start_line`, file, file, textutil.LinkKey(file))
	if err != nil {
		return nil, fmt.Errorf("sqlite: outgoing links for %s: %w", file, err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]bool)
	var out []string
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan outgoing links: %w", err)
		}
		var links []string
		if err := fromJSON(raw, &links); err != nil {
			return nil, fmt.Errorf("sqlite: decode outgoing links: %w", err)
		}
		for _, l := range links {
			k := textutil.LinkKey(l)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, l)
		}
	}
	return out, rows.Err()
}

// FindCoOccurringPeople counts, for every chunk mentioning personName, each
// other person in the same chunk. A person counts once per chunk. Results are
// ordered by count, then name.
func (s *Store) FindCoOccurringPeople(ctx context.Context, personName string) ([]storage.PersonCount, error) {
	key := textutil.Fold(personName)
	if key == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.people FROM chunk_metadata m
		WHERE EXISTS (SELECT 1 FROM json_each(m.people_keys) j WHERE j.value = ?)`, key)
	if err != nil {
		return nil, fmt.Errorf("sqlite: co-occurring people for %q: %w", personName, err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]*storage.PersonCount)
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan people: %w", err)
		}
		var people []types.PersonRef
		if err := fromJSON(raw, &people); err != nil {
			return nil, fmt.Errorf("sqlite: decode people: %w", err)
		}
		inChunk := make(map[string]bool, len(people))
		for _, p := range people {
			k := textutil.Fold(p.Name)
			if k == "" || k == key || inChunk[k] {
				continue
			}
			inChunk[k] = true
			if c, ok := counts[k]; ok {
				c.Count++
				continue
			}
			counts[k] = &storage.PersonCount{Name: textutil.Normalize(p.Name), Count: 1}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]storage.PersonCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ExpandViaLinks collects the link targets of chunkIDs and returns other
// chunks whose file name or own outgoing links match one of them. Input
// chunks are never returned. At most maxExpanded chunks (default 5) come
// back, most important first.
func (s *Store) ExpandViaLinks(ctx context.Context, chunkIDs []string, maxExpanded int) ([]types.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	if maxExpanded <= 0 {
		maxExpanded = defaultMaxExpanded
	}

	targets, err := s.linkKeysFor(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	in := placeholders(len(targets))
	args := append(stringArgs(chunkIDs), stringArgs(targets)...)
	args = append(args, stringArgs(targets)...)
	args = append(args, maxExpanded)

	chunks, err := s.queryChunks(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks c
		LEFT JOIN chunk_metadata m ON m.chunk_id = c.id
		WHERE c.id NOT IN (`+placeholders(len(chunkIDs))+`)
		  AND (c.file_key IN (`+in+`)
		       OR EXISTS (SELECT 1 FROM json_each(m.link_keys) j WHERE j.value IN (`+in+`)))
		ORDER BY m.importance DESC, c.path, c.start_line
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: expand via links: %w", err)
	}
	return chunks, nil
}

// linkKeysFor returns the union of link keys declared by the given chunks.
func (s *Store) linkKeysFor(ctx context.Context, chunkIDs []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT j.value
		FROM chunk_metadata m, json_each(m.link_keys) j
		WHERE m.chunk_id IN (`+placeholders(len(chunkIDs))+`)`, stringArgs(chunkIDs)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: link keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite: scan link key: %w", err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...interface{}) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		var source sql.NullString
		if err := rows.Scan(&c.ID, &c.Path, &source, &c.StartLine, &c.EndLine, &c.Text, &c.Hash); err != nil {
			return nil, err
		}
		c.Source = source.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
