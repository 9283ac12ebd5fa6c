package sqlite

import (
	"context"
	"fmt"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/pkg/types"
)

// Stats summarises counts, distributions and the topN most connected nodes.
func (s *Store) Stats(ctx context.Context, topN int) (*storage.Stats, error) {
	if topN <= 0 {
		topN = 10
	}
	st := &storage.Stats{}

	counts := []struct {
		dest  *int
		query string
	}{
		{&st.Nodes, `SELECT COUNT(*) FROM graph_nodes`},
		{&st.Edges, `SELECT COUNT(*) FROM graph_edges`},
		{&st.Chunks, `SELECT COUNT(*) FROM chunks`},
		{&st.Files, `SELECT COUNT(DISTINCT path) FROM chunks`},
		{&st.Tags, `SELECT COUNT(*) FROM tags`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("sqlite: stats %q: %w", c.query, err)
		}
	}

	var err error
	if st.NodesByType, err = s.distribution(ctx, `SELECT type, COUNT(*) FROM graph_nodes GROUP BY type`); err != nil {
		return nil, err
	}
	if st.ChunksByType, err = s.distribution(ctx, `SELECT type, COUNT(*) FROM chunk_metadata GROUP BY type`); err != nil {
		return nil, err
	}
	if st.ChunksByDomain, err = s.distribution(ctx,
		`SELECT domain, COUNT(*) FROM chunk_metadata WHERE domain IS NOT NULL AND domain != '' GROUP BY domain`); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.name, n.type, COUNT(e.id) AS degree
		FROM graph_nodes n
		JOIN graph_edges e ON e.from_node = n.id OR e.to_node = n.id
		GROUP BY n.id
		ORDER BY degree DESC, n.importance DESC, n.name ASC
		LIMIT ?`, topN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: top connected: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var d storage.NodeDegree
		var nodeType string
		if err := rows.Scan(&d.ID, &d.Name, &nodeType, &d.Degree); err != nil {
			return nil, fmt.Errorf("sqlite: scan degree: %w", err)
		}
		d.Type = types.ParseNodeType(nodeType)
		st.TopConnected = append(st.TopConnected, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if st.PopularTags, err = s.GetPopularTags(ctx, topN); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) distribution(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: distribution: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scan distribution: %w", err)
		}
		out[key] = n
	}
	return out, rows.Err()
}
