package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/pkg/types"
)

// maxRelatedDocuments caps the documents attached to an explore result.
const maxRelatedDocuments = 50

// ExploreGraph performs a breadth-first walk from the named entity.
//
// Algorithm:
//  1. Resolve the center node by name (any type, most important wins).
//  2. For hop = 1..depth, load every edge touching the frontier in one query
//     and emit each unvisited endpoint at the current hop. A node emitted at
//     a shallower hop is never revisited, so cycles terminate.
//  3. Attach chunks whose linked_nodes include the center or a reached node.
//
// The walk stops early when opts.Bounds is exhausted; what was reached so far
// is returned. An unknown entity yields nil, nil.
func (s *Store) ExploreGraph(ctx context.Context, name string, opts storage.ExploreOptions) (*storage.ExploreResult, error) {
	opts.Normalize()

	center, err := s.FindNodeByName(ctx, name, nil)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	checker := storage.NewBoundsChecker(opts.Bounds)
	checker.RecordNode()

	visited := map[string]bool{center.ID: true}
	frontier := []string{center.ID}
	var connected []storage.ConnectedNode

traverse:
	for depth := 1; depth <= opts.Depth && len(frontier) > 0; depth++ {
		if err := checker.CanContinue(ctx); err != nil {
			if errors.Is(err, storage.ErrGraphBoundsExceeded) {
				s.logger.Debug("sqlite: explore truncated", zap.String("entity", name), zap.Error(err))
				break
			}
			return nil, err
		}

		edges, err := s.edgesForNodes(ctx, s.db, frontier, storage.EdgeQuery{
			Direction:         types.DirectionBoth,
			RelationshipTypes: opts.RelationshipTypes,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite: explore hop %d: %w", depth, err)
		}
		checker.RecordEdges(len(edges))

		inFrontier := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = true
		}

		var next []string
		for _, e := range edges {
			from := e.FromNode
			dir := types.DirectionOut
			if !inFrontier[from] {
				from = e.ToNode
				dir = types.DirectionIn
			}
			other := e.Other(from)
			if visited[other] {
				continue
			}
			if err := checker.CanVisitNode(); err != nil {
				s.logger.Debug("sqlite: explore truncated", zap.String("entity", name), zap.Error(err))
				break traverse
			}
			visited[other] = true
			checker.RecordNode()
			next = append(next, other)
			connected = append(connected, storage.ConnectedNode{
				Node:         types.GraphNode{ID: other},
				Relationship: e.Relationship,
				Direction:    dir,
				Depth:        depth,
				Via:          from,
			})
		}
		frontier = next
	}

	ids := make([]string, 0, len(connected))
	for _, c := range connected {
		ids = append(ids, c.Node.ID)
	}
	nodes, err := s.nodesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range connected {
		if n, ok := nodes[connected[i].Node.ID]; ok {
			connected[i].Node = *n
		}
	}

	docs, err := s.relatedDocuments(ctx, append([]string{center.ID}, ids...))
	if err != nil {
		return nil, err
	}

	return &storage.ExploreResult{
		CenterNode:       *center,
		ConnectedNodes:   connected,
		RelatedDocuments: docs,
	}, nil
}

// nodesByIDs loads nodes keyed by ID. Missing IDs are absent from the map.
func (s *Store) nodesByIDs(ctx context.Context, ids []string) (map[string]*types.GraphNode, error) {
	out := make(map[string]*types.GraphNode, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan node: %w", err)
		}
		out[n.ID] = n
	}
	return out, rows.Err()
}

// relatedDocuments lists chunks whose linked_nodes intersect nodeIDs, most
// important first.
func (s *Store) relatedDocuments(ctx context.Context, nodeIDs []string) ([]storage.RelatedDocument, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	args := append(stringArgs(nodeIDs), maxRelatedDocuments)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.path, c.start_line, c.end_line, c.text, m.type, m.importance, m.linked_nodes
		FROM chunk_metadata m
		JOIN chunks c ON c.id = m.chunk_id
		WHERE EXISTS (
			SELECT 1 FROM json_each(m.linked_nodes) j WHERE j.value IN (`+placeholders(len(nodeIDs))+`)
		)
		ORDER BY m.importance DESC, m.created_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: related documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	wanted := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		wanted[id] = true
	}

	var docs []storage.RelatedDocument
	for rows.Next() {
		var d storage.RelatedDocument
		var text, entryType string
		var linked sql.NullString
		if err := rows.Scan(&d.ChunkID, &d.Path, &d.StartLine, &d.EndLine, &text, &entryType, &d.Importance, &linked); err != nil {
			return nil, fmt.Errorf("sqlite: scan related document: %w", err)
		}
		d.Type = types.ParseEntryType(entryType)
		d.Snippet = textutil.Snippet(text, snippetRunes)

		var nodes []string
		if err := fromJSON(linked, &nodes); err != nil {
			return nil, fmt.Errorf("sqlite: decode linked nodes: %w", err)
		}
		for _, id := range nodes {
			if wanted[id] {
				d.NodeIDs = append(d.NodeIDs, id)
			}
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
