package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/pkg/types"
)

// Relation scores. Direct evidence outranks derived evidence.
const (
	scoreDirectNode   = 1.0 // chunk is linked to the entity node itself
	scoreBacklink     = 0.8 // chunk links to the entity by name
	scoreSharedNode   = 0.6 // chunk shares a linked node with the ref chunk
	scoreNeighborNode = 0.5 // chunk is linked to a one-hop neighbour, scaled by edge weight
	scoreLinkedChunk  = 0.4 // chunk reached through a markdown link

	neighborLimit = 100
)

// Compile-time interface checks.
var (
	_ storage.RelationSource = (*GraphRelations)(nil)
	_ storage.RelationSource = (*LinkRelations)(nil)
)

// GraphRelations derives relatedness from explicit nodes and edges.
type GraphRelations struct {
	store *Store
}

// NewGraphRelations returns the node/edge relation source of store.
func NewGraphRelations(store *Store) *GraphRelations {
	return &GraphRelations{store: store}
}

// Name implements storage.RelationSource.
func (g *GraphRelations) Name() string { return "graph" }

// Neighbors returns, for a chunk ID, the chunks sharing one of its linked
// nodes. For an entity name it returns the chunks linked to that node and,
// at a lower score, the chunks linked to its direct neighbours.
func (g *GraphRelations) Neighbors(ctx context.Context, ref string) ([]storage.Neighbor, error) {
	meta, err := g.store.GetChunkMetadata(ctx, ref)
	switch {
	case err == nil:
		if len(meta.LinkedNodes) == 0 {
			return nil, nil
		}
		acc := newNeighborSet()
		if err := g.collect(ctx, meta.LinkedNodes, func(string) float64 { return scoreSharedNode }, acc); err != nil {
			return nil, err
		}
		acc.remove(ref)
		return acc.sorted(), nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	node, err := g.store.FindNodeByName(ctx, ref, nil)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	acc := newNeighborSet()
	if err := g.collect(ctx, []string{node.ID}, func(string) float64 { return scoreDirectNode }, acc); err != nil {
		return nil, err
	}

	edges, err := g.store.GetEdgesForNode(ctx, node.ID, storage.EdgeQuery{})
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(edges))
	var ids []string
	for _, e := range edges {
		other := e.Other(node.ID)
		if other == node.ID {
			continue
		}
		if _, ok := weights[other]; !ok {
			ids = append(ids, other)
		}
		if w := e.Weight; w > weights[other] {
			weights[other] = w
		}
	}
	err = g.collect(ctx, ids, func(nodeID string) float64 {
		return scoreNeighborNode * min(weights[nodeID], 1)
	}, acc)
	if err != nil {
		return nil, err
	}
	return acc.sorted(), nil
}

// collect adds every chunk linked to one of nodeIDs, scored by the best
// matching node.
func (g *GraphRelations) collect(ctx context.Context, nodeIDs []string, score func(nodeID string) float64, acc *neighborSet) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	args := append(stringArgs(nodeIDs), neighborLimit)
	rows, err := g.store.db.QueryContext(ctx, `
		SELECT m.chunk_id, m.linked_nodes
		FROM chunk_metadata m
		WHERE EXISTS (
			SELECT 1 FROM json_each(m.linked_nodes) j WHERE j.value IN (`+placeholders(len(nodeIDs))+`)
		)
		ORDER BY m.importance DESC, m.created_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: chunks linked to nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	wanted := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		wanted[id] = true
	}
	for rows.Next() {
		var chunkID string
		var raw sql.NullString
		if err := rows.Scan(&chunkID, &raw); err != nil {
			return fmt.Errorf("sqlite: scan linked chunk: %w", err)
		}
		var linked []string
		if err := fromJSON(raw, &linked); err != nil {
			return fmt.Errorf("sqlite: decode linked nodes: %w", err)
		}
		for _, id := range linked {
			if wanted[id] {
				acc.add(chunkID, score(id), []string{id})
			}
		}
	}
	return rows.Err()
}

// LinkRelations derives relatedness from markdown links and mentions, with
// no node or edge records.
type LinkRelations struct {
	store *Store
}

// NewLinkRelations returns the link/backlink relation source of store.
func NewLinkRelations(store *Store) *LinkRelations {
	return &LinkRelations{store: store}
}

// Name implements storage.RelationSource.
func (l *LinkRelations) Name() string { return "links" }

// Neighbors follows the outgoing links of a chunk ID one hop, or returns the
// backlinks of an entity name.
func (l *LinkRelations) Neighbors(ctx context.Context, ref string) ([]storage.Neighbor, error) {
	var exists int
	err := l.store.db.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE id = ?`, ref).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: link neighbours of %s: %w", ref, err)
	}

	var chunks []types.Chunk
	score := scoreBacklink
	if err == nil {
		chunks, err = l.store.ExpandViaLinks(ctx, []string{ref}, neighborLimit)
		score = scoreLinkedChunk
	} else {
		chunks, err = l.store.FindBacklinks(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	acc := newNeighborSet()
	for _, c := range chunks {
		acc.add(c.ID, score, nil)
	}
	acc.remove(ref)
	return acc.sorted(), nil
}

// neighborSet keeps the best score per chunk and the union of linked nodes.
type neighborSet struct {
	order []string
	byID  map[string]*storage.Neighbor
}

func newNeighborSet() *neighborSet {
	return &neighborSet{byID: make(map[string]*storage.Neighbor)}
}

func (n *neighborSet) add(chunkID string, score float64, nodes []string) {
	cur, ok := n.byID[chunkID]
	if !ok {
		cur = &storage.Neighbor{ChunkID: chunkID}
		n.byID[chunkID] = cur
		n.order = append(n.order, chunkID)
	}
	if score > cur.Score {
		cur.Score = score
	}
	for _, id := range nodes {
		if !containsString(cur.LinkedNodes, id) {
			cur.LinkedNodes = append(cur.LinkedNodes, id)
		}
	}
}

func (n *neighborSet) remove(chunkID string) {
	delete(n.byID, chunkID)
}

// sorted returns neighbours by score, first-seen order breaking ties.
func (n *neighborSet) sorted() []storage.Neighbor {
	out := make([]storage.Neighbor, 0, len(n.byID))
	for _, id := range n.order {
		if nb, ok := n.byID[id]; ok {
			out = append(out, *nb)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
