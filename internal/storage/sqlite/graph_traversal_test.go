package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/pkg/types"
)

func connectedNames(res *storage.ExploreResult) map[string]storage.ConnectedNode {
	out := make(map[string]storage.ConnectedNode, len(res.ConnectedNodes))
	for _, c := range res.ConnectedNodes {
		out[c.Node.Name] = c
	}
	return out
}

func TestExploreGraph_DepthTwo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	minsu := mustNode(t, s, "민수씨", types.NodeTypePerson, 5)
	dispute := mustNode(t, s, "잔디밭 분쟁", types.NodeTypeCase, 7)
	yard := mustNode(t, s, "앞마당", types.NodeTypePlace, 4)
	mustEdge(t, s, minsu, dispute, "involved_in")
	mustEdge(t, s, dispute, yard, "located_at")

	indexTestChunk(t, s, "notes/2026-10-01.md", 1, "민수씨와 잔디밭 문제로 이야기했다", types.ChunkMetadata{
		Type: types.EntryEvent, Importance: 6, LinkedNodes: []string{minsu.ID, dispute.ID},
	})
	indexTestChunk(t, s, "notes/unrelated.md", 1, "grocery list", types.ChunkMetadata{})

	res, err := s.ExploreGraph(ctx, "민수씨", storage.ExploreOptions{Depth: 2})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, minsu.ID, res.CenterNode.ID)

	byName := connectedNames(res)
	require.Contains(t, byName, "잔디밭 분쟁")
	require.Contains(t, byName, "앞마당")

	assert.Equal(t, 1, byName["잔디밭 분쟁"].Depth)
	assert.Equal(t, "involved_in", byName["잔디밭 분쟁"].Relationship)
	assert.Equal(t, types.DirectionOut, byName["잔디밭 분쟁"].Direction)
	assert.Equal(t, 2, byName["앞마당"].Depth)
	assert.Equal(t, dispute.ID, byName["앞마당"].Via)

	require.Len(t, res.RelatedDocuments, 1)
	doc := res.RelatedDocuments[0]
	assert.Equal(t, "notes/2026-10-01.md", doc.Path)
	assert.ElementsMatch(t, []string{minsu.ID, dispute.ID}, doc.NodeIDs)
	assert.Equal(t, types.EntryEvent, doc.Type)
}

func TestExploreGraph_DepthOneStopsEarly(t *testing.T) {
	s := newTestStore(t)
	a := mustNode(t, s, "A", types.NodeTypePerson, 5)
	b := mustNode(t, s, "B", types.NodeTypePerson, 5)
	c := mustNode(t, s, "C", types.NodeTypePerson, 5)
	mustEdge(t, s, a, b, "knows")
	mustEdge(t, s, b, c, "knows")

	res, err := s.ExploreGraph(context.Background(), "a", storage.ExploreOptions{Depth: 1})
	require.NoError(t, err)
	byName := connectedNames(res)
	assert.Contains(t, byName, "B")
	assert.NotContains(t, byName, "C")
}

func TestExploreGraph_InboundDirection(t *testing.T) {
	s := newTestStore(t)
	a := mustNode(t, s, "A", types.NodeTypePerson, 5)
	b := mustNode(t, s, "B", types.NodeTypePerson, 5)
	mustEdge(t, s, b, a, "mentors")

	res, err := s.ExploreGraph(context.Background(), "A", storage.ExploreOptions{})
	require.NoError(t, err)
	require.Len(t, res.ConnectedNodes, 1)
	assert.Equal(t, types.DirectionIn, res.ConnectedNodes[0].Direction)
}

func TestExploreGraph_CycleVisitsEachNodeOnce(t *testing.T) {
	s := newTestStore(t)
	a := mustNode(t, s, "A", types.NodeTypeTopic, 5)
	b := mustNode(t, s, "B", types.NodeTypeTopic, 5)
	c := mustNode(t, s, "C", types.NodeTypeTopic, 5)
	mustEdge(t, s, a, b, "relates_to")
	mustEdge(t, s, b, c, "relates_to")
	mustEdge(t, s, c, a, "relates_to")
	mustEdge(t, s, b, a, "relates_to")

	res, err := s.ExploreGraph(context.Background(), "A", storage.ExploreOptions{Depth: 3})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, n := range res.ConnectedNodes {
		seen[n.Node.ID]++
		assert.Equal(t, 1, n.Depth, "both neighbours are one hop from A")
	}
	assert.Len(t, seen, 2)
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s emitted more than once", id)
		assert.NotEqual(t, a.ID, id, "center node must not be re-emitted")
	}
}

func TestExploreGraph_RelationshipTypeFilter(t *testing.T) {
	s := newTestStore(t)
	a := mustNode(t, s, "A", types.NodeTypePerson, 5)
	b := mustNode(t, s, "B", types.NodeTypePerson, 5)
	c := mustNode(t, s, "C", types.NodeTypePlace, 5)
	mustEdge(t, s, a, b, "knows")
	mustEdge(t, s, a, c, "visited")

	res, err := s.ExploreGraph(context.Background(), "A", storage.ExploreOptions{RelationshipTypes: []string{"visited"}})
	require.NoError(t, err)
	require.Len(t, res.ConnectedNodes, 1)
	assert.Equal(t, "C", res.ConnectedNodes[0].Node.Name)
}

func TestExploreGraph_UnknownEntityIsNil(t *testing.T) {
	s := newTestStore(t)
	res, err := s.ExploreGraph(context.Background(), "Unknown Person", storage.ExploreOptions{Depth: 2})
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestExploreGraph_BoundsTruncate(t *testing.T) {
	s := newTestStore(t)
	center := mustNode(t, s, "Center", types.NodeTypeTopic, 5)
	for _, name := range []string{"n1", "n2", "n3", "n4", "n5"} {
		mustEdge(t, s, center, mustNode(t, s, name, types.NodeTypeTopic, 5), "has")
	}

	res, err := s.ExploreGraph(context.Background(), "Center", storage.ExploreOptions{
		Depth:  2,
		Bounds: storage.GraphBounds{MaxNodes: 3, Timeout: time.Second},
	})
	require.NoError(t, err)
	assert.Len(t, res.ConnectedNodes, 2, "center counts against MaxNodes")
}
