package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/pkg/types"
)

func mustNode(t *testing.T, s *Store, name string, nodeType types.NodeType, importance int) *types.GraphNode {
	t.Helper()
	n, err := s.UpsertNode(context.Background(), &types.GraphNode{Name: name, Type: nodeType, Importance: importance})
	require.NoError(t, err)
	return n
}

func mustEdge(t *testing.T, s *Store, from, to *types.GraphNode, rel string) *types.GraphEdge {
	t.Helper()
	e, err := s.UpsertEdge(context.Background(), &types.GraphEdge{FromNode: from.ID, ToNode: to.ID, Relationship: rel})
	require.NoError(t, err)
	return e
}

func TestUpsertNode_MergesByNameAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertNode(ctx, &types.GraphNode{
		Name: "Person A", Type: types.NodeTypePerson, Importance: 3,
		Properties: types.Properties{"age": types.NumberValue(41)},
	})
	require.NoError(t, err)

	second, err := s.UpsertNode(ctx, &types.GraphNode{
		Name: "person a", Type: types.NodeTypePerson, Importance: 8,
		Properties: types.Properties{"role": types.StringValue("neighbor")},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Person A", second.Name, "identity fields are immutable")
	assert.Equal(t, 8, second.Importance)
	assert.Equal(t, types.NumberValue(41), second.Properties["age"])
	assert.Equal(t, types.StringValue("neighbor"), second.Properties["role"])

	nodes, err := s.SearchNodes(ctx, storage.NodeFilter{})
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestUpsertNode_SameNameDifferentTypeIsDistinct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	person := mustNode(t, s, "Jordan", types.NodeTypePerson, 4)
	place := mustNode(t, s, "Jordan", types.NodeTypePlace, 7)
	assert.NotEqual(t, person.ID, place.ID)

	got, err := s.FindNodeByName(ctx, "JORDAN", nil)
	require.NoError(t, err)
	assert.Equal(t, place.ID, got.ID, "most important node wins without a type")

	pt := types.NodeTypePerson
	got, err = s.FindNodeByName(ctx, "jordan", &pt)
	require.NoError(t, err)
	assert.Equal(t, person.ID, got.ID)

	_, err = s.FindNodeByName(ctx, "Nobody", nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpsertNode_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNode(ctx, &types.GraphNode{Name: "  ", Type: types.NodeTypePerson})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.UpsertNode(ctx, &types.GraphNode{Name: "X", Type: types.NodeTypePerson, Importance: 11})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	n, err := s.UpsertNode(ctx, &types.GraphNode{Name: "Mystery", Type: "spaceship"})
	require.NoError(t, err)
	assert.Equal(t, types.NodeTypeUnknown, n.Type)
	assert.Equal(t, types.StatusActive, n.Status)
	assert.Equal(t, 1.0, n.Confidence)
}

func TestUpsertNode_AttachesTagsInSameWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertNode(ctx, &types.GraphNode{
		Name: "잔디밭 분쟁", Type: types.NodeTypeCase, Importance: 6,
		Tags: []string{"#garden", "neighbors"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"garden", "neighbors"}, n.Tags)

	tags, err := s.GetNodeTags(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

func TestUpsertEdge_UpdatesWeightInsteadOfDuplicating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustNode(t, s, "민수씨", types.NodeTypePerson, 5)
	b := mustNode(t, s, "잔디밭 분쟁", types.NodeTypeCase, 6)

	e1 := mustEdge(t, s, a, b, "involved_in")
	assert.Equal(t, types.DefaultEdgeWeight, e1.Weight)

	e2, err := s.UpsertEdge(ctx, &types.GraphEdge{
		FromNode: a.ID, ToNode: b.ID, Relationship: "Involved In", Weight: 0.4, Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
	assert.Equal(t, 0.4, e2.Weight)
	assert.Equal(t, 0.7, e2.Confidence)

	edges, err := s.GetEdgesForNode(ctx, a.ID, storage.EdgeQuery{})
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestUpsertEdge_RequiresExistingEndpoints(t *testing.T) {
	s := newTestStore(t)
	a := mustNode(t, s, "A", types.NodeTypePerson, 5)

	_, err := s.UpsertEdge(context.Background(), &types.GraphEdge{FromNode: a.ID, ToNode: "missing", Relationship: "knows"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.UpsertEdge(context.Background(), &types.GraphEdge{FromNode: a.ID, ToNode: a.ID})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestGetEdgesForNode_DirectionAndTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustNode(t, s, "A", types.NodeTypePerson, 5)
	b := mustNode(t, s, "B", types.NodeTypePerson, 5)
	c := mustNode(t, s, "C", types.NodeTypePlace, 5)

	mustEdge(t, s, a, b, "knows")
	mustEdge(t, s, c, a, "home_of")
	mustEdge(t, s, a, c, "visited")

	out, err := s.GetEdgesForNode(ctx, a.ID, storage.EdgeQuery{Direction: types.DirectionOut})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	in, err := s.GetEdgesForNode(ctx, a.ID, storage.EdgeQuery{Direction: types.DirectionIn})
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "home_of", in[0].Relationship)

	typed, err := s.GetEdgesForNode(ctx, a.ID, storage.EdgeQuery{RelationshipTypes: []string{"knows", "visited"}})
	require.NoError(t, err)
	assert.Len(t, typed, 2)
}

func TestDeleteNode_CascadesEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hub := mustNode(t, s, "Hub", types.NodeTypeTopic, 5)
	x := mustNode(t, s, "X", types.NodeTypePerson, 5)
	y := mustNode(t, s, "Y", types.NodeTypePerson, 5)
	mustEdge(t, s, hub, x, "about")
	mustEdge(t, s, y, hub, "mentions")
	mustEdge(t, s, x, y, "knows")

	require.NoError(t, s.DeleteNode(ctx, hub.ID))

	_, err := s.GetNode(ctx, hub.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	for _, other := range []*types.GraphNode{x, y} {
		edges, err := s.GetEdgesForNode(ctx, other.ID, storage.EdgeQuery{})
		require.NoError(t, err)
		for _, e := range edges {
			assert.False(t, e.Touches(hub.ID), "edge %s still touches deleted node", e.ID)
		}
		assert.Len(t, edges, 1)
	}

	assert.ErrorIs(t, s.DeleteNode(ctx, hub.ID), storage.ErrNotFound)
}

func TestSearchNodes_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustNode(t, s, "Alice Park", types.NodeTypePerson, 8)
	mustNode(t, s, "Alicia Keys", types.NodeTypePerson, 2)
	mustNode(t, s, "Alice Springs", types.NodeTypePlace, 6)
	mustNode(t, s, "100%_done", types.NodeTypeTopic, 5)

	pt := types.NodeTypePerson
	got, err := s.SearchNodes(ctx, storage.NodeFilter{Type: &pt, NamePattern: "ALIC"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Alice Park", got[0].Name, "ordered by importance")

	got, err = s.SearchNodes(ctx, storage.NodeFilter{NamePattern: "alice", MinImportance: 7})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice Park", got[0].Name)

	got, err = s.SearchNodes(ctx, storage.NodeFilter{NamePattern: "%_"})
	require.NoError(t, err)
	require.Len(t, got, 1, "LIKE wildcards are matched literally")
}

func TestNodeNames_Unlimited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 600; i++ {
		mustNode(t, s, fmt.Sprintf("Node %03d", i), types.NodeTypeTopic, 5)
	}
	mustNode(t, s, "Garden", types.NodeTypePlace, 1)

	names, err := s.NodeNames(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 601)
	assert.Contains(t, names, "Garden")
}

func TestTags_UsageCountIncrementsOnReuse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := mustNode(t, s, "Garden", types.NodeTypeTopic, 5)

	first, err := s.EnsureTag(ctx, "outdoors", "hobby")
	require.NoError(t, err)
	assert.Equal(t, 1, first.UsageCount)

	again, err := s.EnsureTag(ctx, "#Outdoors", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.UsageCount)
	assert.Equal(t, "hobby", again.Category, "category survives a reuse without one")

	require.NoError(t, s.TagNode(ctx, n.ID, "outdoors"))
	require.NoError(t, s.TagNode(ctx, n.ID, "weekend"))
	assert.ErrorIs(t, s.TagNode(ctx, "missing", "x"), storage.ErrNotFound)

	popular, err := s.GetPopularTags(ctx, 1)
	require.NoError(t, err)
	require.Len(t, popular, 1)
	assert.Equal(t, "outdoors", popular[0].Tag)
	assert.Equal(t, 3, popular[0].UsageCount)

	_, err = s.EnsureTag(ctx, "  ", "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
