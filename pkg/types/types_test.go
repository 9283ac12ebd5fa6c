package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/memento-graph/pkg/types"
)

func TestParseNodeType(t *testing.T) {
	for _, nt := range types.ValidNodeTypes {
		assert.Equal(t, nt, types.ParseNodeType(string(nt)))
	}
	assert.Equal(t, types.NodeTypePerson, types.ParseNodeType("  Person "))
	assert.Equal(t, types.NodeTypeUnknown, types.ParseNodeType("spaceship"))
	assert.Equal(t, types.NodeTypeUnknown, types.ParseNodeType(""))
	assert.False(t, types.NodeTypeUnknown.IsValid())
}

func TestParseNodeStatus(t *testing.T) {
	assert.Equal(t, types.StatusActive, types.ParseNodeStatus(""))
	assert.Equal(t, types.StatusResolved, types.ParseNodeStatus("RESOLVED"))
	assert.Equal(t, types.StatusArchived, types.ParseNodeStatus("archived"))
	assert.Equal(t, types.StatusUnknown, types.ParseNodeStatus("pending"))
}

func TestParseEntryType(t *testing.T) {
	for _, et := range types.ValidEntryTypes {
		assert.Equal(t, et, types.ParseEntryType(string(et)))
	}
	assert.Equal(t, types.EntryUnknown, types.ParseEntryType("poem"))
}

func TestParseDirection(t *testing.T) {
	assert.Equal(t, types.DirectionIn, types.ParseDirection("in"))
	assert.Equal(t, types.DirectionOut, types.ParseDirection("OUT"))
	assert.Equal(t, types.DirectionBoth, types.ParseDirection(""))
	assert.Equal(t, types.DirectionBoth, types.ParseDirection("sideways"))
}

func TestParseQueryType(t *testing.T) {
	assert.Equal(t, types.QueryExact, types.ParseQueryType("exact-query"))
	assert.Equal(t, types.QuerySemantic, types.ParseQueryType("nonsense"))
}

func TestSearchWeightsNormalized(t *testing.T) {
	w := types.SearchWeights{Vector: 2, BM25: 1, Graph: 1}.Normalized()
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	assert.InDelta(t, 0.5, w.Vector, 1e-9)

	w = types.SearchWeights{Vector: -1, BM25: 1}.Normalized()
	assert.Equal(t, 0.0, w.Vector)
	assert.InDelta(t, 1.0, w.BM25, 1e-9)

	assert.Equal(t, types.SearchWeights{}, types.SearchWeights{}.Normalized())
}

func TestChunkMetadataPeople(t *testing.T) {
	m := types.ChunkMetadata{People: []types.PersonRef{
		{Name: "민수씨", Identifier: "neighbor, 40s, gardens"},
		{Name: "Alice"},
	}}
	assert.Equal(t, []string{"민수씨", "Alice"}, m.PeopleNames())
	assert.True(t, m.MentionsPerson("alice"))
	assert.False(t, m.MentionsPerson("Bob"))
	assert.Equal(t, "민수씨 (neighbor, 40s, gardens)", m.People[0].String())
}

func TestGraphEdgeOther(t *testing.T) {
	e := types.GraphEdge{FromNode: "a", ToNode: "b"}
	assert.True(t, e.Touches("a"))
	assert.False(t, e.Touches("c"))
	assert.Equal(t, "b", e.Other("a"))
	assert.Equal(t, "a", e.Other("b"))
}
