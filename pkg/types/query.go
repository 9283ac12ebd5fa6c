package types

import "math"

// QueryType is the category a natural-language query falls into. Each
// category carries a default weight profile for fusion search.
type QueryType string

// Query type constants.
const (
	QueryEntity    QueryType = "entity_query"
	QuerySemantic  QueryType = "semantic_query"
	QueryTemporal  QueryType = "temporal_query"
	QueryExact     QueryType = "exact_query"
	QueryKnowledge QueryType = "knowledge_query"
)

// ValidQueryTypes lists every query type.
var ValidQueryTypes = []QueryType{QueryEntity, QuerySemantic, QueryTemporal, QueryExact, QueryKnowledge}

// ParseQueryType maps a string to a QueryType. Unrecognised input yields
// QuerySemantic, the classifier's default category.
func ParseQueryType(s string) QueryType {
	t := QueryType(normaliseEnum(s))
	for _, v := range ValidQueryTypes {
		if t == v {
			return t
		}
	}
	return QuerySemantic
}

// SearchWeights is the three-way weight profile used by fusion search.
type SearchWeights struct {
	Vector float64 `json:"vector"`
	BM25   float64 `json:"bm25"`
	Graph  float64 `json:"graph"`
}

// Sum returns the total of the three weights.
func (w SearchWeights) Sum() float64 {
	return w.Vector + w.BM25 + w.Graph
}

// Normalized returns the weights scaled to sum to 1.0. Negative components
// are clamped to zero first. A zero total returns the zero value.
func (w SearchWeights) Normalized() SearchWeights {
	w.Vector = math.Max(w.Vector, 0)
	w.BM25 = math.Max(w.BM25, 0)
	w.Graph = math.Max(w.Graph, 0)
	sum := w.Sum()
	if sum == 0 {
		return SearchWeights{}
	}
	return SearchWeights{Vector: w.Vector / sum, BM25: w.BM25 / sum, Graph: w.Graph / sum}
}
