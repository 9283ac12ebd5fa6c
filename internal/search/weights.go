package search

import (
	"math"

	"github.com/scrypster/memento-graph/pkg/types"
)

var defaultWeights = map[types.QueryType]types.SearchWeights{
	types.QueryEntity:    {Vector: 0.2, BM25: 0.2, Graph: 0.6},
	types.QuerySemantic:  {Vector: 0.6, BM25: 0.3, Graph: 0.1},
	types.QueryTemporal:  {Vector: 0.4, BM25: 0.3, Graph: 0.3},
	types.QueryExact:     {Vector: 0.1, BM25: 0.5, Graph: 0.4},
	types.QueryKnowledge: {Vector: 0.5, BM25: 0.3, Graph: 0.2},
}

// WeightOverrides replaces individual weights. Nil fields keep the default.
type WeightOverrides struct {
	Vector *float64 `json:"vector,omitempty"`
	BM25   *float64 `json:"bm25,omitempty"`
	Graph  *float64 `json:"graph,omitempty"`
}

// IsZero reports whether no field is set.
func (o *WeightOverrides) IsZero() bool {
	return o == nil || (o.Vector == nil && o.BM25 == nil && o.Graph == nil)
}

// DefaultWeights returns the weight profile of t. Unknown types get the
// semantic profile.
func DefaultWeights(t types.QueryType) types.SearchWeights {
	if w, ok := defaultWeights[t]; ok {
		return w
	}
	return defaultWeights[types.QuerySemantic]
}

// GetSearchWeights applies overrides to the defaults of t and re-normalises
// the result to sum to 1.0. Overrides that leave nothing positive, or that
// carry NaN or an infinity, fall back to the defaults.
func GetSearchWeights(t types.QueryType, overrides *WeightOverrides) types.SearchWeights {
	w := DefaultWeights(t)
	if overrides.IsZero() || !overrides.finite() {
		return w
	}
	if overrides.Vector != nil {
		w.Vector = *overrides.Vector
	}
	if overrides.BM25 != nil {
		w.BM25 = *overrides.BM25
	}
	if overrides.Graph != nil {
		w.Graph = *overrides.Graph
	}

	n := w.Normalized()
	if n.Sum() == 0 {
		return DefaultWeights(t)
	}
	return n
}

func (o *WeightOverrides) finite() bool {
	for _, v := range []*float64{o.Vector, o.BM25, o.Graph} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return false
		}
	}
	return true
}
