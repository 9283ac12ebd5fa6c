package engine

import (
	"time"

	"github.com/scrypster/memento-graph/pkg/types"
)

// Observer receives engine activity for metrics. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveStore(nodes, edges int)
	ObserveIndex(chunks, deleted int)
	ObserveSearch(queryType types.QueryType, elapsed time.Duration, results, related int, failed bool)
}

type nopObserver struct{}

func (nopObserver) ObserveStore(int, int) {}
func (nopObserver) ObserveIndex(int, int) {}
func (nopObserver) ObserveSearch(types.QueryType, time.Duration, int, int, bool) {}
