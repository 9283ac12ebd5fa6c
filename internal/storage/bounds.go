package storage

import (
	"context"
	"fmt"
	"time"
)

// BoundsChecker tracks and enforces graph traversal bounds so that a dense
// neighbourhood cannot turn one explore call into an unbounded scan.
//
// It monitors nodes emitted, edges examined and time elapsed. Depth is
// bounded by the traversal loop itself. All checks respect context
// cancellation.
type BoundsChecker struct {
	bounds       GraphBounds
	nodesVisited int
	edgesVisited int
	startTime    time.Time
}

// NewBoundsChecker creates a checker. The bounds are normalized first.
func NewBoundsChecker(bounds GraphBounds) *BoundsChecker {
	bounds.Normalize()
	return &BoundsChecker{
		bounds:    bounds,
		startTime: time.Now(),
	}
}

// CanVisitNode reports ErrGraphBoundsExceeded once MaxNodes nodes were recorded.
func (b *BoundsChecker) CanVisitNode() error {
	if b.nodesVisited >= b.bounds.MaxNodes {
		return fmt.Errorf("%w: max nodes (%d) exceeded", ErrGraphBoundsExceeded, b.bounds.MaxNodes)
	}
	return nil
}

// CanContinue checks the context, edge budget and timeout.
func (b *BoundsChecker) CanContinue(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during graph traversal: %w", ctx.Err())
	default:
	}

	if b.edgesVisited >= b.bounds.MaxEdges {
		return fmt.Errorf("%w: max edges (%d) exceeded", ErrGraphBoundsExceeded, b.bounds.MaxEdges)
	}

	if elapsed := time.Since(b.startTime); elapsed >= b.bounds.Timeout {
		return fmt.Errorf("%w: timeout (%v) exceeded after %v", ErrGraphBoundsExceeded, b.bounds.Timeout, elapsed)
	}

	return nil
}

// RecordNode counts one emitted node.
func (b *BoundsChecker) RecordNode() { b.nodesVisited++ }

// RecordEdges counts examined edges.
func (b *BoundsChecker) RecordEdges(n int) { b.edgesVisited += n }

// Visited returns the number of nodes and edges recorded so far.
func (b *BoundsChecker) Visited() (nodes, edges int) {
	return b.nodesVisited, b.edgesVisited
}
