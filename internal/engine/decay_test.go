package engine

import (
	"math"
	"testing"
	"time"

	"github.com/scrypster/memento-graph/pkg/types"
)

var decayNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) *time.Time {
	t := decayNow.Add(-time.Duration(d * 24 * float64(time.Hour)))
	return &t
}

func TestApplyTimeDecay_NilLastAccessedIsIdentity(t *testing.T) {
	for _, base := range []float64{0, 0.3, 1, 7.5} {
		for _, st := range []types.NodeStatus{types.StatusActive, types.StatusResolved, types.StatusArchived} {
			if got := ApplyTimeDecay(base, nil, st, 3, decayNow); got != base {
				t.Errorf("ApplyTimeDecay(%v, nil, %s) = %v, want unchanged", base, st, got)
			}
		}
	}
}

func TestApplyTimeDecay_HalfLives(t *testing.T) {
	tests := []struct {
		status types.NodeStatus
		days   float64
	}{
		{types.StatusActive, 90},
		{types.StatusResolved, 45},
		{types.StatusArchived, 15},
	}
	for _, tt := range tests {
		got := ApplyTimeDecay(1.0, daysAgo(tt.days), tt.status, 0, decayNow)
		if math.Abs(got-0.5) > 1e-9 {
			t.Errorf("%s after %v days = %v, want 0.5", tt.status, tt.days, got)
		}
	}
}

func TestApplyTimeDecay_ArchivedDecaysFastest(t *testing.T) {
	last := daysAgo(30)
	active := ApplyTimeDecay(1, last, types.StatusActive, 0, decayNow)
	resolved := ApplyTimeDecay(1, last, types.StatusResolved, 0, decayNow)
	archived := ApplyTimeDecay(1, last, types.StatusArchived, 0, decayNow)
	if !(active > resolved && resolved > archived) {
		t.Errorf("expected active > resolved > archived, got %v %v %v", active, resolved, archived)
	}
}

func TestApplyTimeDecay_MonotoneInElapsedTime(t *testing.T) {
	for _, st := range []types.NodeStatus{types.StatusActive, types.StatusResolved, types.StatusArchived, types.StatusUnknown} {
		for _, count := range []int{0, 1, 5, 100} {
			prev := math.Inf(1)
			for d := 0.0; d <= 400; d += 7 {
				got := ApplyTimeDecay(0.8, daysAgo(d), st, count, decayNow)
				if got > prev {
					t.Fatalf("%s count=%d: score rose from %v to %v at day %v", st, count, prev, got, d)
				}
				prev = got
			}
		}
	}
}

func TestApplyTimeDecay_PreservesOrder(t *testing.T) {
	last := daysAgo(60)
	low := ApplyTimeDecay(0.4, last, types.StatusResolved, 2, decayNow)
	high := ApplyTimeDecay(0.9, last, types.StatusResolved, 2, decayNow)
	if high <= low {
		t.Errorf("higher base must stay higher: %v <= %v", high, low)
	}
}

func TestApplyTimeDecay_AccessCountDampens(t *testing.T) {
	last := daysAgo(90)
	never := ApplyTimeDecay(1, last, types.StatusActive, 0, decayNow)
	often := ApplyTimeDecay(1, last, types.StatusActive, 20, decayNow)
	if often <= never {
		t.Errorf("frequent access should resist decay: %v <= %v", often, never)
	}
}

func TestApplyTimeDecay_FutureAccessIsNoDecay(t *testing.T) {
	future := decayNow.Add(48 * time.Hour)
	if got := ApplyTimeDecay(0.7, &future, types.StatusArchived, 0, decayNow); got != 0.7 {
		t.Errorf("future access should not decay, got %v", got)
	}
}

func TestDecayConfig_CustomHalfLife(t *testing.T) {
	cfg := DecayConfig{ActiveHalfLifeDays: 10}
	got := cfg.Apply(1, daysAgo(10), types.StatusActive, 0, decayNow)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("custom half-life: got %v, want 0.5", got)
	}
	if cfg.HalfLife(types.StatusArchived) != 15 {
		t.Errorf("unset fields should keep defaults, got %v", cfg.HalfLife(types.StatusArchived))
	}
}
