package engine

import (
	"math"
	"time"

	"github.com/scrypster/memento-graph/pkg/types"
)

// DecayConfig holds the half-life, in days, of each status. Zero fields take
// the defaults.
type DecayConfig struct {
	ActiveHalfLifeDays   float64 `mapstructure:"active_half_life_days" validate:"gte=0"`
	ResolvedHalfLifeDays float64 `mapstructure:"resolved_half_life_days" validate:"gte=0"`
	ArchivedHalfLifeDays float64 `mapstructure:"archived_half_life_days" validate:"gte=0"`
}

// DefaultDecayConfig returns 90, 45 and 15 day half-lives for active,
// resolved and archived items.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		ActiveHalfLifeDays:   90,
		ResolvedHalfLifeDays: 45,
		ArchivedHalfLifeDays: 15,
	}
}

func (c DecayConfig) withDefaults() DecayConfig {
	d := DefaultDecayConfig()
	if c.ActiveHalfLifeDays > 0 {
		d.ActiveHalfLifeDays = c.ActiveHalfLifeDays
	}
	if c.ResolvedHalfLifeDays > 0 {
		d.ResolvedHalfLifeDays = c.ResolvedHalfLifeDays
	}
	if c.ArchivedHalfLifeDays > 0 {
		d.ArchivedHalfLifeDays = c.ArchivedHalfLifeDays
	}
	return d
}

// HalfLife returns the half-life in days for status. Unknown statuses decay
// like active ones.
func (c DecayConfig) HalfLife(status types.NodeStatus) float64 {
	c = c.withDefaults()
	switch status {
	case types.StatusResolved:
		return c.ResolvedHalfLifeDays
	case types.StatusArchived:
		return c.ArchivedHalfLifeDays
	default:
		return c.ActiveHalfLifeDays
	}
}

// Apply decays base by the time elapsed since lastAccessed:
//
//	base * 2^(-days / (halfLife(status) * (1 + 0.5*ln(1+accessCount))))
//
// A nil lastAccessed returns base unchanged. Access times after now count
// as no elapsed time.
func (c DecayConfig) Apply(base float64, lastAccessed *time.Time, status types.NodeStatus, accessCount int, now time.Time) float64 {
	if lastAccessed == nil {
		return base
	}
	days := now.Sub(*lastAccessed).Hours() / 24
	if days <= 0 {
		return base
	}
	if accessCount < 0 {
		accessCount = 0
	}
	halfLife := c.HalfLife(status) * (1 + 0.5*math.Log1p(float64(accessCount)))
	return base * math.Pow(2, -days/halfLife)
}

// ApplyTimeDecay applies the default half-lives. See DecayConfig.Apply.
func ApplyTimeDecay(base float64, lastAccessed *time.Time, status types.NodeStatus, accessCount int, now time.Time) float64 {
	return DefaultDecayConfig().Apply(base, lastAccessed, status, accessCount, now)
}
