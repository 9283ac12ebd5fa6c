package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// List returns the snapshots of workspace, newest first. A missing
// directory is not an error.
func (m *Manager) List(workspace string) ([]Info, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		t, ok := parseName(e.Name(), workspace)
		if !ok {
			continue
		}
		out = append(out, Info{
			Workspace: workspace,
			Path:      filepath.Join(m.dir, e.Name()),
			Time:      t,
			Size:      e.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

// Prune removes the snapshots of workspace that policy does not keep and
// returns them. Negative counts in policy mean the default for that tier.
func (m *Manager) Prune(workspace string, policy Policy) ([]Info, error) {
	snaps, err := m.List(workspace)
	if err != nil {
		return nil, err
	}
	drop := expired(snaps, policy.withDefaults(), m.now())

	var removed []Info
	var lastErr error
	for _, s := range drop {
		if err := m.fs.Remove(s.Path); err != nil {
			lastErr = err
			m.logger.Warn("failed to remove snapshot", zap.String("path", s.Path), zap.Error(err))
			continue
		}
		removed = append(removed, s)
	}
	if lastErr != nil {
		return removed, fmt.Errorf("failed to remove some snapshots: %w", lastErr)
	}
	if len(removed) > 0 {
		m.logger.Info("snapshots pruned", zap.String("workspace", workspace), zap.Int("removed", len(removed)))
	}
	return removed, nil
}

// expired sorts newest-first snapshots into age tiers and returns those
// beyond each tier's quota.
func expired(snaps []Info, p Policy, now time.Time) []Info {
	const day = 24 * time.Hour
	var hourly, daily, weekly, monthly, drop []Info
	for _, s := range snaps {
		switch age := now.Sub(s.Time); {
		case age < day:
			hourly = append(hourly, s)
		case age < 7*day:
			daily = append(daily, s)
		case age < 30*day:
			weekly = append(weekly, s)
		case age < 365*day:
			monthly = append(monthly, s)
		default:
			drop = append(drop, s)
		}
	}
	drop = append(drop, beyond(hourly, p.Hourly)...)
	drop = append(drop, beyond(daily, p.Daily)...)
	drop = append(drop, beyond(weekly, p.Weekly)...)
	drop = append(drop, beyond(monthly, p.Monthly)...)
	return drop
}

func beyond(tier []Info, keep int) []Info {
	if len(tier) <= keep {
		return nil
	}
	return tier[keep:]
}
