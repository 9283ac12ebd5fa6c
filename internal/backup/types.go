// Package backup snapshots workspace databases with VACUUM INTO and prunes
// old snapshots by age tier.
package backup

import "time"

// Policy is how many snapshots to keep in each age tier. Snapshots older
// than a year are always removed.
type Policy struct {
	Hourly  int `json:"hourly"`  // younger than a day
	Daily   int `json:"daily"`   // younger than a week
	Weekly  int `json:"weekly"`  // younger than 30 days
	Monthly int `json:"monthly"` // younger than a year
}

// DefaultPolicy keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultPolicy() Policy {
	return Policy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// withDefaults replaces negative counts with the default for that tier.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Hourly < 0 {
		p.Hourly = d.Hourly
	}
	if p.Daily < 0 {
		p.Daily = d.Daily
	}
	if p.Weekly < 0 {
		p.Weekly = d.Weekly
	}
	if p.Monthly < 0 {
		p.Monthly = d.Monthly
	}
	return p
}

// Info describes one snapshot file.
type Info struct {
	Workspace string        `json:"workspace"`
	Path      string        `json:"path"`
	Time      time.Time     `json:"time"`
	Size      int64         `json:"size"`
	Verified  bool          `json:"verified"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// timeLayout is embedded in snapshot names: <workspace>-<time>.db.
const timeLayout = "20060102T150405Z"
