// Package domain holds the data types shared across the hibernation proxy:
// the site lifecycle state machine, connection/state records, and the
// sentinel errors the store and controller layers return.
package domain

import "time"

// SiteState is a site's position in the four-state lifecycle machine.
type SiteState string

const (
	StateUnknown  SiteState = "unknown"
	StateDown     SiteState = "down"
	StateUp       SiteState = "up"
	StateStarting SiteState = "starting"
)

// IsUp reports whether the site is currently serving traffic.
func (s SiteState) IsUp() bool {
	return s == StateUp
}

func (s SiteState) String() string {
	return string(s)
}

// StateChangeRecord is one durable, append-only row in the states table.
type StateChangeRecord struct {
	SiteName string
	At       time.Time
	State    SiteState
}

// StateRange is a run of consecutive same-state rows, collapsed for the
// state-history-ranges API.
type StateRange struct {
	Start   time.Time `json:"start_time"`
	End     time.Time `json:"end_time"`
	Service string    `json:"service"`
	State   SiteState `json:"state"`
}
