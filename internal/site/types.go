package site

import (
	"slices"
	"time"

	"github.com/nerrad567/sitewatch-core/internal/controller"
)

// Site is a facility grouping controllers.
//
// Status is a cache of DeriveStatus over the member controllers; it is
// refreshed by Service.RecalculateStatus and never edited directly.
type Site struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Status          Status     `json:"status"`
	StatusUpdatedAt *time.Time `json:"status_updated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Status is the aggregate reachability of a site.
type Status string

// Status constants.
const (
	StatusUnknown Status = "UNKNOWN"
	StatusOnline  Status = "ONLINE"
	StatusPartial Status = "PARTIAL"
	StatusOffline Status = "OFFLINE"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusUnknown, StatusOnline, StatusPartial, StatusOffline}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses(), s)
}

// DeriveStatus aggregates member controller statuses.
//
// No members is UNKNOWN. All ONLINE is ONLINE; all OFFLINE is OFFLINE.
// Any other mix is PARTIAL; an UNKNOWN member counts as not online.
func DeriveStatus(members []controller.Status) Status {
	if len(members) == 0 {
		return StatusUnknown
	}

	online, offline := 0, 0
	for _, m := range members {
		switch m {
		case controller.StatusOnline:
			online++
		case controller.StatusOffline:
			offline++
		}
	}

	switch {
	case online == len(members):
		return StatusOnline
	case offline == len(members):
		return StatusOffline
	default:
		return StatusPartial
	}
}
