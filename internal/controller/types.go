package controller

import (
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Controller is a registered physical device controller at a facility.
//
// Status is owned by the health-check scheduler; administrative edits may
// also set it. Everything else is administrative data.
type Controller struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	// Code identifies the wire protocol (e.g. "PLS", "MQTT"). It is stored
	// as given and resolved case-insensitively.
	Code string `json:"code"`

	Host string `json:"host"`
	Port int    `json:"port"`

	Status Status `json:"status"`

	// SiteID is the facility the controller belongs to. Nil when unassigned.
	SiteID *string `json:"site_id,omitempty"`

	Config Config `json:"config"`

	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Config holds protocol-specific connection settings stored as JSON.
type Config struct {
	// Lanes lists the lane identifiers wired to this controller.
	// Empty means the controller does not restrict lanes locally.
	Lanes []string `json:"lanes,omitempty"`

	// DisplayCharset is the text encoding for display lines ("utf-8", "euc-kr").
	DisplayCharset string `json:"display_charset,omitempty"`

	// DeviceID is the device identifier used in MQTT topics. Defaults to the
	// controller Host.
	DeviceID string `json:"device_id,omitempty"`

	// TimeoutMS overrides the adapter I/O timeout for slow links.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// Status is the reachability of a controller as last observed.
type Status string

// Status constants.
const (
	StatusUnknown Status = "UNKNOWN"
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusUnknown, StatusOnline, StatusOffline}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses(), s)
}

// StatusFromHealth maps a probe outcome to a status.
func StatusFromHealth(healthy bool) Status {
	if healthy {
		return StatusOnline
	}
	return StatusOffline
}

// ProtocolCode returns the normalised code used for adapter lookup.
func (c *Controller) ProtocolCode() string {
	return strings.ToUpper(strings.TrimSpace(c.Code))
}

// Address returns host:port, substituting defaultPort when Port is unset.
func (c *Controller) Address(defaultPort int) string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// HasLane reports whether lane is configured. A controller without a lane
// list accepts every lane and leaves rejection to the device.
func (c *Controller) HasLane(lane string) bool {
	if len(c.Config.Lanes) == 0 {
		return true
	}
	return slices.Contains(c.Config.Lanes, lane)
}

// IOTimeout returns the per-controller timeout override, or fallback.
func (c *Controller) IOTimeout(fallback time.Duration) time.Duration {
	if c.Config.TimeoutMS > 0 {
		return time.Duration(c.Config.TimeoutMS) * time.Millisecond
	}
	return fallback
}

// SiteKey returns the site ID or "" when unassigned.
func (c *Controller) SiteKey() string {
	if c.SiteID == nil {
		return ""
	}
	return *c.SiteID
}

// Filter narrows a controller listing. Zero values match everything.
type Filter struct {
	SiteID *string
	Code   string
	Status Status
}

// Sort orders a controller listing.
type Sort struct {
	Field string
	Desc  bool
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name   *string
	Code   *string
	Host   *string
	Port   *int
	Status *Status
	Config *Config

	// SiteID sets the site assignment; ClearSite removes it.
	SiteID    *string
	ClearSite bool
}

// StatusOnly reports whether the patch changes the status and nothing else.
func (p Patch) StatusOnly() bool {
	return p.Status != nil && p.Name == nil && p.Code == nil && p.Host == nil &&
		p.Port == nil && p.Config == nil && p.SiteID == nil && !p.ClearSite
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Code == nil && p.Host == nil && p.Port == nil &&
		p.Status == nil && p.Config == nil && p.SiteID == nil && !p.ClearSite
}
