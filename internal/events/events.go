package events

import (
	"context"
	"time"
)

// Type names an event. It doubles as the WebSocket channel name and the
// last segment of the MQTT event topic.
type Type string

// Event types.
const (
	TypeControllerStatusChanged Type = "controller.status_changed"
	TypeSiteStatusChanged       Type = "site.status_changed"
)

// Event is a status transition of a controller or a site.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// ControllerID and Code are set for controller events.
	ControllerID int64  `json:"controller_id,omitempty"`
	Code         string `json:"code,omitempty"`

	// SiteID is the site of a controller event, or the subject of a site event.
	SiteID string `json:"site_id,omitempty"`

	From string `json:"from"`
	To   string `json:"to"`
}

// ControllerStatusChanged builds a controller transition event.
func ControllerStatusChanged(controllerID int64, code, siteID, from, to string) Event {
	return Event{
		Type:         TypeControllerStatusChanged,
		ControllerID: controllerID,
		Code:         code,
		SiteID:       siteID,
		From:         from,
		To:           to,
	}
}

// SiteStatusChanged builds a site transition event.
func SiteStatusChanged(siteID, from, to string) Event {
	return Event{
		Type:   TypeSiteStatusChanged,
		SiteID: siteID,
		From:   from,
		To:     to,
	}
}

// Publisher accepts events. Publish never fails from the caller's point of
// view; delivery problems are the publisher's to log.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) {}
