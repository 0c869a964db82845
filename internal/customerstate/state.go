// Package customerstate derives a customer's activity status and physical
// presence from event facts. It performs no I/O; callers pass now explicitly.
package customerstate

import (
	"time"

	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
)

type Status string

const (
	StatusNew    Status = "new"
	StatusActive Status = "active"
	StatusRisk   Status = "risk"
	StatusLost   Status = "lost"
)

type Presence string

const (
	PresenceIn  Presence = "in"
	PresenceOut Presence = "out"
)

const (
	ActiveWindow = 30 * 24 * time.Hour
	RiskWindow   = 90 * 24 * time.Hour
)

type StatusInput struct {
	LastEventAt *time.Time
	TotalEvents int64
}

// Input carries the three fact lookups. Presence fields come from the latest
// checkin or checkout only, never from the latest event in general.
type Input struct {
	TotalEvents           int64
	LastEventAt           *time.Time
	LastEventType         *eventdomain.EventType
	LastPresenceEventAt   *time.Time
	LastPresenceEventType *eventdomain.EventType
}

type State struct {
	TotalEvents      int64                  `json:"total_events"`
	LastEventType    *eventdomain.EventType `json:"last_event_type"`
	LastEventAt      *time.Time             `json:"last_event_at"`
	CustomerStatus   Status                 `json:"customer_status"`
	CustomerPresence *Presence              `json:"customer_presence"`
}

// ComputeStatus ages the last event against now. Boundaries are inclusive:
// exactly 30 days is still active and exactly 90 days is still risk.
func ComputeStatus(in StatusInput, now time.Time) Status {
	if in.TotalEvents == 0 || in.LastEventAt == nil {
		return StatusNew
	}

	age := now.Sub(*in.LastEventAt)
	switch {
	case age <= ActiveWindow:
		return StatusActive
	case age <= RiskWindow:
		return StatusRisk
	default:
		return StatusLost
	}
}

// ComputePresence maps the latest presence event type to in or out. Anything else is unknown (nil).
func ComputePresence(lastPresenceType *eventdomain.EventType) *Presence {
	if lastPresenceType == nil {
		return nil
	}

	var presence Presence
	switch *lastPresenceType {
	case eventdomain.EventTypeCheckin:
		presence = PresenceIn
	case eventdomain.EventTypeCheckout:
		presence = PresenceOut
	default:
		return nil
	}
	return &presence
}

func Compute(in Input, now time.Time) State {
	return State{
		TotalEvents:   in.TotalEvents,
		LastEventType: in.LastEventType,
		LastEventAt:   in.LastEventAt,
		CustomerStatus: ComputeStatus(StatusInput{
			LastEventAt: in.LastEventAt,
			TotalEvents: in.TotalEvents,
		}, now),
		CustomerPresence: ComputePresence(in.LastPresenceEventType),
	}
}

// FromFacts adapts event facts into an Input.
func FromFacts(facts eventdomain.CustomerFacts) Input {
	in := Input{TotalEvents: facts.TotalEvents}
	if facts.LastEvent != nil {
		at := facts.LastEvent.OccurredAt
		eventType := facts.LastEvent.Type
		in.LastEventAt = &at
		in.LastEventType = &eventType
	}
	if facts.LastPresenceEvent != nil {
		at := facts.LastPresenceEvent.OccurredAt
		eventType := facts.LastPresenceEvent.Type
		in.LastPresenceEventAt = &at
		in.LastPresenceEventType = &eventType
	}
	return in
}
