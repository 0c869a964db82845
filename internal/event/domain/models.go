package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventTypeVisit        EventType = "visit"
	EventTypeCheckin      EventType = "checkin"
	EventTypeCheckout     EventType = "checkout"
	EventTypeRedeem       EventType = "redeem"
	EventTypeReview       EventType = "review"
	EventTypeRating       EventType = "rating"
	EventTypePointsAdjust EventType = "points_adjust"
)

// PresenceEventTypes are the only event types that move a customer in or out of a venue.
var PresenceEventTypes = []EventType{EventTypeCheckin, EventTypeCheckout}

func (t EventType) Valid() bool {
	switch t {
	case EventTypeVisit,
		EventTypeCheckin,
		EventTypeCheckout,
		EventTypeRedeem,
		EventTypeReview,
		EventTypeRating,
		EventTypePointsAdjust:
		return true
	default:
		return false
	}
}

// Event is an immutable customer fact. Rows are only ever inserted.
type Event struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID snowflake.ID      `gorm:"not null;index:idx_events_merchant_occurred,priority:1" json:"merchant_id"`
	BranchID   *snowflake.ID     `gorm:"index" json:"branch_id,omitempty"`
	CustomerID snowflake.ID      `gorm:"not null;index:idx_events_customer_occurred,priority:1" json:"customer_id"`
	StaffID    *snowflake.ID     `json:"staff_id,omitempty"`
	Type       EventType         `gorm:"type:text;not null" json:"type"`
	Payload    datatypes.JSONMap `gorm:"not null" json:"payload"`
	OccurredAt time.Time         `gorm:"not null;index:idx_events_merchant_occurred,priority:2;index:idx_events_customer_occurred,priority:2" json:"occurred_at"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "events" }

// DecodedPayload returns the typed payload stored on the event.
func (e Event) DecodedPayload() (Payload, error) {
	return DecodePayloadMap(e.Type, e.Payload)
}
