package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const MaxNoteLength = 280

// Payload is the type-specific body of an event. Each event type has exactly one implementation.
type Payload interface {
	EventType() EventType
	Validate() error
	sealed()
}

type VisitPayload struct {
	Note   *string `json:"note,omitempty"`
	Points *int64  `json:"points,omitempty"`
}

type CheckinPayload struct {
	Note *string `json:"note,omitempty"`
}

type CheckoutPayload struct {
	DurationSec *int64  `json:"duration_sec,omitempty"`
	Points      *int64  `json:"points,omitempty"`
	Note        *string `json:"note,omitempty"`
}

type RedeemPayload struct {
	RewardID     snowflake.ID  `json:"reward_id"`
	RedemptionID *snowflake.ID `json:"redemption_id,omitempty"`
	PointsSpent  *int64        `json:"points_spent,omitempty"`
}

type ReviewProvider string

const (
	ReviewProviderGoogle ReviewProvider = "google"
	ReviewProviderOther  ReviewProvider = "other"
)

type ReviewPayload struct {
	Provider ReviewProvider `json:"provider"`
	URL      string         `json:"url,omitempty"`
}

type RatingPayload struct {
	Stars int     `json:"stars"`
	Note  *string `json:"note,omitempty"`
}

type PointsAdjustPayload struct {
	DeltaPoints int64  `json:"delta_points"`
	Reason      string `json:"reason"`
}

func (VisitPayload) EventType() EventType        { return EventTypeVisit }
func (CheckinPayload) EventType() EventType      { return EventTypeCheckin }
func (CheckoutPayload) EventType() EventType     { return EventTypeCheckout }
func (RedeemPayload) EventType() EventType       { return EventTypeRedeem }
func (ReviewPayload) EventType() EventType       { return EventTypeReview }
func (RatingPayload) EventType() EventType       { return EventTypeRating }
func (PointsAdjustPayload) EventType() EventType { return EventTypePointsAdjust }

func (VisitPayload) sealed()        {}
func (CheckinPayload) sealed()      {}
func (CheckoutPayload) sealed()     {}
func (RedeemPayload) sealed()       {}
func (ReviewPayload) sealed()       {}
func (RatingPayload) sealed()       {}
func (PointsAdjustPayload) sealed() {}

func (p VisitPayload) Validate() error {
	if err := validateNote(p.Note); err != nil {
		return err
	}
	if p.Points != nil && *p.Points < 0 {
		return payloadError("points must not be negative")
	}
	return nil
}

func (p CheckinPayload) Validate() error {
	return validateNote(p.Note)
}

func (p CheckoutPayload) Validate() error {
	if p.DurationSec != nil && *p.DurationSec < 0 {
		return payloadError("duration_sec must not be negative")
	}
	if p.Points != nil && *p.Points < 0 {
		return payloadError("points must not be negative")
	}
	return validateNote(p.Note)
}

func (p RedeemPayload) Validate() error {
	if p.RewardID == 0 {
		return payloadError("reward_id is required")
	}
	if p.RedemptionID != nil && *p.RedemptionID == 0 {
		return payloadError("redemption_id is invalid")
	}
	if p.PointsSpent != nil && *p.PointsSpent < 0 {
		return payloadError("points_spent must not be negative")
	}
	return nil
}

func (p ReviewPayload) Validate() error {
	switch p.Provider {
	case ReviewProviderGoogle, ReviewProviderOther:
	default:
		return payloadError("provider must be google or other")
	}
	if p.URL != "" {
		parsed, err := url.Parse(p.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return payloadError("url must be absolute")
		}
	}
	return nil
}

func (p RatingPayload) Validate() error {
	if p.Stars < 1 || p.Stars > 5 {
		return payloadError("stars must be between 1 and 5")
	}
	return validateNote(p.Note)
}

func (p PointsAdjustPayload) Validate() error {
	if p.DeltaPoints == 0 {
		return payloadError("delta_points must be non-zero")
	}
	reason := strings.TrimSpace(p.Reason)
	if reason == "" || utf8.RuneCountInString(reason) > MaxNoteLength {
		return payloadError("reason must be 1-280 characters")
	}
	return nil
}

// DecodePayload parses raw JSON into the payload type registered for eventType and validates it.
func DecodePayload(eventType EventType, raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	var (
		payload Payload
		err     error
	)
	switch eventType {
	case EventTypeVisit:
		payload, err = decodeInto[VisitPayload](raw)
	case EventTypeCheckin:
		payload, err = decodeInto[CheckinPayload](raw)
	case EventTypeCheckout:
		payload, err = decodeInto[CheckoutPayload](raw)
	case EventTypeRedeem:
		payload, err = decodeInto[RedeemPayload](raw)
	case EventTypeReview:
		var p ReviewPayload
		if err = json.Unmarshal(raw, &p); err == nil {
			if p.Provider == "" {
				p.Provider = ReviewProviderGoogle
			}
			payload = p
		}
	case EventTypeRating:
		payload, err = decodeInto[RatingPayload](raw)
	case EventTypePointsAdjust:
		payload, err = decodeInto[PointsAdjustPayload](raw)
	default:
		return nil, ErrInvalidType
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err.Error())
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// DecodePayloadMap is DecodePayload for payloads already held as a JSON map.
func DecodePayloadMap(eventType EventType, m datatypes.JSONMap) (Payload, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err.Error())
	}
	return DecodePayload(eventType, raw)
}

// PayloadMap converts a typed payload into its stored JSON form.
func PayloadMap(p Payload) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	out := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeInto[T Payload](raw []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func validateNote(note *string) error {
	if note != nil && utf8.RuneCountInString(*note) > MaxNoteLength {
		return payloadError("note must be at most 280 characters")
	}
	return nil
}

func payloadError(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, detail)
}
