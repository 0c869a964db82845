package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type AppendRequest struct {
	MerchantID snowflake.ID
	CustomerID snowflake.ID
	BranchID   *snowflake.ID
	StaffID    *snowflake.ID
	Payload    Payload
	OccurredAt *time.Time
}

type FactsQuery struct {
	MerchantID snowflake.ID
	CustomerID snowflake.ID
	BranchID   *snowflake.ID
}

// CustomerFacts are the three independent lookups the customer state derivation needs.
type CustomerFacts struct {
	TotalEvents       int64
	LastEvent         *Event
	LastPresenceEvent *Event
}

type Service interface {
	Append(ctx context.Context, req AppendRequest) (Event, error)
	AppendTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (Event, error)
	Get(ctx context.Context, merchantID, id snowflake.ID) (Event, error)
	Facts(ctx context.Context, query FactsQuery) (CustomerFacts, error)
}

var (
	ErrInvalidMerchant   = errors.New("invalid_merchant")
	ErrInvalidCustomer   = errors.New("invalid_customer")
	ErrInvalidType       = errors.New("invalid_type")
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrInvalidID         = errors.New("invalid_id")
	ErrNotFound          = errors.New("event_not_found")
)

// IsValidationError reports whether err rejects malformed input before any write.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidMerchant),
		errors.Is(err, ErrInvalidCustomer),
		errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInvalidOccurredAt),
		errors.Is(err, ErrInvalidID):
		return true
	default:
		return false
	}
}
