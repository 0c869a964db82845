package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	"gorm.io/gorm"
)

type PostEntryRequest struct {
	MerchantID    snowflake.ID
	CustomerID    snowflake.ID
	BranchID      *snowflake.ID
	StaffID       *snowflake.ID
	DeltaPoints   int64
	SourceEventID snowflake.ID
	Reason        string
	Meta          map[string]any
}

type PostEntryResult struct {
	Entry      LedgerEntry `json:"entry"`
	NewBalance int64       `json:"new_balance"`
}

type AdjustRequest struct {
	MerchantID  snowflake.ID
	CustomerID  snowflake.ID
	BranchID    *snowflake.ID
	StaffID     *snowflake.ID
	DeltaPoints int64
	Reason      string
}

type AdjustResult struct {
	Event      eventdomain.Event `json:"event"`
	Entry      LedgerEntry       `json:"entry"`
	NewBalance int64             `json:"new_balance"`
}

type Reconciliation struct {
	MerchantID snowflake.ID `json:"merchant_id"`
	CustomerID snowflake.ID `json:"customer_id"`
	Snapshot   int64        `json:"snapshot"`
	LedgerSum  int64        `json:"ledger_sum"`
	Consistent bool         `json:"consistent"`
}

type Service interface {
	PostEntry(ctx context.Context, req PostEntryRequest) (PostEntryResult, error)
	// PostEntryTx posts inside a caller-owned transaction.
	PostEntryTx(ctx context.Context, tx *gorm.DB, req PostEntryRequest) (PostEntryResult, error)
	GetBalance(ctx context.Context, merchantID, customerID snowflake.ID) (int64, error)
	GetBalanceTx(ctx context.Context, tx *gorm.DB, merchantID, customerID snowflake.ID) (int64, error)
	// LockBalanceTx reads the snapshot under a row lock held until tx ends.
	LockBalanceTx(ctx context.Context, tx *gorm.DB, merchantID, customerID snowflake.ID) (int64, error)
	Reconcile(ctx context.Context, merchantID, customerID snowflake.ID) (Reconciliation, error)
	Adjust(ctx context.Context, req AdjustRequest) (AdjustResult, error)
}

var (
	ErrInvalidMerchant     = errors.New("invalid_merchant")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidSourceEvent  = errors.New("invalid_source_event")
	ErrInvalidDelta        = errors.New("invalid_delta_points")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrSourceEventNotFound = errors.New("source_event_not_found")
	// ErrDuplicateEntry means the source event was already posted. Callers treat it as already applied.
	ErrDuplicateEntry = errors.New("duplicate_ledger_entry")
)

func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidMerchant),
		errors.Is(err, ErrInvalidCustomer),
		errors.Is(err, ErrInvalidSourceEvent),
		errors.Is(err, ErrInvalidDelta),
		errors.Is(err, ErrInvalidReason):
		return true
	default:
		return false
	}
}
