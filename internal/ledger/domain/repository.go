package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEntry reports false when an entry for the same source event already exists.
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	EnsureMembership(ctx context.Context, db *gorm.DB, membership *Membership) error
	IncrementBalance(ctx context.Context, db *gorm.DB, merchantID, customerID snowflake.ID, delta int64, at time.Time) error
	FindMembership(ctx context.Context, db *gorm.DB, merchantID, customerID snowflake.ID) (*Membership, error)
	// LockMembership is FindMembership holding a row lock until the transaction ends.
	LockMembership(ctx context.Context, db *gorm.DB, merchantID, customerID snowflake.ID) (*Membership, error)
	// ListMemberships pages memberships in id order, starting after afterID.
	ListMemberships(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]Membership, error)
	Totals(ctx context.Context, db *gorm.DB, merchantID, customerID snowflake.ID) (BalanceTotals, error)
	SourceEventExists(ctx context.Context, db *gorm.DB, merchantID, customerID, eventID snowflake.ID) (bool, error)
}

// BalanceTotals pairs the stored snapshot with the live ledger sum.
type BalanceTotals struct {
	Snapshot  int64 `gorm:"column:snapshot"`
	LedgerSum int64 `gorm:"column:ledger_sum"`
}
