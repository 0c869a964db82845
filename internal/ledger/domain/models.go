package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ReasonEarnVisit        = "earn_visit"
	ReasonEarnCheckin      = "earn_checkin"
	ReasonRedeemReward     = "redeem_reward"
	ReasonManualAdjustment = "manual_adjustment"
)

type MembershipStatus string

const (
	MembershipStatusActive MembershipStatus = "active"
)

// LedgerEntry is an immutable signed points delta caused by exactly one source event.
type LedgerEntry struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID    snowflake.ID      `gorm:"not null;index:idx_points_ledger_merchant_customer,priority:1" json:"merchant_id"`
	CustomerID    snowflake.ID      `gorm:"not null;index:idx_points_ledger_merchant_customer,priority:2" json:"customer_id"`
	BranchID      *snowflake.ID     `json:"branch_id,omitempty"`
	StaffID       *snowflake.ID     `json:"staff_id,omitempty"`
	SourceEventID snowflake.ID      `gorm:"not null;uniqueIndex:ux_points_ledger_source_event" json:"source_event_id"`
	DeltaPoints   int64             `gorm:"not null" json:"delta_points"`
	Reason        string            `gorm:"type:text;not null" json:"reason"`
	Meta          datatypes.JSONMap `json:"meta,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "points_ledger" }

// Membership holds the balance snapshot for a merchant/customer pair.
// PointsBalance always equals the sum of that pair's ledger deltas.
type Membership struct {
	ID            snowflake.ID     `gorm:"primaryKey" json:"id"`
	MerchantID    snowflake.ID     `gorm:"not null;uniqueIndex:ux_memberships_merchant_customer,priority:1" json:"merchant_id"`
	CustomerID    snowflake.ID     `gorm:"not null;uniqueIndex:ux_memberships_merchant_customer,priority:2" json:"customer_id"`
	Status        MembershipStatus `gorm:"type:text;not null" json:"status"`
	PointsBalance int64            `gorm:"not null" json:"points_balance"`
	CreatedAt     time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }
