package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusApproved Status = "approved"
)

// Redemption records a reward granted to a customer. At most one approved row
// exists per merchant, customer and reward.
type Redemption struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	MerchantID  snowflake.ID  `gorm:"not null" json:"merchant_id"`
	RewardID    snowflake.ID  `gorm:"not null" json:"reward_id"`
	CustomerID  snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	StaffID     *snowflake.ID `json:"staff_id,omitempty"`
	BranchID    *snowflake.ID `json:"branch_id,omitempty"`
	PointsSpent int64         `gorm:"not null" json:"points_spent"`
	Status      Status        `gorm:"type:text;not null" json:"status"`
	CreatedAt   time.Time     `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Redemption) TableName() string { return "reward_redemptions" }
