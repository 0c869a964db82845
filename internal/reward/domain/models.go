package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Reward is a redeemable catalog item. PointsCost and IsActive are read at redemption time.
type Reward struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID  snowflake.ID      `gorm:"not null;index;index:idx_rewards_merchant_slug,priority:1" json:"merchant_id"`
	Title       string            `gorm:"type:text;not null" json:"title"`
	Slug        string            `gorm:"type:text;not null;index:idx_rewards_merchant_slug,priority:2" json:"slug"`
	Description *string           `gorm:"type:text" json:"description,omitempty"`
	PointsCost  int64             `gorm:"not null" json:"points_cost"`
	IsActive    bool              `gorm:"not null" json:"is_active"`
	Meta        datatypes.JSONMap `json:"meta,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Reward) TableName() string { return "rewards" }
