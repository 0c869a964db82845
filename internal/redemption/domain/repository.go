package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindApproved returns nil when the customer holds no approved redemption for the reward.
	FindApproved(ctx context.Context, db *gorm.DB, merchantID, customerID, rewardID snowflake.ID) (*Redemption, error)
	// InsertApproved reports false when another approved row already occupies the triple.
	InsertApproved(ctx context.Context, db *gorm.DB, redemption *Redemption) (bool, error)
}
