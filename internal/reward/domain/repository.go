package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, reward *Reward) error
	FindByID(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*Reward, error)
	Update(ctx context.Context, db *gorm.DB, reward *Reward) error
}
