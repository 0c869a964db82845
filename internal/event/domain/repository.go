package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	FindByID(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*Event, error)
	Count(ctx context.Context, db *gorm.DB, query FactsQuery) (int64, error)
	// FindLatest returns the most recent event for the customer, limited to types when non-empty.
	FindLatest(ctx context.Context, db *gorm.DB, query FactsQuery, types []EventType) (*Event, error)
}
