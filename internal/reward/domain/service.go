package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	MerchantID  snowflake.ID
	Title       string
	Description *string
	PointsCost  int64
	IsActive    *bool
	Meta        map[string]any
}

// UpdateRequest applies only the fields that are set.
type UpdateRequest struct {
	MerchantID  snowflake.ID
	ID          snowflake.ID
	Title       *string
	Description *string
	PointsCost  *int64
	IsActive    *bool
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Reward, error)
	GetByID(ctx context.Context, merchantID, id snowflake.ID) (Reward, error)
	Update(ctx context.Context, req UpdateRequest) (Reward, error)
}

var (
	ErrInvalidMerchant   = errors.New("invalid_merchant")
	ErrInvalidID         = errors.New("invalid_reward_id")
	ErrInvalidTitle      = errors.New("invalid_title")
	ErrInvalidPointsCost = errors.New("invalid_points_cost")
	ErrNotFound          = errors.New("reward_not_found")
)

func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidMerchant),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidTitle),
		errors.Is(err, ErrInvalidPointsCost):
		return true
	default:
		return false
	}
}
