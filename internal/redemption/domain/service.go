package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
)

type RedeemRequest struct {
	MerchantID snowflake.ID
	CustomerID snowflake.ID
	RewardID   snowflake.ID
	BranchID   *snowflake.ID
	StaffID    *snowflake.ID
}

type RedeemResult struct {
	Redemption Redemption        `json:"redemption"`
	Event      eventdomain.Event `json:"event"`
	NewBalance int64             `json:"new_balance"`
}

type Service interface {
	Redeem(ctx context.Context, req RedeemRequest) (RedeemResult, error)
}

var (
	ErrInvalidMerchant    = errors.New("invalid_merchant")
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidReward      = errors.New("invalid_reward_id")
	ErrRewardNotFound     = errors.New("reward_not_found")
	ErrRewardInactive     = errors.New("reward_inactive")
	ErrAlreadyRedeemed    = errors.New("already_redeemed")
	ErrInsufficientPoints = errors.New("insufficient_points")
)

// InsufficientPointsError reports the balance seen inside the redemption transaction.
type InsufficientPointsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient_points: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientPointsError) Is(target error) bool {
	return target == ErrInsufficientPoints
}

func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidMerchant),
		errors.Is(err, ErrInvalidCustomer),
		errors.Is(err, ErrInvalidReward):
		return true
	default:
		return false
	}
}
