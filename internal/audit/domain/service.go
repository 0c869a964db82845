package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Action names the state change being recorded.
type Action string

const (
	ActionRewardCreated      Action = "reward.created"
	ActionRewardUpdated      Action = "reward.updated"
	ActionRedemptionApproved Action = "redemption.approved"
	ActionLedgerAdjusted     Action = "ledger.adjusted"
)

// Entry is one audit record to write. The actor is taken from the request
// context and defaults to the system actor.
type Entry struct {
	MerchantID snowflake.ID
	Action     Action
	TargetType string
	TargetID   snowflake.ID
	Metadata   map[string]any
}

type ListAuditLogRequest struct {
	MerchantID snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Limit      int
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) ([]AuditLog, error)
}

var (
	ErrInvalidMerchant = errors.New("invalid_merchant")
	ErrInvalidAction   = errors.New("invalid_action")
)
