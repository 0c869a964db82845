package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
)

const (
	ReasonNoRulesMatch     = "no_rules_match"
	ReasonAlreadyProcessed = "already_processed"
)

// AwardResult describes the ledger effect of one event. Delta, NewBalance and
// LedgerEntryID are set only when Awarded is true.
type AwardResult struct {
	Awarded       bool          `json:"awarded"`
	Delta         *int64        `json:"delta,omitempty"`
	NewBalance    *int64        `json:"new_balance,omitempty"`
	LedgerEntryID *snowflake.ID `json:"ledger_entry_id,omitempty"`
	Reason        string        `json:"reason"`
}

type Service interface {
	AwardPointsFromEvent(ctx context.Context, event eventdomain.Event) (AwardResult, error)
}
