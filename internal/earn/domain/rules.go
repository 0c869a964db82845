package domain

import (
	"strings"

	"github.com/smallbiznis/loop/internal/config"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
)

// Rule is the ledger effect of one event type.
type Rule struct {
	Delta  int64
	Reason string
}

// RuleTable maps event types to their earn rule. Treat it as read-only once built.
type RuleTable map[eventdomain.EventType]Rule

// Lookup returns the rule for eventType, if any.
func (t RuleTable) Lookup(eventType eventdomain.EventType) (Rule, bool) {
	rule, ok := t[eventType]
	return rule, ok
}

// NewRuleTable builds a table from configured rules, skipping unknown event types
// and non-positive deltas.
func NewRuleTable(cfg config.EarnConfig) RuleTable {
	table := make(RuleTable, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		eventType := eventdomain.EventType(strings.TrimSpace(rule.EventType))
		reason := strings.TrimSpace(rule.Reason)
		if !eventType.Valid() || rule.Points <= 0 || reason == "" {
			continue
		}
		table[eventType] = Rule{Delta: rule.Points, Reason: reason}
	}
	return table
}

// DefaultRuleTable awards +10 for a visit and +5 for a check-in.
func DefaultRuleTable() RuleTable {
	return NewRuleTable(config.DefaultEarnConfig())
}
