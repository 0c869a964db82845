package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeApproved           = "approved"
	OutcomeAlreadyRedeemed    = "already_redeemed"
	OutcomeInsufficientPoints = "insufficient_points"
	OutcomeRewardNotFound     = "reward_not_found"
	OutcomeRewardInactive     = "reward_inactive"
	OutcomeError              = "error"

	AwardOutcomeAwarded          = "awarded"
	AwardOutcomeNoRulesMatch     = "no_rules_match"
	AwardOutcomeAlreadyProcessed = "already_processed"
)

// LoyaltyMetrics exposes redemption and award outcomes on the prometheus scrape endpoint.
type LoyaltyMetrics struct {
	redemptions *prometheus.CounterVec
	awards      *prometheus.CounterVec
}

func NewLoyaltyMetrics(reg prometheus.Registerer) (*LoyaltyMetrics, error) {
	m := &LoyaltyMetrics{
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loop_redemption_outcomes_total",
			Help: "Counts reward redemption attempts by outcome.",
		}, []string{"outcome"}),
		awards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loop_award_outcomes_total",
			Help: "Counts earn rule evaluations by outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.redemptions, m.awards} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *LoyaltyMetrics) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

func (m *LoyaltyMetrics) ObserveAward(outcome string) {
	if m == nil {
		return
	}
	m.awards.WithLabelValues(outcome).Inc()
}

// RedemptionCounter returns the counter for one redemption outcome.
func (m *LoyaltyMetrics) RedemptionCounter(outcome string) prometheus.Counter {
	return m.redemptions.WithLabelValues(outcome)
}

// AwardCounter returns the counter for one award outcome.
func (m *LoyaltyMetrics) AwardCounter(outcome string) prometheus.Counter {
	return m.awards.WithLabelValues(outcome)
}
