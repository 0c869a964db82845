package service

import (
	"context"
	"errors"

	"github.com/smallbiznis/loop/internal/config"
	"github.com/smallbiznis/loop/internal/earn/domain"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log            *zap.Logger
	Rules          *config.EarnRulesHolder `optional:"true"`
	LedgerSvc      ledgerdomain.Service
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	LoyaltyMetrics *obsmetrics.LoyaltyMetrics `optional:"true"`
}

type Service struct {
	log            *zap.Logger
	rules          *config.EarnRulesHolder
	ledgerSvc      ledgerdomain.Service
	obsMetrics     *obsmetrics.Metrics
	loyaltyMetrics *obsmetrics.LoyaltyMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:            p.Log.Named("earn.service"),
		rules:          p.Rules,
		ledgerSvc:      p.LedgerSvc,
		obsMetrics:     p.ObsMetrics,
		loyaltyMetrics: p.LoyaltyMetrics,
	}
}

// AwardPointsFromEvent posts the configured points for event at most once.
// Replaying the same event reports already_processed instead of failing.
func (s *Service) AwardPointsFromEvent(ctx context.Context, event eventdomain.Event) (domain.AwardResult, error) {
	table := domain.NewRuleTable(s.rules.Get())
	rule, ok := table.Lookup(event.Type)
	if !ok {
		s.loyaltyMetrics.ObserveAward(obsmetrics.AwardOutcomeNoRulesMatch)
		return domain.AwardResult{Awarded: false, Reason: domain.ReasonNoRulesMatch}, nil
	}

	posted, err := s.ledgerSvc.PostEntry(ctx, ledgerdomain.PostEntryRequest{
		MerchantID:    event.MerchantID,
		CustomerID:    event.CustomerID,
		BranchID:      event.BranchID,
		StaffID:       event.StaffID,
		DeltaPoints:   rule.Delta,
		SourceEventID: event.ID,
		Reason:        rule.Reason,
		Meta: map[string]any{
			"event_type": string(event.Type),
		},
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
			s.loyaltyMetrics.ObserveAward(obsmetrics.AwardOutcomeAlreadyProcessed)
			return domain.AwardResult{Awarded: false, Reason: domain.ReasonAlreadyProcessed}, nil
		}
		return domain.AwardResult{}, err
	}

	delta := posted.Entry.DeltaPoints
	balance := posted.NewBalance
	entryID := posted.Entry.ID

	s.obsMetrics.RecordPointsAwarded(ctx, rule.Reason, delta)
	s.loyaltyMetrics.ObserveAward(obsmetrics.AwardOutcomeAwarded)
	s.log.Debug("points awarded",
		zap.String("event_id", event.ID.String()),
		zap.String("reason", rule.Reason),
		zap.Int64("delta", delta),
	)

	return domain.AwardResult{
		Awarded:       true,
		Delta:         &delta,
		NewBalance:    &balance,
		LedgerEntryID: &entryID,
		Reason:        rule.Reason,
	}, nil
}
