package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loop/internal/audit/domain"
	"github.com/smallbiznis/loop/internal/clock"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	"github.com/smallbiznis/loop/internal/observability/tracing"
	"github.com/smallbiznis/loop/internal/redemption/domain"
	rewarddomain "github.com/smallbiznis/loop/internal/reward/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("loop/redemption")

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock `optional:"true"`
	Repo           domain.Repository
	RewardRepo     rewarddomain.Repository
	EventSvc       eventdomain.Service
	LedgerSvc      ledgerdomain.Service
	AuditSvc       auditdomain.Service         `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics         `optional:"true"`
	LoyaltyMetrics *obsmetrics.LoyaltyMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	rewardRepo     rewarddomain.Repository
	eventSvc       eventdomain.Service
	ledgerSvc      ledgerdomain.Service
	auditSvc       auditdomain.Service
	obsMetrics     *obsmetrics.Metrics
	loyaltyMetrics *obsmetrics.LoyaltyMetrics
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("redemption.service"),
		genID:          p.GenID,
		clock:          c,
		repo:           p.Repo,
		rewardRepo:     p.RewardRepo,
		eventSvc:       p.EventSvc,
		ledgerSvc:      p.LedgerSvc,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
		loyaltyMetrics: p.LoyaltyMetrics,
	}
}

// Redeem grants a reward and debits its cost in a single transaction.
// Either the redemption row, the redeem event and the ledger debit all commit, or none do.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemRequest) (result domain.RedeemResult, err error) {
	ctx, span := tracer.Start(ctx, "redemption.redeem")
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("merchant_id", req.MerchantID.String()),
		attribute.String("reward_id", req.RewardID.String()),
		attribute.String("customer_id", req.CustomerID.String()),
	)...)
	defer func() {
		outcome := outcomeFor(err)
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil && outcome == obsmetrics.OutcomeError {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "redeem failed")
		}
		span.End()
		s.obsMetrics.RecordRedemption(ctx, outcome)
		s.loyaltyMetrics.ObserveRedemption(outcome)
	}()

	if err := validate(req); err != nil {
		return domain.RedeemResult{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reward, err := s.rewardRepo.FindByID(ctx, tx, req.MerchantID, req.RewardID)
		if err != nil {
			return err
		}
		if reward == nil {
			return domain.ErrRewardNotFound
		}
		if !reward.IsActive {
			return domain.ErrRewardInactive
		}

		// The membership row lock serializes every redemption for this
		// customer, so the checks below see the previous one's writes.
		balance, err := s.ledgerSvc.LockBalanceTx(ctx, tx, req.MerchantID, req.CustomerID)
		if err != nil {
			return err
		}

		existing, err := s.repo.FindApproved(ctx, tx, req.MerchantID, req.CustomerID, req.RewardID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyRedeemed
		}
		if balance < reward.PointsCost {
			return &domain.InsufficientPointsError{Balance: balance, Required: reward.PointsCost}
		}

		redemption := domain.Redemption{
			ID:          s.genID.Generate(),
			MerchantID:  req.MerchantID,
			RewardID:    req.RewardID,
			CustomerID:  req.CustomerID,
			StaffID:     nonZero(req.StaffID),
			BranchID:    nonZero(req.BranchID),
			PointsSpent: reward.PointsCost,
			Status:      domain.StatusApproved,
			CreatedAt:   s.clock.Now().UTC().Truncate(time.Microsecond),
		}
		inserted, err := s.repo.InsertApproved(ctx, tx, &redemption)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyRedeemed
		}

		redemptionID := redemption.ID
		event, err := s.eventSvc.AppendTx(ctx, tx, eventdomain.AppendRequest{
			MerchantID: req.MerchantID,
			CustomerID: req.CustomerID,
			BranchID:   redemption.BranchID,
			StaffID:    redemption.StaffID,
			Payload: eventdomain.RedeemPayload{
				RewardID:     req.RewardID,
				RedemptionID: &redemptionID,
				PointsSpent:  &redemption.PointsSpent,
			},
		})
		if err != nil {
			return err
		}

		newBalance := balance
		if reward.PointsCost > 0 {
			posted, err := s.ledgerSvc.PostEntryTx(ctx, tx, ledgerdomain.PostEntryRequest{
				MerchantID:    req.MerchantID,
				CustomerID:    req.CustomerID,
				BranchID:      redemption.BranchID,
				StaffID:       redemption.StaffID,
				DeltaPoints:   -reward.PointsCost,
				SourceEventID: event.ID,
				Reason:        ledgerdomain.ReasonRedeemReward,
				Meta:          map[string]any(event.Payload),
			})
			switch {
			case err == nil:
				newBalance = posted.NewBalance
				if newBalance < 0 {
					return &domain.InsufficientPointsError{Balance: balance, Required: reward.PointsCost}
				}
			case errors.Is(err, ledgerdomain.ErrDuplicateEntry):
				newBalance, err = s.ledgerSvc.GetBalanceTx(ctx, tx, req.MerchantID, req.CustomerID)
				if err != nil {
					return err
				}
			default:
				return err
			}
		}

		result = domain.RedeemResult{
			Redemption: redemption,
			Event:      event,
			NewBalance: newBalance,
		}
		return nil
	})
	if err != nil {
		return domain.RedeemResult{}, err
	}

	s.auditApproved(ctx, result)
	return result, nil
}

func (s *Service) auditApproved(ctx context.Context, result domain.RedeemResult) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		MerchantID: result.Redemption.MerchantID,
		Action:     auditdomain.ActionRedemptionApproved,
		TargetType: "reward_redemption",
		TargetID:   result.Redemption.ID,
		Metadata: map[string]any{
			"reward_id":    result.Redemption.RewardID.String(),
			"customer_id":  result.Redemption.CustomerID.String(),
			"points_spent": result.Redemption.PointsSpent,
			"event_id":     result.Event.ID.String(),
		},
	}); err != nil {
		s.log.Warn("failed to write redemption audit log",
			zap.String("redemption_id", result.Redemption.ID.String()),
			zap.Error(err),
		)
	}
}

func validate(req domain.RedeemRequest) error {
	if req.MerchantID == 0 {
		return domain.ErrInvalidMerchant
	}
	if req.CustomerID == 0 {
		return domain.ErrInvalidCustomer
	}
	if req.RewardID == 0 {
		return domain.ErrInvalidReward
	}
	return nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return obsmetrics.OutcomeApproved
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return obsmetrics.OutcomeAlreadyRedeemed
	case errors.Is(err, domain.ErrInsufficientPoints):
		return obsmetrics.OutcomeInsufficientPoints
	case errors.Is(err, domain.ErrRewardNotFound):
		return obsmetrics.OutcomeRewardNotFound
	case errors.Is(err, domain.ErrRewardInactive):
		return obsmetrics.OutcomeRewardInactive
	default:
		return obsmetrics.OutcomeError
	}
}

func nonZero(id *snowflake.ID) *snowflake.ID {
	if id == nil || *id == 0 {
		return nil
	}
	value := *id
	return &value
}
