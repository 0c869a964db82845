package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loop/internal/audit/domain"
	"github.com/smallbiznis/loop/internal/clock"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	"github.com/smallbiznis/loop/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock `optional:"true"`
	Repo       ledgerdomain.Repository
	EventSvc   eventdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	eventSvc   eventdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      c,
		repo:       p.Repo,
		eventSvc:   p.EventSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) PostEntry(ctx context.Context, req ledgerdomain.PostEntryRequest) (ledgerdomain.PostEntryResult, error) {
	var result ledgerdomain.PostEntryResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posted, err := s.PostEntryTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result = posted
		return nil
	})
	if err != nil {
		return ledgerdomain.PostEntryResult{}, err
	}
	return result, nil
}

// PostEntryTx inserts the entry and increments the snapshot by the same delta on tx.
// The increment is relative so concurrent posts for one customer serialize in storage.
func (s *Service) PostEntryTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.PostEntryRequest) (ledgerdomain.PostEntryResult, error) {
	if err := validatePost(req); err != nil {
		return ledgerdomain.PostEntryResult{}, err
	}
	reason := strings.TrimSpace(req.Reason)

	exists, err := s.repo.SourceEventExists(ctx, tx, req.MerchantID, req.CustomerID, req.SourceEventID)
	if err != nil {
		return ledgerdomain.PostEntryResult{}, err
	}
	if !exists {
		return ledgerdomain.PostEntryResult{}, ledgerdomain.ErrSourceEventNotFound
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	entry := ledgerdomain.LedgerEntry{
		ID:            s.genID.Generate(),
		MerchantID:    req.MerchantID,
		CustomerID:    req.CustomerID,
		BranchID:      req.BranchID,
		StaffID:       req.StaffID,
		SourceEventID: req.SourceEventID,
		DeltaPoints:   req.DeltaPoints,
		Reason:        reason,
		Meta:          datatypes.JSONMap(correlation.AnnotateMeta(ctx, copyMeta(req.Meta))),
		CreatedAt:     now,
	}

	inserted, err := s.repo.InsertEntry(ctx, tx, &entry)
	if err != nil {
		return ledgerdomain.PostEntryResult{}, err
	}
	if !inserted {
		return ledgerdomain.PostEntryResult{}, ledgerdomain.ErrDuplicateEntry
	}

	if err := s.ensureMembership(ctx, tx, req.MerchantID, req.CustomerID, now); err != nil {
		return ledgerdomain.PostEntryResult{}, err
	}

	if err := s.repo.IncrementBalance(ctx, tx, req.MerchantID, req.CustomerID, req.DeltaPoints, now); err != nil {
		return ledgerdomain.PostEntryResult{}, err
	}

	membership, err := s.repo.FindMembership(ctx, tx, req.MerchantID, req.CustomerID)
	if err != nil {
		return ledgerdomain.PostEntryResult{}, err
	}
	if membership == nil {
		return ledgerdomain.PostEntryResult{}, errors.New("membership missing after balance increment")
	}

	s.obsMetrics.RecordLedgerEntry(ctx, reason)
	return ledgerdomain.PostEntryResult{
		Entry:      entry,
		NewBalance: membership.PointsBalance,
	}, nil
}

func (s *Service) GetBalance(ctx context.Context, merchantID, customerID snowflake.ID) (int64, error) {
	return s.GetBalanceTx(ctx, s.db, merchantID, customerID)
}

// GetBalanceTx reads the snapshot, not a live sum. A customer with no membership has zero points.
func (s *Service) GetBalanceTx(ctx context.Context, tx *gorm.DB, merchantID, customerID snowflake.ID) (int64, error) {
	if merchantID == 0 {
		return 0, ledgerdomain.ErrInvalidMerchant
	}
	if customerID == 0 {
		return 0, ledgerdomain.ErrInvalidCustomer
	}

	membership, err := s.repo.FindMembership(ctx, tx, merchantID, customerID)
	if err != nil {
		return 0, err
	}
	if membership == nil {
		return 0, nil
	}
	return membership.PointsBalance, nil
}

// LockBalanceTx creates the membership if needed and returns its snapshot
// while holding the row lock on tx. Debits that check the balance first must
// read it through here so two of them cannot both pass against the same points.
func (s *Service) LockBalanceTx(ctx context.Context, tx *gorm.DB, merchantID, customerID snowflake.ID) (int64, error) {
	if merchantID == 0 {
		return 0, ledgerdomain.ErrInvalidMerchant
	}
	if customerID == 0 {
		return 0, ledgerdomain.ErrInvalidCustomer
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	if err := s.ensureMembership(ctx, tx, merchantID, customerID, now); err != nil {
		return 0, err
	}
	membership, err := s.repo.LockMembership(ctx, tx, merchantID, customerID)
	if err != nil {
		return 0, err
	}
	if membership == nil {
		return 0, errors.New("membership missing after ensure")
	}
	return membership.PointsBalance, nil
}

func (s *Service) ensureMembership(ctx context.Context, tx *gorm.DB, merchantID, customerID snowflake.ID, now time.Time) error {
	return s.repo.EnsureMembership(ctx, tx, &ledgerdomain.Membership{
		ID:            s.genID.Generate(),
		MerchantID:    merchantID,
		CustomerID:    customerID,
		Status:        ledgerdomain.MembershipStatusActive,
		PointsBalance: 0,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// Reconcile compares the snapshot with the live ledger sum. It is audit tooling, never a hot path.
func (s *Service) Reconcile(ctx context.Context, merchantID, customerID snowflake.ID) (ledgerdomain.Reconciliation, error) {
	if merchantID == 0 {
		return ledgerdomain.Reconciliation{}, ledgerdomain.ErrInvalidMerchant
	}
	if customerID == 0 {
		return ledgerdomain.Reconciliation{}, ledgerdomain.ErrInvalidCustomer
	}

	totals, err := s.repo.Totals(ctx, s.db, merchantID, customerID)
	if err != nil {
		return ledgerdomain.Reconciliation{}, err
	}
	out := ledgerdomain.Reconciliation{
		MerchantID: merchantID,
		CustomerID: customerID,
		Snapshot:   totals.Snapshot,
		LedgerSum:  totals.LedgerSum,
		Consistent: totals.Snapshot == totals.LedgerSum,
	}

	if !out.Consistent {
		s.log.Error("balance snapshot drifted from ledger",
			zap.String("merchant_id", merchantID.String()),
			zap.String("customer_id", customerID.String()),
			zap.Int64("snapshot", out.Snapshot),
			zap.Int64("ledger_sum", out.LedgerSum),
		)
	}
	return out, nil
}

// Adjust records a manual correction as a points_adjust event plus an offsetting entry.
func (s *Service) Adjust(ctx context.Context, req ledgerdomain.AdjustRequest) (ledgerdomain.AdjustResult, error) {
	if req.MerchantID == 0 {
		return ledgerdomain.AdjustResult{}, ledgerdomain.ErrInvalidMerchant
	}
	if req.CustomerID == 0 {
		return ledgerdomain.AdjustResult{}, ledgerdomain.ErrInvalidCustomer
	}
	if req.DeltaPoints == 0 {
		return ledgerdomain.AdjustResult{}, ledgerdomain.ErrInvalidDelta
	}

	payload := eventdomain.PointsAdjustPayload{
		DeltaPoints: req.DeltaPoints,
		Reason:      strings.TrimSpace(req.Reason),
	}
	if err := payload.Validate(); err != nil {
		return ledgerdomain.AdjustResult{}, err
	}

	var out ledgerdomain.AdjustResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.eventSvc.AppendTx(ctx, tx, eventdomain.AppendRequest{
			MerchantID: req.MerchantID,
			CustomerID: req.CustomerID,
			BranchID:   req.BranchID,
			StaffID:    req.StaffID,
			Payload:    payload,
		})
		if err != nil {
			return err
		}

		posted, err := s.PostEntryTx(ctx, tx, ledgerdomain.PostEntryRequest{
			MerchantID:    req.MerchantID,
			CustomerID:    req.CustomerID,
			BranchID:      event.BranchID,
			StaffID:       event.StaffID,
			DeltaPoints:   req.DeltaPoints,
			SourceEventID: event.ID,
			Reason:        ledgerdomain.ReasonManualAdjustment,
			Meta:          map[string]any{"note": payload.Reason},
		})
		if err != nil {
			return err
		}

		out = ledgerdomain.AdjustResult{
			Event:      event,
			Entry:      posted.Entry,
			NewBalance: posted.NewBalance,
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.AdjustResult{}, err
	}

	if s.auditSvc != nil {
		if err := s.auditSvc.Record(ctx, auditdomain.Entry{
			MerchantID: req.MerchantID,
			Action:     auditdomain.ActionLedgerAdjusted,
			TargetType: "ledger_entry",
			TargetID:   out.Entry.ID,
			Metadata: map[string]any{
				"customer_id":  req.CustomerID.String(),
				"delta_points": req.DeltaPoints,
				"reason":       payload.Reason,
				"event_id":     out.Event.ID.String(),
			},
		}); err != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(err))
		}
	}

	return out, nil
}

func validatePost(req ledgerdomain.PostEntryRequest) error {
	if req.MerchantID == 0 {
		return ledgerdomain.ErrInvalidMerchant
	}
	if req.CustomerID == 0 {
		return ledgerdomain.ErrInvalidCustomer
	}
	if req.SourceEventID == 0 {
		return ledgerdomain.ErrInvalidSourceEvent
	}
	if req.DeltaPoints == 0 {
		return ledgerdomain.ErrInvalidDelta
	}
	if strings.TrimSpace(req.Reason) == "" {
		return ledgerdomain.ErrInvalidReason
	}
	return nil
}

func copyMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
