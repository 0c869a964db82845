package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loop/internal/clock"
	"github.com/smallbiznis/loop/internal/event/domain"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	"github.com/smallbiznis/loop/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock `optional:"true"`
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("event.service"),
		genID:      p.GenID,
		clock:      c,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, req domain.AppendRequest) (domain.Event, error) {
	event, err := s.AppendTx(ctx, s.db, req)
	if err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// AppendTx inserts the event using tx so callers can bundle it with other writes.
func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, req domain.AppendRequest) (domain.Event, error) {
	event, err := s.build(req)
	if err != nil {
		return domain.Event{}, err
	}

	if err := s.repo.Insert(ctx, tx, &event); err != nil {
		return domain.Event{}, err
	}

	s.obsMetrics.RecordEventAppended(ctx, string(event.Type))
	s.log.Debug("event appended",
		zap.String("event_id", event.ID.String()),
		zap.String("merchant_id", event.MerchantID.String()),
		zap.String("type", string(event.Type)),
	)
	return event, nil
}

func (s *Service) Get(ctx context.Context, merchantID, id snowflake.ID) (domain.Event, error) {
	if merchantID == 0 {
		return domain.Event{}, domain.ErrInvalidMerchant
	}
	if id == 0 {
		return domain.Event{}, domain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, merchantID, id)
	if err != nil {
		return domain.Event{}, err
	}
	if item == nil {
		return domain.Event{}, domain.ErrNotFound
	}
	return *item, nil
}

// Facts runs the count, latest-event and latest-presence-event lookups in one
// read-only transaction so all three see the same events.
func (s *Service) Facts(ctx context.Context, query domain.FactsQuery) (domain.CustomerFacts, error) {
	if query.MerchantID == 0 {
		return domain.CustomerFacts{}, domain.ErrInvalidMerchant
	}
	if query.CustomerID == 0 {
		return domain.CustomerFacts{}, domain.ErrInvalidCustomer
	}

	var facts domain.CustomerFacts
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total, err := s.repo.Count(ctx, tx, query)
		if err != nil || total == 0 {
			return err
		}
		last, err := s.repo.FindLatest(ctx, tx, query, nil)
		if err != nil {
			return err
		}
		lastPresence, err := s.repo.FindLatest(ctx, tx, query, domain.PresenceEventTypes)
		if err != nil {
			return err
		}
		facts = domain.CustomerFacts{
			TotalEvents:       total,
			LastEvent:         last,
			LastPresenceEvent: lastPresence,
		}
		return nil
	}, db.SnapshotTxOptions(s.db)...)
	if err != nil {
		return domain.CustomerFacts{}, err
	}
	return facts, nil
}

func (s *Service) build(req domain.AppendRequest) (domain.Event, error) {
	if req.MerchantID == 0 {
		return domain.Event{}, domain.ErrInvalidMerchant
	}
	if req.CustomerID == 0 {
		return domain.Event{}, domain.ErrInvalidCustomer
	}
	if req.Payload == nil {
		return domain.Event{}, domain.ErrInvalidPayload
	}

	eventType := req.Payload.EventType()
	if !eventType.Valid() {
		return domain.Event{}, domain.ErrInvalidType
	}
	if err := req.Payload.Validate(); err != nil {
		return domain.Event{}, err
	}

	payload, err := domain.PayloadMap(req.Payload)
	if err != nil {
		return domain.Event{}, err
	}

	now := s.clock.Now().UTC()
	occurredAt := now
	if req.OccurredAt != nil {
		if req.OccurredAt.IsZero() {
			return domain.Event{}, domain.ErrInvalidOccurredAt
		}
		occurredAt = req.OccurredAt.UTC()
	}

	return domain.Event{
		ID:         s.genID.Generate(),
		MerchantID: req.MerchantID,
		BranchID:   nonZero(req.BranchID),
		CustomerID: req.CustomerID,
		StaffID:    nonZero(req.StaffID),
		Type:       eventType,
		Payload:    payload,
		OccurredAt: occurredAt.Truncate(time.Microsecond),
		CreatedAt:  now.Truncate(time.Microsecond),
	}, nil
}

func nonZero(id *snowflake.ID) *snowflake.ID {
	if id == nil || *id == 0 {
		return nil
	}
	value := *id
	return &value
}
