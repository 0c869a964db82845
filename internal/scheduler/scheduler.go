package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loop/internal/audit/domain"
	"github.com/smallbiznis/loop/internal/clock"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	obscontext "github.com/smallbiznis/loop/internal/observability/context"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock `optional:"true"`
	LedgerRepo ledgerdomain.Repository
	LedgerSvc  ledgerdomain.Service
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

// Scheduler runs periodic maintenance jobs. Today that is the balance
// reconciliation sweep, which compares every membership snapshot with its ledger sum.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerRepo ledgerdomain.Repository
	ledgerSvc  ledgerdomain.Service
	metrics    *obsmetrics.SchedulerMetrics
}

type reconcileStats struct {
	Checked int
	Drifted int
	Failed  int
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.LedgerRepo == nil || p.LedgerSvc == nil {
		return nil, ErrInvalidConfig
	}
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      c,
		ledgerRepo: p.LedgerRepo,
		ledgerSvc:  p.LedgerSvc,
		metrics:    p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errors == 0 {
		run.IncError()
	}
	s.finishJobRun(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// The next tick resumes from the first page.
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobReconcileBalances, s.ReconcileBalancesJob},
	}

	var err error
	for _, job := range jobs {
		if !s.cfg.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReconcileBalancesJob walks all memberships in id order and reconciles each one.
func (s *Scheduler) ReconcileBalancesJob(ctx context.Context) error {
	_, err := s.reconcileBalances(ctx)
	return err
}

func (s *Scheduler) reconcileBalances(ctx context.Context) (reconcileStats, error) {
	var (
		stats    reconcileStats
		firstErr error
		afterID  snowflake.ID
	)
	run := jobRunFromContext(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		memberships, err := s.ledgerRepo.ListMemberships(ctx, s.db, afterID, s.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(memberships) == 0 {
			break
		}

		for _, membership := range memberships {
			result, err := s.ledgerSvc.Reconcile(ctx, membership.MerchantID, membership.CustomerID)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return stats, ctxErr
				}
				stats.Failed++
				if firstErr == nil {
					firstErr = err
				}
				s.logReconcileFailure(ctx, run, membership, err)
				continue
			}
			stats.Checked++
			if !result.Consistent {
				stats.Drifted++
				s.metrics.IncBalanceDrift()
				s.logDrift(ctx, run, result)
			}
		}

		run.AddProcessed(len(memberships))
		s.metrics.AddProcessed(JobReconcileBalances, len(memberships))
		afterID = memberships[len(memberships)-1].ID
		if len(memberships) < s.cfg.BatchSize {
			break
		}
	}

	if firstErr != nil {
		return stats, fmt.Errorf("%d memberships failed reconciliation: %w", stats.Failed, firstErr)
	}
	return stats, nil
}
