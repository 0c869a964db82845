package scheduler

import (
	"context"
	"time"

	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	"github.com/smallbiznis/loop/internal/merchantcontext"
	obslogger "github.com/smallbiznis/loop/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun accumulates what one job invocation touched. It rides on the job
// context so page loops can report progress without extra parameters.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time

	processed int
	drifted   int
	errors    int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors++
	}
}

func (r *jobRun) IncDrift() {
	if r != nil {
		r.drifted++
	}
}

func (r *jobRun) fields(now time.Time) []zap.Field {
	return []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.runID),
		zap.Int("batch_size", r.batchSize),
		zap.Int64("duration_ms", now.Sub(r.startedAt).Milliseconds()),
		zap.Int("processed_count", r.processed),
		zap.Int("drift_count", r.drifted),
		zap.Int("error_count", r.errors),
	}
}

func (s *Scheduler) startJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", job),
		zap.String("run_id", run.runID),
	)
	return context.WithValue(ctx, jobRunKey{}, run), run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// finishJobRun logs at warn when anything failed or drifted.
func (s *Scheduler) finishJobRun(ctx context.Context, run *jobRun) {
	log := s.logger(ctx)
	if run.errors > 0 || run.drifted > 0 {
		log.Warn("scheduler.job.finish", run.fields(s.clock.Now())...)
		return
	}
	log.Info("scheduler.job.finish", run.fields(s.clock.Now())...)
}

func (s *Scheduler) logReconcileFailure(ctx context.Context, run *jobRun, m ledgerdomain.Membership, err error) {
	run.IncError()
	ctx = merchantcontext.WithMerchantID(ctx, m.MerchantID)
	s.logger(ctx).Error("scheduler.reconcile.failed",
		zap.String("job", JobReconcileBalances),
		zap.String("customer_id", m.CustomerID.String()),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Error(err),
	)
}

func (s *Scheduler) logDrift(ctx context.Context, run *jobRun, result ledgerdomain.Reconciliation) {
	run.IncDrift()
	ctx = merchantcontext.WithMerchantID(ctx, result.MerchantID)
	s.logger(ctx).Warn("scheduler.reconcile.drift",
		zap.String("customer_id", result.CustomerID.String()),
		zap.Int64("snapshot", result.Snapshot),
		zap.Int64("ledger_sum", result.LedgerSum),
		zap.Int64("difference", result.Snapshot-result.LedgerSum),
	)
}
