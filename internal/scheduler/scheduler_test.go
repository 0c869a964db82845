package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/loop/internal/clock"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	eventrepo "github.com/smallbiznis/loop/internal/event/repository"
	eventservice "github.com/smallbiznis/loop/internal/event/service"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/loop/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/loop/internal/ledger/service"
	"github.com/smallbiznis/loop/internal/migration"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const merchantID = snowflake.ID(1001)

type fixture struct {
	db       *gorm.DB
	events   eventdomain.Service
	ledger   ledgerdomain.Service
	sched    *Scheduler
	registry *prometheus.Registry
}

func setup(t *testing.T, cfg Config) fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC))

	events := eventservice.New(eventservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  eventrepo.Provide(),
	})
	repo := ledgerrepo.Provide()
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Repo:     repo,
		EventSvc: events,
	})

	registry := prometheus.NewRegistry()
	metrics, err := obsmetrics.NewSchedulerMetrics(registry)
	require.NoError(t, err)

	sched, err := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fakeClock,
		LedgerRepo: repo,
		LedgerSvc:  ledger,
		Metrics:    metrics,
		Config:     cfg,
	})
	require.NoError(t, err)

	return fixture{db: db, events: events, ledger: ledger, sched: sched, registry: registry}
}

func (f fixture) earnVisit(t *testing.T, customerID snowflake.ID, points int64) {
	t.Helper()
	ctx := context.Background()
	event, err := f.events.Append(ctx, eventdomain.AppendRequest{
		MerchantID: merchantID,
		CustomerID: customerID,
		Payload:    eventdomain.VisitPayload{},
	})
	require.NoError(t, err)
	_, err = f.ledger.PostEntry(ctx, ledgerdomain.PostEntryRequest{
		MerchantID:    merchantID,
		CustomerID:    customerID,
		DeltaPoints:   points,
		SourceEventID: event.ID,
		Reason:        ledgerdomain.ReasonEarnVisit,
	})
	require.NoError(t, err)
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 15*time.Minute, cfg.RunInterval)
	assert.Equal(t, 200, cfg.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)

	assert.True(t, cfg.isJobEnabled(JobReconcileBalances))
	cfg.EnabledJobs = []string{"other"}
	assert.False(t, cfg.isJobEnabled(JobReconcileBalances))
	cfg.EnabledJobs = []string{" Reconcile_Balances "}
	assert.True(t, cfg.isJobEnabled(JobReconcileBalances))
}

func TestReconcileBalances_PagesAndCountsDrift(t *testing.T) {
	f := setup(t, Config{BatchSize: 2})
	for i := 0; i < 5; i++ {
		f.earnVisit(t, snowflake.ID(2001+i), 10)
	}

	require.NoError(t, f.db.Model(&ledgerdomain.Membership{}).
		Where("merchant_id = ? AND customer_id = ?", merchantID, snowflake.ID(2003)).
		Update("points_balance", 99).Error)

	stats, err := f.sched.reconcileBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcileStats{Checked: 5, Drifted: 1}, stats)

	assert.Equal(t, 5.0, getCounterValue(t, f.registry, "loop_scheduler_batch_processed_total", map[string]string{"job": JobReconcileBalances}))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "loop_balance_drift_total", map[string]string{}))
}

func TestRunOnce_RecordsJobRun(t *testing.T) {
	f := setup(t, Config{})
	f.earnVisit(t, 2001, 10)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "loop_scheduler_job_runs_total", map[string]string{"job": JobReconcileBalances}))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "loop_scheduler_batch_processed_total", map[string]string{"job": JobReconcileBalances}))
}

func TestRunOnce_CanceledContextCountsTimeout(t *testing.T) {
	f := setup(t, Config{})
	f.earnVisit(t, 2001, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "loop_scheduler_job_timeouts_total", map[string]string{"job": JobReconcileBalances}))
}

func TestRunOnce_SkipsDisabledJobs(t *testing.T) {
	f := setup(t, Config{EnabledJobs: []string{"other"}})
	require.NoError(t, f.sched.RunOnce(context.Background()))

	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.NotEqual(t, "loop_scheduler_job_runs_total", mf.GetName())
	}
}
