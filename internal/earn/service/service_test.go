package service

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/loop/internal/config"
	"github.com/smallbiznis/loop/internal/earn/domain"
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

const (
	merchantID = snowflake.ID(77)
	customerID = snowflake.ID(88)
)

type fixture struct {
	events  eventdomain.Service
	ledger  ledgerdomain.Service
	svc     domain.Service
	metrics *obsmetrics.LoyaltyMetrics
}

func setup(t *testing.T, rules *config.EarnRulesHolder) fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	events := eventservice.New(eventservice.Params{DB: db, Log: log, GenID: node, Repo: eventrepo.Provide()})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Repo: ledgerrepo.Provide(), EventSvc: events,
	})
	loyaltyMetrics, err := obsmetrics.NewLoyaltyMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	return fixture{
		events: events,
		ledger: ledger,
		svc: NewService(Params{
			Log:            log,
			Rules:          rules,
			LedgerSvc:      ledger,
			LoyaltyMetrics: loyaltyMetrics,
		}),
		metrics: loyaltyMetrics,
	}
}

func (f fixture) append(t *testing.T, payload eventdomain.Payload) eventdomain.Event {
	t.Helper()
	event, err := f.events.Append(context.Background(), eventdomain.AppendRequest{
		MerchantID: merchantID,
		CustomerID: customerID,
		Payload:    payload,
	})
	require.NoError(t, err)
	return event
}

func TestAward_DefaultRules(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	visit, err := f.svc.AwardPointsFromEvent(ctx, f.append(t, eventdomain.VisitPayload{}))
	require.NoError(t, err)
	assert.True(t, visit.Awarded)
	assert.Equal(t, ledgerdomain.ReasonEarnVisit, visit.Reason)
	require.NotNil(t, visit.Delta)
	assert.Equal(t, int64(10), *visit.Delta)
	require.NotNil(t, visit.NewBalance)
	assert.Equal(t, int64(10), *visit.NewBalance)
	assert.NotNil(t, visit.LedgerEntryID)

	checkin, err := f.svc.AwardPointsFromEvent(ctx, f.append(t, eventdomain.CheckinPayload{}))
	require.NoError(t, err)
	assert.True(t, checkin.Awarded)
	assert.Equal(t, ledgerdomain.ReasonEarnCheckin, checkin.Reason)
	require.NotNil(t, checkin.NewBalance)
	assert.Equal(t, int64(15), *checkin.NewBalance)
}

func TestAward_NoRuleMatches(t *testing.T) {
	f := setup(t, nil)

	result, err := f.svc.AwardPointsFromEvent(context.Background(), f.append(t, eventdomain.RatingPayload{Stars: 5}))
	require.NoError(t, err)
	assert.False(t, result.Awarded)
	assert.Equal(t, domain.ReasonNoRulesMatch, result.Reason)
	assert.Nil(t, result.Delta)
	assert.Nil(t, result.NewBalance)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AwardCounter(obsmetrics.AwardOutcomeNoRulesMatch)))
}

func TestAward_ReplayIsAlreadyProcessed(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	event := f.append(t, eventdomain.VisitPayload{})

	first, err := f.svc.AwardPointsFromEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, first.Awarded)

	second, err := f.svc.AwardPointsFromEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, second.Awarded)
	assert.Equal(t, domain.ReasonAlreadyProcessed, second.Reason)

	balance, err := f.ledger.GetBalance(ctx, merchantID, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestAward_ConcurrentReplaysAwardOnce(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	event := f.append(t, eventdomain.CheckinPayload{})

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		awarded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.AwardPointsFromEvent(ctx, event)
			assert.NoError(t, err)
			if result.Awarded {
				mu.Lock()
				awarded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, awarded)
	balance, err := f.ledger.GetBalance(ctx, merchantID, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestAward_ConfiguredRules(t *testing.T) {
	f := setup(t, config.NewStaticEarnRulesHolder(config.EarnConfig{Rules: []config.EarnRule{
		{EventType: "review", Points: 25, Reason: "earn_review"},
	}}))
	ctx := context.Background()

	review, err := f.svc.AwardPointsFromEvent(ctx, f.append(t, eventdomain.ReviewPayload{Provider: eventdomain.ReviewProviderGoogle}))
	require.NoError(t, err)
	assert.True(t, review.Awarded)
	assert.Equal(t, "earn_review", review.Reason)

	visit, err := f.svc.AwardPointsFromEvent(ctx, f.append(t, eventdomain.VisitPayload{}))
	require.NoError(t, err)
	assert.False(t, visit.Awarded)
	assert.Equal(t, domain.ReasonNoRulesMatch, visit.Reason)
}
