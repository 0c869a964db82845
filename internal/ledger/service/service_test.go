package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/loop/internal/clock"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	eventrepo "github.com/smallbiznis/loop/internal/event/repository"
	eventservice "github.com/smallbiznis/loop/internal/event/service"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	"github.com/smallbiznis/loop/internal/ledger/repository"
	"github.com/smallbiznis/loop/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	merchantID = snowflake.ID(1001)
	customerID = snowflake.ID(2001)
)

type fixture struct {
	db       *gorm.DB
	events   eventdomain.Service
	ledger   ledgerdomain.Service
	clock    *clock.FakeClock
	genID    *snowflake.Node
	ledgerDB ledgerdomain.Repository
}

func setup(t *testing.T) fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	events := eventservice.New(eventservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  eventrepo.Provide(),
	})
	repo := repository.Provide()
	ledger := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Repo:     repo,
		EventSvc: events,
	})

	return fixture{db: db, events: events, ledger: ledger, clock: fakeClock, genID: node, ledgerDB: repo}
}

func (f fixture) appendVisit(t *testing.T) eventdomain.Event {
	t.Helper()
	event, err := f.events.Append(context.Background(), eventdomain.AppendRequest{
		MerchantID: merchantID,
		CustomerID: customerID,
		Payload:    eventdomain.VisitPayload{},
	})
	require.NoError(t, err)
	return event
}

func earn(event eventdomain.Event, delta int64) ledgerdomain.PostEntryRequest {
	return ledgerdomain.PostEntryRequest{
		MerchantID:    event.MerchantID,
		CustomerID:    event.CustomerID,
		DeltaPoints:   delta,
		SourceEventID: event.ID,
		Reason:        ledgerdomain.ReasonEarnVisit,
	}
}

func TestPostEntry_UpdatesSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	posted, err := f.ledger.PostEntry(ctx, earn(f.appendVisit(t), 10))
	require.NoError(t, err)
	assert.Equal(t, int64(10), posted.NewBalance)
	assert.Equal(t, ledgerdomain.ReasonEarnVisit, posted.Entry.Reason)

	posted, err = f.ledger.PostEntry(ctx, earn(f.appendVisit(t), 5))
	require.NoError(t, err)
	assert.Equal(t, int64(15), posted.NewBalance)

	balance, err := f.ledger.GetBalance(ctx, merchantID, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)
}

func TestPostEntry_SameSourceEventPostsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	event := f.appendVisit(t)

	_, err := f.ledger.PostEntry(ctx, earn(event, 10))
	require.NoError(t, err)

	_, err = f.ledger.PostEntry(ctx, earn(event, 10))
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateEntry)

	balance, err := f.ledger.GetBalance(ctx, merchantID, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	totals, err := f.ledgerDB.Totals(ctx, f.db, merchantID, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), totals.LedgerSum)
	assert.Equal(t, int64(10), totals.Snapshot)
}

func TestPostEntry_ConcurrentDuplicatesPostOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	event := f.appendVisit(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.PostEntry(ctx, earn(event, 10))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateEntry):
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, dupes)

	balance, err := f.ledger.GetBalance(ctx, merchantID, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestPostEntry_UnknownSourceEvent(t *testing.T) {
	f := setup(t)

	_, err := f.ledger.PostEntry(context.Background(), ledgerdomain.PostEntryRequest{
		MerchantID:    merchantID,
		CustomerID:    customerID,
		DeltaPoints:   10,
		SourceEventID: f.genID.Generate(),
		Reason:        ledgerdomain.ReasonEarnVisit,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrSourceEventNotFound)
}

func TestPostEntry_Validation(t *testing.T) {
	f := setup(t)
	event := f.appendVisit(t)

	tests := []struct {
		name string
		mod  func(*ledgerdomain.PostEntryRequest)
		want error
	}{
		{name: "merchant", mod: func(r *ledgerdomain.PostEntryRequest) { r.MerchantID = 0 }, want: ledgerdomain.ErrInvalidMerchant},
		{name: "customer", mod: func(r *ledgerdomain.PostEntryRequest) { r.CustomerID = 0 }, want: ledgerdomain.ErrInvalidCustomer},
		{name: "source", mod: func(r *ledgerdomain.PostEntryRequest) { r.SourceEventID = 0 }, want: ledgerdomain.ErrInvalidSourceEvent},
		{name: "zero delta", mod: func(r *ledgerdomain.PostEntryRequest) { r.DeltaPoints = 0 }, want: ledgerdomain.ErrInvalidDelta},
		{name: "reason", mod: func(r *ledgerdomain.PostEntryRequest) { r.Reason = "  " }, want: ledgerdomain.ErrInvalidReason},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := earn(event, 10)
			tt.mod(&req)
			_, err := f.ledger.PostEntry(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ledgerdomain.IsValidationError(err))
		})
	}
}

func TestGetBalance_NoMembershipIsZero(t *testing.T) {
	f := setup(t)

	balance, err := f.ledger.GetBalance(context.Background(), merchantID, customerID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestLockBalance_CreatesMembershipAndReadsSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	err := f.db.Transaction(func(tx *gorm.DB) error {
		balance, err := f.ledger.LockBalanceTx(ctx, tx, merchantID, customerID)
		require.NoError(t, err)
		assert.Zero(t, balance)
		return nil
	})
	require.NoError(t, err)

	membership, err := f.ledgerDB.FindMembership(ctx, f.db, merchantID, customerID)
	require.NoError(t, err)
	require.NotNil(t, membership)
	assert.Equal(t, ledgerdomain.MembershipStatusActive, membership.Status)

	_, err = f.ledger.PostEntry(ctx, earn(f.appendVisit(t), 25))
	require.NoError(t, err)
	err = f.db.Transaction(func(tx *gorm.DB) error {
		balance, err := f.ledger.LockBalanceTx(ctx, tx, merchantID, customerID)
		require.NoError(t, err)
		assert.Equal(t, int64(25), balance)
		return nil
	})
	require.NoError(t, err)

	_, err = f.ledger.LockBalanceTx(ctx, f.db, 0, customerID)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidMerchant)
}

func TestReconcile_MatchesAfterMixedPostings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, delta := range []int64{10, 5, -7, 20} {
		_, err := f.ledger.PostEntry(ctx, earn(f.appendVisit(t), delta))
		require.NoError(t, err)
	}

	rec, err := f.ledger.Reconcile(ctx, merchantID, customerID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, int64(28), rec.Snapshot)
	assert.Equal(t, int64(28), rec.LedgerSum)
}

func TestReconcile_DetectsDrift(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.ledger.PostEntry(ctx, earn(f.appendVisit(t), 10))
	require.NoError(t, err)
	require.NoError(t, f.db.Exec(`UPDATE memberships SET points_balance = 99`).Error)

	rec, err := f.ledger.Reconcile(ctx, merchantID, customerID)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.Equal(t, int64(99), rec.Snapshot)
	assert.Equal(t, int64(10), rec.LedgerSum)
}

func TestReconcile_ReadsBothTotalsInOneStatement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.ledger.PostEntry(ctx, earn(f.appendVisit(t), 10))
	require.NoError(t, err)

	var statements []string
	record := func(tx *gorm.DB) { statements = append(statements, tx.Statement.SQL.String()) }
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:count_query", record))
	require.NoError(t, f.db.Callback().Row().After("gorm:row").Register("test:count_row", record))

	rec, err := f.ledger.Reconcile(ctx, merchantID, customerID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	require.Len(t, statements, 1)
	assert.Contains(t, statements[0], "memberships")
	assert.Contains(t, statements[0], "points_ledger")
}

func TestAdjust_AppendsEventAndOffsettingEntry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.ledger.PostEntry(ctx, earn(f.appendVisit(t), 10))
	require.NoError(t, err)

	result, err := f.ledger.Adjust(ctx, ledgerdomain.AdjustRequest{
		MerchantID:  merchantID,
		CustomerID:  customerID,
		DeltaPoints: -4,
		Reason:      "duplicate visit",
	})
	require.NoError(t, err)
	assert.Equal(t, eventdomain.EventTypePointsAdjust, result.Event.Type)
	assert.Equal(t, result.Event.ID, result.Entry.SourceEventID)
	assert.Equal(t, ledgerdomain.ReasonManualAdjustment, result.Entry.Reason)
	assert.Equal(t, int64(6), result.NewBalance)

	stored, err := f.events.Get(ctx, merchantID, result.Event.ID)
	require.NoError(t, err)
	payload, err := stored.DecodedPayload()
	require.NoError(t, err)
	assert.Equal(t, eventdomain.PointsAdjustPayload{DeltaPoints: -4, Reason: "duplicate visit"}, payload)
}

func TestAdjust_RejectsEmptyReason(t *testing.T) {
	f := setup(t)

	_, err := f.ledger.Adjust(context.Background(), ledgerdomain.AdjustRequest{
		MerchantID:  merchantID,
		CustomerID:  customerID,
		DeltaPoints: 3,
	})
	assert.ErrorIs(t, err, eventdomain.ErrInvalidPayload)

	var count int64
	require.NoError(t, f.db.Model(&eventdomain.Event{}).Count(&count).Error)
	assert.Zero(t, count)
}
