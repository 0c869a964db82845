package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBucket struct {
	mock.Mock
}

func (m *mockBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	args := m.Called(ctx, key, rate, burst)
	return args.Get(0).(*RateLimitResult), args.Error(1)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockLocker) Release(ctx context.Context, key, token string) error {
	args := m.Called(ctx, key, token)
	return args.Error(0)
}

var limitCfg = config.RateLimitConfig{
	EventIngestMerchantRate:  50,
	EventIngestMerchantBurst: 100,
	EventIngestCustomerRate:  2,
	EventIngestCustomerBurst: 5,
	RedeemLockTTLSeconds:     5,
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *EventIngestLimiter
	ctx := context.Background()

	res, err := l.AllowMerchant(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.AllowCustomer(ctx, "1", "2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, ok, err := l.LockRedemption(ctx, "1", "2", "3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.ReleaseRedemption(ctx, "1", "2", "3", "tok"))
}

func TestNewEventIngestLimiter_DisabledReturnsNil(t *testing.T) {
	l, err := NewEventIngestLimiter(nil, config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.False(t, l.Enabled())
}

func TestNewEventIngestLimiter_RejectsBadRates(t *testing.T) {
	_, err := NewEventIngestLimiter(nil, config.Config{RateLimit: config.RateLimitConfig{
		Enabled:   true,
		RedisAddr: "localhost:6379",
	}}, nil)
	assert.Error(t, err)
}

func TestAllow_UsesScopedKeys(t *testing.T) {
	b := &mockBucket{}
	l := newEventIngestLimiter(b, &mockLocker{}, limitCfg)
	ctx := context.Background()

	b.On("Allow", ctx, "loop:events:merchant:10", 50.0, 100).Return(&RateLimitResult{Allowed: true, Limit: 100}, nil)
	b.On("Allow", ctx, "loop:events:customer:10:20", 2.0, 5).Return(&RateLimitResult{Allowed: false, RetryAfter: time.Second}, nil)

	res, err := l.AllowMerchant(ctx, " 10 ")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.AllowCustomer(ctx, "10", "20")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	b.AssertExpectations(t)
}

func TestRedemptionLock(t *testing.T) {
	lk := &mockLocker{}
	l := newEventIngestLimiter(&mockBucket{}, lk, limitCfg)
	ctx := context.Background()
	key := "loop:redeem:lock:1:2:3"

	lk.On("TryLock", ctx, key, 5*time.Second).Return("tok", true, nil)
	lk.On("Release", ctx, key, "tok").Return(nil)

	token, ok, err := l.LockRedemption(ctx, "1", "2", "3")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.ReleaseRedemption(ctx, "1", "2", "3", token))

	lk.AssertExpectations(t)
}

func TestRedemptionLock_WaitsForHolder(t *testing.T) {
	lk := &mockLocker{}
	l := newEventIngestLimiter(&mockBucket{}, lk, limitCfg)
	l.lockPoll = time.Millisecond
	ctx := context.Background()
	key := "loop:redeem:lock:1:2:3"

	lk.On("TryLock", ctx, key, 5*time.Second).Return("", false, nil).Twice()
	lk.On("TryLock", ctx, key, 5*time.Second).Return("tok", true, nil).Once()

	token, ok, err := l.LockRedemption(ctx, "1", "2", "3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
	lk.AssertNumberOfCalls(t, "TryLock", 3)
}

func TestRedemptionLock_GivesUpAfterWait(t *testing.T) {
	lk := &mockLocker{}
	l := newEventIngestLimiter(&mockBucket{}, lk, limitCfg)
	l.lockPoll = time.Millisecond
	l.lockWait = 20 * time.Millisecond
	ctx := context.Background()

	lk.On("TryLock", ctx, "loop:redeem:lock:1:2:3", 5*time.Second).Return("", false, nil)

	token, ok, err := l.LockRedemption(ctx, "1", "2", "3")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestRedemptionLock_StopsOnCancel(t *testing.T) {
	lk := &mockLocker{}
	l := newEventIngestLimiter(&mockBucket{}, lk, limitCfg)
	l.lockPoll = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lk.On("TryLock", ctx, "loop:redeem:lock:1:2:3", 5*time.Second).Return("", false, nil)

	_, ok, err := l.LockRedemption(ctx, "1", "2", "3")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestBuildResult(t *testing.T) {
	denied := buildResult(false, 0, 1_000, 2, 5)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 500*time.Millisecond, denied.RetryAfter)
	assert.Equal(t, 5, denied.Limit)

	allowed := buildResult(true, 3, 1_000, 2, 5)
	assert.True(t, allowed.Allowed)
	assert.Zero(t, allowed.RetryAfter)
	assert.Equal(t, 3, allowed.Remaining)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 5*time.Second, defaultBucketTTL(2, 5))
	assert.Equal(t, time.Second, defaultBucketTTL(1000, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 1))
}

func TestParseReply(t *testing.T) {
	allowed, remaining, ts, err := parseReply([]any{int64(0), "0.25", int64(1_000)})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.InDelta(t, 0.25, remaining, 1e-9)
	assert.Equal(t, int64(1_000), ts)

	res := buildResult(allowed, remaining, ts, 2, 5)
	assert.Equal(t, 375*time.Millisecond, res.RetryAfter)
	assert.Equal(t, 0, res.Remaining)

	_, _, _, err = parseReply([]any{int64(1), int64(3), int64(1_000)})
	assert.ErrorIs(t, err, ErrScriptResponse)
	_, _, _, err = parseReply([]any{int64(1)})
	assert.ErrorIs(t, err, ErrScriptResponse)
}

func TestTokenBucket_NilIsNotConfigured(t *testing.T) {
	var b *TokenBucket
	res, err := b.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, res.Allowed)
}

func TestLocker_Guards(t *testing.T) {
	var nilLocker *Locker
	_, _, err := nilLocker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, nilLocker.Release(context.Background(), "k", "tok"))

	l := NewLocker(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	_, ok, err := l.TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLock)
	assert.False(t, ok)
	_, _, err = l.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidLock)
}
