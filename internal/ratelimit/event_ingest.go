package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loop/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyEventIngestMerchant = "loop:events:merchant:%s"
	keyEventIngestCustomer = "loop:events:customer:%s:%s"
	keyRedemptionLock      = "loop:redeem:lock:%s:%s:%s"

	redemptionLockPoll = 25 * time.Millisecond
)

type bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

type locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// EventIngestLimiter throttles event ingestion per merchant and per customer and
// queues duplicate in-flight redemptions behind one another. A nil limiter
// allows everything.
type EventIngestLimiter struct {
	enabled bool

	bucket bucket
	locker locker

	merchantRate  float64
	merchantBurst int
	customerRate  float64
	customerBurst int
	lockTTL       time.Duration
	lockWait      time.Duration
	lockPoll      time.Duration
}

func NewEventIngestLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*EventIngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.EventIngestMerchantRate <= 0 || limitCfg.EventIngestMerchantBurst <= 0 {
		return nil, errors.New("event ingest merchant rate limit must be positive")
	}
	if limitCfg.EventIngestCustomerRate <= 0 || limitCfg.EventIngestCustomerBurst <= 0 {
		return nil, errors.New("event ingest customer rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}
	if log != nil {
		log.Info("event ingest rate limiting enabled", zap.String("redis_addr", addr))
	}

	return newEventIngestLimiter(NewTokenBucket(client), NewLocker(client), limitCfg), nil
}

func newEventIngestLimiter(b bucket, l locker, cfg config.RateLimitConfig) *EventIngestLimiter {
	lockTTL := time.Duration(cfg.RedeemLockTTLSeconds) * time.Second
	return &EventIngestLimiter{
		enabled:       true,
		bucket:        b,
		locker:        l,
		merchantRate:  cfg.EventIngestMerchantRate,
		merchantBurst: cfg.EventIngestMerchantBurst,
		customerRate:  cfg.EventIngestCustomerRate,
		customerBurst: cfg.EventIngestCustomerBurst,
		lockTTL:       lockTTL,
		lockWait:      lockTTL,
		lockPoll:      redemptionLockPoll,
	}
}

func (l *EventIngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *EventIngestLimiter) AllowMerchant(ctx context.Context, merchantID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyEventIngestMerchant, strings.TrimSpace(merchantID))
	return l.bucket.Allow(ctx, key, l.merchantRate, l.merchantBurst)
}

func (l *EventIngestLimiter) AllowCustomer(ctx context.Context, merchantID, customerID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyEventIngestCustomer, strings.TrimSpace(merchantID), strings.TrimSpace(customerID))
	return l.bucket.Allow(ctx, key, l.customerRate, l.customerBurst)
}

// LockRedemption waits up to the lock TTL for the merchant/customer/reward
// lock, polling while another request holds it. ok=false with a nil error
// means the wait ran out; the caller proceeds and the approved-redemption
// unique index decides.
func (l *EventIngestLimiter) LockRedemption(ctx context.Context, merchantID, customerID, rewardID string) (token string, ok bool, err error) {
	if !l.Enabled() || l.lockTTL <= 0 {
		return "", true, nil
	}
	key := redemptionLockKey(merchantID, customerID, rewardID)

	deadline := time.NewTimer(l.lockWait)
	defer deadline.Stop()
	poll := time.NewTicker(l.lockPoll)
	defer poll.Stop()

	for {
		token, ok, err = l.locker.TryLock(ctx, key, l.lockTTL)
		if err != nil || ok {
			return token, ok, err
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-deadline.C:
			return "", false, nil
		case <-poll.C:
		}
	}
}

func (l *EventIngestLimiter) ReleaseRedemption(ctx context.Context, merchantID, customerID, rewardID, token string) error {
	if !l.Enabled() || token == "" {
		return nil
	}
	return l.locker.Release(ctx, redemptionLockKey(merchantID, customerID, rewardID), token)
}

func redemptionLockKey(merchantID, customerID, rewardID string) string {
	return fmt.Sprintf(
		keyRedemptionLock,
		strings.TrimSpace(merchantID),
		strings.TrimSpace(customerID),
		strings.TrimSpace(rewardID),
	)
}
