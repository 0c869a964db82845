package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/loop/internal/merchantcontext"
	"github.com/smallbiznis/loop/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loop/internal/observability/metrics"
	"github.com/smallbiznis/loop/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonMerchantRate = "merchant-rate"
	rateLimitReasonCustomerRate = "customer-rate"
)

// requestLimiter is the redis-backed limiter the API middleware consults.
type requestLimiter interface {
	Enabled() bool
	AllowMerchant(ctx context.Context, merchantID string) (*ratelimit.RateLimitResult, error)
	AllowCustomer(ctx context.Context, merchantID, customerID string) (*ratelimit.RateLimitResult, error)
	LockRedemption(ctx context.Context, merchantID, customerID, rewardID string) (string, bool, error)
	ReleaseRedemption(ctx context.Context, merchantID, customerID, rewardID, token string) error
}

type ingestRateLimitKey struct {
	MerchantID *snowflake.ID `json:"merchant_id"`
	CustomerID *snowflake.ID `json:"customer_id"`
	RewardID   *snowflake.ID `json:"reward_id"`
}

// EventIngestRateLimit applies the per-merchant and per-customer token buckets to event ingestion.
func (s *Server) EventIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key, err := readIngestRateLimitKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("event ingest rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		merchantID := rateLimitMerchant(ctx, key)
		if merchantID == "" {
			// The handler rejects the request without a merchant.
			c.Next()
			return
		}
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.ingestLimiter.AllowMerchant(ctx, merchantID)
		if err != nil {
			logger.FromContext(ctx).Warn("event ingest merchant rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyRateLimit(c, endpoint, merchantID, rateLimitReasonMerchantRate, result.RetryAfter, s.obsMetrics)
			return
		}

		if key.CustomerID != nil && *key.CustomerID != 0 {
			result, err = s.ingestLimiter.AllowCustomer(ctx, merchantID, key.CustomerID.String())
			if err != nil {
				logger.FromContext(ctx).Warn("event ingest customer rate limit check failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !result.Allowed {
				denyRateLimit(c, endpoint, merchantID, rateLimitReasonCustomerRate, result.RetryAfter, s.obsMetrics)
				return
			}
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, merchantID, endpoint)
		c.Next()
	}
}

// RedemptionConcurrencyGuard queues concurrent redemptions of the same
// reward by the same customer so the later one sees the earlier outcome.
// It never rejects: when the wait runs out the request goes through and the
// approved-redemption unique index decides.
func (s *Server) RedemptionConcurrencyGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key, err := readIngestRateLimitKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("redemption guard read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		merchantID := rateLimitMerchant(ctx, key)
		if merchantID == "" || key.CustomerID == nil || key.RewardID == nil {
			c.Next()
			return
		}
		customerID, rewardID := key.CustomerID.String(), key.RewardID.String()

		token, locked, err := s.ingestLimiter.LockRedemption(ctx, merchantID, customerID, rewardID)
		if err != nil {
			logger.FromContext(ctx).Warn("redemption concurrency lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !locked {
			logger.FromContext(ctx).Warn("redemption concurrency lock wait expired")
			c.Next()
			return
		}
		defer func() {
			if err := s.ingestLimiter.ReleaseRedemption(context.WithoutCancel(ctx), merchantID, customerID, rewardID, token); err != nil {
				logger.FromContext(ctx).Warn("redemption concurrency unlock failed", zap.Error(err))
			}
		}()

		c.Next()
	}
}

func denyRateLimit(c *gin.Context, endpoint, merchantID, reason string, retryAfter time.Duration, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	metrics.RecordRateLimitDenied(ctx, merchantID, endpoint, reason)

	c.Header("Retry-After", retryAfterSeconds(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int64(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

func rateLimitMerchant(ctx context.Context, key ingestRateLimitKey) string {
	if key.MerchantID != nil && *key.MerchantID != 0 {
		return key.MerchantID.String()
	}
	if id, ok := merchantcontext.MerchantIDFromContext(ctx); ok {
		return id.String()
	}
	return ""
}

// readIngestRateLimitKey peeks at the JSON body and restores it for the handler.
// A body that does not parse yields an empty key; the handler reports the error.
func readIngestRateLimitKey(c *gin.Context) (ingestRateLimitKey, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ingestRateLimitKey{}, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return ingestRateLimitKey{}, nil
	}

	var key ingestRateLimitKey
	if err := json.Unmarshal(body, &key); err != nil {
		return ingestRateLimitKey{}, nil
	}
	return key, nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
