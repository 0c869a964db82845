package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotConfigured  = errors.New("rate_limiter_not_configured")
	ErrInvalidBucket  = errors.New("invalid_rate_limit_bucket")
	ErrScriptResponse = errors.New("invalid_rate_limit_response")
)

// The bucket hash holds fractional tokens and the last refill in ms.
// Refill uses redis TIME so all API nodes agree on elapsed time. Tokens are
// returned as a string because lua numbers are truncated to integers on reply.
const tokenBucketScript = `
local rate, burst, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + (now - last) * rate / 1000)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), now}
`

// TokenBucket is a redis-backed token bucket shared by every API replica.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Allow takes one token from key, refilling at rate tokens per second up to burst.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	denied := &RateLimitResult{Limit: burst}
	if t == nil || t.client == nil {
		return denied, ErrNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return denied, fmt.Errorf("%w: key=%q rate=%v burst=%d", ErrInvalidBucket, key, rate, burst)
	}

	ttl := defaultBucketTTL(rate, burst).Milliseconds()
	reply, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, ttl).Slice()
	if err != nil {
		return denied, err
	}
	allowed, remaining, ts, err := parseReply(reply)
	if err != nil {
		return denied, err
	}
	return buildResult(allowed, remaining, ts, rate, burst), nil
}

func parseReply(reply []any) (allowed bool, remaining float64, tsMillis int64, err error) {
	if len(reply) != 3 {
		return false, 0, 0, ErrScriptResponse
	}
	flag, ok1 := reply[0].(int64)
	ts, ok2 := reply[2].(int64)
	tokens, ok3 := reply[1].(string)
	if !ok1 || !ok2 || !ok3 {
		return false, 0, 0, ErrScriptResponse
	}
	remaining, err = strconv.ParseFloat(tokens, 64)
	if err != nil {
		return false, 0, 0, fmt.Errorf("%w: %v", ErrScriptResponse, err)
	}
	return flag == 1, remaining, ts, nil
}

// buildResult derives Retry-After from the fraction of a token still missing.
func buildResult(allowed bool, remaining float64, tsMillis int64, rate float64, burst int) *RateLimitResult {
	var retryAfter time.Duration
	if missing := 1 - remaining; !allowed && missing > 0 && rate > 0 {
		retryAfter = time.Duration(missing / rate * float64(time.Second))
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(math.Floor(remaining)),
		ResetTime:  time.UnixMilli(tsMillis).Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

// defaultBucketTTL keeps an idle bucket for twice its full-refill time, at least one second.
func defaultBucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	return max(time.Duration(math.Ceil(2*float64(burst)/rate))*time.Second, time.Second)
}
