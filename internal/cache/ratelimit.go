package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	publishBucketPrefix = "ratelimit:publish:"
	publishBucketMinTTL = 2 * time.Minute
)

// RateLimitResult is the outcome of taking a token from a publish bucket.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// publishBucketScript refills and spends one token atomically. Time is in
// milliseconds: publish rates are low single digits per second, and whole
// second refills would stall a site for a full second after every burst.
//
// KEYS[1] bucket; ARGV rate per ms, burst, now ms, ttl ms.
// Returns {allowed, retry_after_ms, tokens_left}.
var publishBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
	tokens = math.min(burst, tokens + (now - ts) * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	wait = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {allowed, wait, math.floor(tokens)}
`)

// CheckPublishRateLimit takes one token from the bucket of a WordPress
// site. Every worker process shares the bucket, so the site sees the
// combined request rate. A non-positive rate disables the limit.
//
// Redis failures fail open; the publisher's own client-side limiter still
// paces requests.
func (c *Cache) CheckPublishRateLimit(ctx context.Context, siteID string, ratePerSecond float64, burst int) (*RateLimitResult, error) {
	if burst < 1 {
		burst = 1
	}
	if ratePerSecond <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst)}, nil
	}

	perMS := ratePerSecond / 1000
	fill := time.Duration(float64(burst) / ratePerSecond * float64(time.Second))
	ttl := max(publishBucketMinTTL, 2*fill)

	out, err := publishBucketScript.Run(ctx, c.client,
		[]string{publishBucketPrefix + hashKey(siteID)},
		perMS, burst, time.Now().UnixMilli(), ttl.Milliseconds(),
	).Int64Slice()
	if err != nil || len(out) != 3 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst)}, nil
	}

	return &RateLimitResult{
		Allowed:    out[0] == 1,
		RetryAfter: time.Duration(out[1]) * time.Millisecond,
		Remaining:  out[2],
	}, nil
}

// hashKey keeps site URLs out of key names.
func hashKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

