package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/movieflix-seatlock/internal/config"
	"github.com/iliyamo/movieflix-seatlock/internal/metrics"
	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"
)

// bucketScript takes one token from the bucket at KEYS[1] after adding the
// refills due since the last call. ARGV: now_ms, capacity, refill_tokens,
// interval_ms, ttl_ms. Returns {allowed, remaining, retry_after_ms}.
var bucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local interval = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local stamp = tonumber(redis.call('HGET', KEYS[1], 'stamp'))
if tokens == nil or stamp == nil then
	tokens = capacity
	stamp = now
end

local due = math.floor(math.max(0, now - stamp) / interval)
if due > 0 then
	tokens = math.min(capacity, tokens + due * refill)
	stamp = stamp + due * interval
end

local retry = 0
local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	retry = math.max(0, interval - (now - stamp))
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'stamp', stamp)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tokens, retry}
`)

// maxPeekBody bounds how much of a request body is inspected for the
// showtime key part.
const maxPeekBody = 16 << 10

// bucketResult is the decoded reply of bucketScript.
type bucketResult struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

// tokenBucket runs bucketScript against one Redis client.
type tokenBucket struct {
	cfg   config.RateLimitConfig
	rdb   *redis.Client
	clock clockwork.Clock
}

func (b *tokenBucket) take(ctx context.Context, key string) (bucketResult, error) {
	vals, err := bucketScript.Run(ctx, b.rdb, []string{key},
		b.clock.Now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		b.cfg.TTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return bucketResult{}, err
	}
	if len(vals) != 3 {
		return bucketResult{}, fmt.Errorf("unexpected bucket reply %v", vals)
	}
	return bucketResult{
		allowed:   vals[0] == 1,
		remaining: vals[1],
		retry:     time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// NewTokenBucket limits requests with a token bucket kept in Redis, so every
// instance shares one budget per key. It passes everything through when
// disabled or when rdb is nil, and fails open on Redis errors. A nil clock
// uses the real clock.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, clock clockwork.Clock) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg.Clamp()
	bucket := &tokenBucket{cfg: cfg, rdb: rdb, clock: clock}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			res, err := bucket.take(c.Request().Context(), key)
			if err != nil {
				slog.Warn("Rate limit check failed, allowing request", "key", key, "error", err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if res.allowed {
				return next(c)
			}

			// round up so clients never retry early
			secs := int((res.retry + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.Itoa(secs))
			metrics.HTTPRateLimited.WithLabelValues(c.Path()).Inc()
			slog.Debug("Rate limited", "key", key, "retry_after", res.retry)
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"message":     "rate limit exceeded",
				"retry_after": secs,
			})
		}
	}
}

// buildRateKey joins the parts named by cfg.KeyStrategy, in that order,
// behind cfg.Prefix. Unknown parts are ignored; an empty strategy keys on
// user, route and showtime.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	strategy := strings.ToLower(strings.TrimSpace(cfg.KeyStrategy))
	if strategy == "" {
		strategy = "user_route_showtime"
	}
	parts := []string{cfg.Prefix}
	for _, p := range strings.Split(strategy, "_") {
		switch p {
		case "ip":
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			parts = append(parts, "ip", ip)
		case "user":
			parts = append(parts, "user", currentUserID(c))
		case "route":
			parts = append(parts, "route", c.Request().Method+" "+c.Path())
		case "showtime":
			parts = append(parts, "show", showtimeKey(c))
		}
	}
	return strings.Join(parts, ":")
}

// showtimeKey returns the room key the request targets, read from the query
// string or, for JSON bodies, from the body. The body is restored for the
// handler. Requests without a showtime share the "-" part.
func showtimeKey(c echo.Context) string {
	qp := c.QueryParams()
	st := seatlock.Showtime{
		MovieID:   qp.Get("movieId"),
		TheaterID: qp.Get("theaterId"),
		Date:      qp.Get("date"),
		Time:      qp.Get("time"),
	}
	if st.MovieID == "" {
		st = peekShowtime(c.Request())
	}
	if st.Validate() != nil {
		return "-"
	}
	return st.Key()
}

func peekShowtime(req *http.Request) seatlock.Showtime {
	var st seatlock.Showtime
	if req.Body == nil || !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return st
	}
	head, err := io.ReadAll(io.LimitReader(req.Body, maxPeekBody))
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), req.Body), req.Body}
	if err != nil {
		return st
	}
	_ = json.Unmarshal(head, &st)
	return st
}

func currentUserID(c echo.Context) string {
	switch v := c.Get(ContextUserID).(type) {
	case uint64:
		if v != 0 {
			return strconv.FormatUint(v, 10)
		}
	case string:
		if v != "" {
			return v
		}
	}
	return "anon"
}
