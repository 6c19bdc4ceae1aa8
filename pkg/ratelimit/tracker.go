package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	throttleEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bicat_throttle_events_total",
		Help: "Total number of throttling responses recorded",
	})

	throttleBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bicat_throttle_blocks_total",
		Help: "Total number of requests held back by an active cool-down window",
	})
)

// Tracker records throttling responses and gates requests.
type Tracker struct {
	redis    *redis.Client
	logger   zerolog.Logger
	cooldown time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker. A non-positive cooldown uses DefaultCooldown.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, cooldown time.Duration) *Tracker {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Tracker{
		redis:    redisClient,
		logger:   logger,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// IsThrottleStatus reports whether an HTTP status code signals throttling.
// Bilibili answers 412 when its risk control kicks in.
func IsThrottleStatus(code int) bool {
	return code == http.StatusPreconditionFailed || code == http.StatusTooManyRequests
}

// GetState retrieves the current throttle state. Missing keys yield a zero
// (unblocked) state.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	state := &ThrottleState{}

	blockedUntil, err := t.redis.Get(ctx, RedisKeyBlockedUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get blocked until: %w", err)
	}
	if err == nil {
		state.BlockedUntil = time.UnixMilli(blockedUntil)
	}

	throttles, err := t.redis.Get(ctx, RedisKeyThrottles).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get throttle count: %w", err)
	}
	state.Throttles = throttles

	lastUpdate, err := t.redis.Get(ctx, RedisKeyLastUpdate).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if err == nil {
		state.LastUpdate = time.UnixMilli(lastUpdate)
	}

	return state, nil
}

// RecordThrottle stores a cool-down window derived from the response
// headers (Retry-After in seconds) or the tracker's default cooldown.
func (t *Tracker) RecordThrottle(ctx context.Context, headers http.Header) error {
	wait := t.cooldown
	if ra := headers.Get("Retry-After"); ra != "" {
		secs, err := strconv.Atoi(ra)
		if err != nil {
			t.logger.Debug().Str("retry_after", ra).Msg("Ignoring unparsable Retry-After header")
		} else if secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait > MaxCooldown {
		wait = MaxCooldown
	}

	now := t.now()
	until := now.Add(wait)

	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyBlockedUntil, until.UnixMilli(), wait)
	pipe.Incr(ctx, RedisKeyThrottles)
	pipe.Set(ctx, RedisKeyLastUpdate, now.UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}

	throttleEventsTotal.Inc()
	t.logger.Warn().
		Dur("cooldown", wait).
		Time("blocked_until", until).
		Msg("Remote throttling detected - pausing requests")

	return nil
}

// CooldownRemaining returns how long requests must be held back, or 0
// when no cool-down window is active.
func (t *Tracker) CooldownRemaining(ctx context.Context) (time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return 0, fmt.Errorf("get throttle state: %w", err)
	}

	now := t.now()
	if !state.IsBlocked(now) {
		return 0, nil
	}

	wait := state.BlockedUntil.Sub(now)
	throttleBlocksTotal.Inc()
	t.logger.Debug().
		Dur("wait_duration", wait).
		Msg("Cool-down active - holding request")
	return wait, nil
}
