// Package ratelimit tracks Bilibili throttling responses (HTTP 412/429) and
// gates outgoing requests while a cool-down window is active. State lives in
// Redis so that concurrent bicat runs on one host back off together.
package ratelimit

import (
	"time"
)

// Redis keys for throttle state storage.
const (
	RedisKeyBlockedUntil = "bicat:throttle:blocked_until"
	RedisKeyThrottles    = "bicat:throttle:count"
	RedisKeyLastUpdate   = "bicat:throttle:last_update"
)

// DefaultCooldown is applied when a throttling response has no usable
// Retry-After header.
const DefaultCooldown = 30 * time.Second

// MaxCooldown caps server supplied Retry-After values.
const MaxCooldown = 10 * time.Minute

// ThrottleState is the shared throttling state.
type ThrottleState struct {
	// BlockedUntil is the end of the current cool-down window. Zero means
	// no window was ever recorded.
	BlockedUntil time.Time `json:"blocked_until"`

	// Throttles counts throttling responses seen since the key was created.
	Throttles int64 `json:"throttles"`

	// LastUpdate is when a throttling response was last recorded.
	LastUpdate time.Time `json:"last_update"`
}

// IsBlocked reports whether requests should be held back at now.
func (s *ThrottleState) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilReset returns the remaining cool-down, or 0 when not blocked.
func (s *ThrottleState) TimeUntilReset() time.Duration {
	d := time.Until(s.BlockedUntil)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if no throttling was recorded within maxAge.
func (s *ThrottleState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
