package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned by Get when no fresh entry exists.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned by Get when the stored value cannot be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager keeps lookup bodies in Redis. Redis expiry does the eviction;
// Get still checks Expires in case the key TTL was changed out of band.
type Manager struct {
	redis *redis.Client
	now   func() time.Time
}

// NewManager panics on a nil client.
func NewManager(rdb *redis.Client) *Manager {
	if rdb == nil {
		panic("cache: nil redis client")
	}
	return &Manager{redis: rdb, now: time.Now}
}

// Get returns the entry for key or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	raw, err := m.redis.Get(ctx, key.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	case err != nil:
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	entry := new(Entry)
	if err := json.Unmarshal(raw, entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, key, err)
	}

	if entry.Stale(m.now()) {
		CacheMisses.Inc()
		if err := m.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	return entry, nil
}

// Set stores entry until its expiry. A stale entry is not written.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("cache: nil entry")
	}

	ttl := entry.Remaining(m.now())
	if ttl == 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := m.redis.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	CacheSize.WithLabelValues("redis").Add(float64(len(raw)))
	return nil
}

// Delete drops key. Deleting a missing key is not an error.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("cache del %s: %w", key, err)
	}
	return nil
}
