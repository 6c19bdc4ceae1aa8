// Package cache stores resolver metadata lookups in Redis.
//
// Resolving one BVID takes two JSON lookups (video view, then play URL).
// Re-running a batch for the items that failed last time repeats those
// lookups for every item, so the client can keep the JSON bodies in Redis
// for a bounded time:
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Path:  "/x/web-interface/view",
//		Query: url.Values{"bvid": []string{"BV1xx411c7mD"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch, then manager.Set(ctx, key, cache.NewEntry(body, time.Hour))
//	}
//
// Play URLs are signed and expire on the CDN side, so they get a shorter TTL
// than video metadata. Audio bodies are never cached.
//
// # Metrics
//
//   - bicat_cache_hits_total{layer="redis"}
//   - bicat_cache_misses_total
//   - bicat_cache_size_bytes{layer="redis"}
//   - bicat_cache_errors_total{operation}
package cache
