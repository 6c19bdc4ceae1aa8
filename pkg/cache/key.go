package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key this package writes.
const KeyPrefix = "bicat"

// Key identifies a cached lookup by API path and query.
type Key struct {
	Path  string
	Query url.Values
}

// KeyFromURL builds the key for a request URL. Host and scheme are ignored
// so that the same lookup against a mirror shares an entry.
func KeyFromURL(u *url.URL) Key {
	return Key{Path: u.Path, Query: u.Query()}
}

// String renders the Redis key, e.g.
//
//	bicat:x/player/playurl:bvid=BV1xx411c7mD:cid=123:fnval=16
//
// Query parameters are sorted, and only the first value of each is used.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(KeyPrefix)

	if p := strings.Trim(k.Path, "/"); p != "" {
		b.WriteByte(':')
		b.WriteString(p)
	}

	names := make([]string, 0, len(k.Query))
	for name := range k.Query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(k.Query.Get(name))
	}

	return b.String()
}
