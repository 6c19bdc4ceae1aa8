package cache

import "time"

// Entry is one cached JSON lookup body.
type Entry struct {
	Body     []byte    `json:"body"`
	StoredAt time.Time `json:"stored_at"`
	Expires  time.Time `json:"expires"`
}

// NewEntry wraps body so that it stays fresh for ttl from now.
func NewEntry(body []byte, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{Body: body, StoredAt: now, Expires: now.Add(ttl)}
}

// Stale reports whether the entry is past its expiry at now.
func (e *Entry) Stale(now time.Time) bool {
	return !now.Before(e.Expires)
}

// Remaining is the lifetime left at now, never negative.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if d := e.Expires.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Age is how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}
