package cache

import (
	"testing"
	"time"
)

func TestEntry_Stale(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{StoredAt: base, Expires: base.Add(time.Minute)}

	cases := map[string]struct {
		at   time.Time
		want bool
	}{
		"at store time":   {base, false},
		"one second left": {base.Add(59 * time.Second), false},
		"exactly expired": {base.Add(time.Minute), true},
		"long after":      {base.Add(time.Hour), true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := entry.Stale(tc.at); got != tc.want {
				t.Errorf("Stale(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestEntry_RemainingAndAge(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{StoredAt: base, Expires: base.Add(20 * time.Minute)}

	if got := entry.Remaining(base.Add(5 * time.Minute)); got != 15*time.Minute {
		t.Errorf("Remaining = %v, want 15m", got)
	}
	if got := entry.Remaining(base.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining after expiry = %v, want 0", got)
	}
	if got := entry.Age(base.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Age = %v, want 1m30s", got)
	}
}

func TestNewEntry(t *testing.T) {
	before := time.Now()
	entry := NewEntry([]byte(`{"code":0}`), 20*time.Minute)

	if string(entry.Body) != `{"code":0}` {
		t.Errorf("Body = %s", entry.Body)
	}
	if entry.StoredAt.Before(before) {
		t.Error("StoredAt predates the call")
	}
	if got := entry.Expires.Sub(entry.StoredAt); got != 20*time.Minute {
		t.Errorf("lifetime = %v, want 20m", got)
	}
	if entry.Stale(time.Now()) {
		t.Error("new entry is already stale")
	}
}
