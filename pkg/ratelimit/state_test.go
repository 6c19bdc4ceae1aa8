package ratelimit

import (
	"testing"
	"time"
)

func TestThrottleState_IsBlocked(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		state ThrottleState
		want  bool
	}{
		{"zero state", ThrottleState{}, false},
		{"window in future", ThrottleState{BlockedUntil: now.Add(10 * time.Second)}, true},
		{"window expired", ThrottleState{BlockedUntil: now.Add(-time.Second)}, false},
		{"window ends now", ThrottleState{BlockedUntil: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsBlocked(now); got != tt.want {
				t.Errorf("IsBlocked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThrottleState_TimeUntilReset(t *testing.T) {
	s := ThrottleState{BlockedUntil: time.Now().Add(30 * time.Second)}
	d := s.TimeUntilReset()
	if d <= 25*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~30s", d)
	}

	expired := ThrottleState{BlockedUntil: time.Now().Add(-time.Minute)}
	if d := expired.TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() for expired window = %v, want 0", d)
	}
}

func TestThrottleState_IsStale(t *testing.T) {
	s := ThrottleState{LastUpdate: time.Now().Add(-2 * time.Minute)}
	if !s.IsStale(time.Minute) {
		t.Error("IsStale(1m) = false for 2m old state")
	}
	if s.IsStale(5 * time.Minute) {
		t.Error("IsStale(5m) = true for 2m old state")
	}
}

func TestIsThrottleStatus(t *testing.T) {
	tests := map[int]bool{
		200: false,
		404: false,
		412: true,
		429: true,
		500: false,
	}
	for code, want := range tests {
		if got := IsThrottleStatus(code); got != want {
			t.Errorf("IsThrottleStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
