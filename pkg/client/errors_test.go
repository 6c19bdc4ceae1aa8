package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestRequestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *RequestError
		expected string
	}{
		{
			name: "with status code",
			err: &RequestError{
				Class:      ErrorClassStatus,
				StatusCode: 404,
				URL:        "https://example.com/a",
				Err:        errors.New("404 Not Found"),
			},
			expected: "status error (status 404) for https://example.com/a: 404 Not Found",
		},
		{
			name: "without status code",
			err: &RequestError{
				Class: ErrorClassNetwork,
				URL:   "https://example.com/a",
				Err:   errors.New("connection refused"),
			},
			expected: "network error for https://example.com/a: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRequestError_Unwrap(t *testing.T) {
	err := &RequestError{Class: ErrorClassThrottled, Err: ErrThrottled}

	if !errors.Is(err, ErrThrottled) {
		t.Error("errors.Is should see ErrThrottled through RequestError")
	}

	wrapped := fmt.Errorf("resolve: %w", err)
	if ClassOf(wrapped) != ErrorClassThrottled {
		t.Errorf("ClassOf(wrapped) = %q, want %q", ClassOf(wrapped), ErrorClassThrottled)
	}
}

func TestClassOf_Unclassified(t *testing.T) {
	if got := ClassOf(errors.New("plain")); got != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", got)
	}
	if got := ClassOf(nil); got != "" {
		t.Errorf("ClassOf(nil) = %q, want empty", got)
	}
}
