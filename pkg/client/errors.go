package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrThrottled is returned when the context ends while a request is
	// waiting out a throttling cool-down.
	ErrThrottled = errors.New("remote throttling cool-down active")

	// ErrDecode is returned when a lookup response is not valid JSON.
	ErrDecode = errors.New("decode response")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures (DNS, connect, timeout).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassStatus represents non-2xx HTTP responses.
	ErrorClassStatus ErrorClass = "status"

	// ErrorClassBody represents failures while reading a response body.
	ErrorClassBody ErrorClass = "body"

	// ErrorClassThrottled represents requests refused by the throttle
	// tracker or answered with 412/429.
	ErrorClassThrottled ErrorClass = "throttled"
)

// RequestError describes one failed HTTP exchange.
type RequestError struct {
	Class      ErrorClass
	StatusCode int
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d) for %s: %v", e.Class, e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("%s error for %s: %v", e.Class, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// ClassOf returns the ErrorClass of err, or "" if err is not a RequestError.
func ClassOf(err error) ErrorClass {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Class
	}
	return ""
}
