package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMaxIterations = errors.New("max iterations reached")
	ErrToolNotFound  = errors.New("tool not found")
	ErrDuplicateTool = errors.New("duplicate tool name")
	ErrInvalidTool   = errors.New("invalid tool")
	ErrInvalidConfig = errors.New("invalid engine config")
)

// ErrorKind classifies provider failures for whole-run retry.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindFatal       ErrorKind = "fatal"
)

// ProviderError is a model or tool call failure.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimited builds a retryable provider error.
func RateLimited(statusCode int, retryAfter time.Duration, err error) *ProviderError {
	return &ProviderError{Kind: KindRateLimited, StatusCode: statusCode, RetryAfter: retryAfter, Err: err}
}

// Fatal builds a non-retryable provider error.
func Fatal(statusCode int, err error) *ProviderError {
	return &ProviderError{Kind: KindFatal, StatusCode: statusCode, Err: err}
}

// IsRateLimited reports whether err is a rate-limit-class failure.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == KindRateLimited
	}
	return looksRateLimited(err)
}

// ClassifyProviderError wraps an untyped provider failure. Context errors
// and already-classified errors are returned unchanged.
func ClassifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if looksRateLimited(err) {
		return RateLimited(0, 0, err)
	}
	return Fatal(0, err)
}

func looksRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "429", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
