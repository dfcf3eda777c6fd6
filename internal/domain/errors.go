package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidImage = errors.New("invalid image")
	ErrRateLimited  = errors.New("rate limited")
	ErrNoCaller     = errors.New("no model caller configured")
)

// ErrorClass is the retry classification of a failed attempt.
type ErrorClass string

const (
	ClassRateLimited ErrorClass = "rate_limited"
	ClassTransient   ErrorClass = "transient"
	ClassFatal       ErrorClass = "fatal"
)

// StorageError is returned by every storage driver.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UpstreamError carries a non-2xx answer from a model or tool provider.
// Message is the provider's raw error text.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrRateLimited) match 429 answers.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 429
}

// MalformedResponseError reports model output that holds no parseable JSON object.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	snippet := strings.TrimSpace(e.Raw)
	if r := []rune(snippet); len(r) > 120 {
		snippet = string(r[:120]) + "..."
	}
	if e.Err == nil {
		return fmt.Sprintf("malformed model response: %q", snippet)
	}
	return fmt.Sprintf("malformed model response: %v (raw %q)", e.Err, snippet)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// AnalysisFailedError is returned once every retry attempt has been used.
type AnalysisFailedError struct {
	Attempts int
	Class    ErrorClass
	Err      error
}

func (e *AnalysisFailedError) Error() string {
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("analysis failed after %d attempts: %s", e.Attempts, msg)
}

func (e *AnalysisFailedError) Unwrap() error { return e.Err }

func (e *AnalysisFailedError) Is(target error) bool {
	return target == ErrRateLimited && e.Class == ClassRateLimited
}
