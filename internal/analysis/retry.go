package analysis

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"nexvmeta/internal/domain"
)

const (
	DefaultMaxAttempts     = 5
	DefaultRateLimitWait   = 30 * time.Second
	DefaultTransientWait   = 3 * time.Second
	DefaultRetryHintBuffer = time.Second
)

// RetryState describes the attempt that just failed.
type RetryState struct {
	Attempt   int
	LastClass domain.ErrorClass
	Wait      time.Duration
	LastErr   error
}

// Classifier maps a failed attempt to a retry class.
type Classifier func(err error) domain.ErrorClass

// BackoffFunc returns how long to wait before the next attempt.
type BackoffFunc func(state RetryState) time.Duration

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryPolicy bundles classification, backoff and the attempt bound.
type RetryPolicy struct {
	MaxAttempts int
	Classify    Classifier
	Backoff     BackoffFunc
	Sleep       Sleeper
	OnRetry     func(state RetryState)
}

// DefaultRetryPolicy waits on provider hints when present, 30s on rate limits and 3s otherwise.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Classify:    ClassifyError,
		Backoff:     ProviderHintBackoff(FixedBackoff(DefaultRateLimitWait, DefaultTransientWait), DefaultRetryHintBuffer),
		Sleep:       SleepContext,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Classify == nil {
		p.Classify = def.Classify
	}
	if p.Backoff == nil {
		p.Backoff = def.Backoff
	}
	if p.Sleep == nil {
		p.Sleep = def.Sleep
	}
	return p
}

// Retry runs op until it succeeds, fails fatally, or MaxAttempts is reached.
// Exhaustion returns *domain.AnalysisFailedError wrapping the last error.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	p := policy.withDefaults()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := op(ctx, attempt)
		if err == nil {
			return out, nil
		}
		class := p.Classify(err)
		if class == domain.ClassFatal {
			return zero, err
		}
		if attempt >= p.MaxAttempts {
			return zero, &domain.AnalysisFailedError{Attempts: attempt, Class: class, Err: err}
		}
		state := RetryState{Attempt: attempt, LastClass: class, LastErr: err}
		state.Wait = p.Backoff(state)
		if p.OnRetry != nil {
			p.OnRetry(state)
		}
		if err := p.Sleep(ctx, state.Wait); err != nil {
			return zero, err
		}
	}
}

var rateLimitMarkers = []string{
	"429",
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"resource exhausted",
	"resource_exhausted",
	"too many requests",
}

// ClassifyError treats 429s and quota wording as rate limits, cancellation as
// fatal and everything else as transient. A malformed reply is always
// transient; its text is model output, not a provider message.
func ClassifyError(err error) domain.ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ClassFatal
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return domain.ClassRateLimited
	}
	var malformed *domain.MalformedResponseError
	if errors.As(err, &malformed) {
		return domain.ClassTransient
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return domain.ClassRateLimited
		}
	}
	return domain.ClassTransient
}

// FixedBackoff waits rateLimited after a rate limit and transient after anything else.
func FixedBackoff(rateLimited, transient time.Duration) BackoffFunc {
	return func(state RetryState) time.Duration {
		if state.LastClass == domain.ClassRateLimited {
			return rateLimited
		}
		return transient
	}
}

// ExponentialBackoff doubles base per attempt up to max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(state RetryState) time.Duration {
		wait := base
		for i := 1; i < state.Attempt; i++ {
			wait *= 2
			if max > 0 && wait >= max {
				return max
			}
		}
		if max > 0 && wait > max {
			return max
		}
		return wait
	}
}

// ProviderHintBackoff uses the provider's own wait hint plus buffer, and
// falls back when the error carries none. Hints are read only from
// UpstreamError, never from model output.
func ProviderHintBackoff(fallback BackoffFunc, buffer time.Duration) BackoffFunc {
	return func(state RetryState) time.Duration {
		var upstream *domain.UpstreamError
		if errors.As(state.LastErr, &upstream) {
			if upstream.RetryAfter > 0 {
				return upstream.RetryAfter + buffer
			}
			if hint, ok := ParseRetryAfter(upstream.Message); ok {
				return hint + buffer
			}
		}
		if fallback == nil {
			return buffer
		}
		return fallback(state)
	}
}

var retryHintPattern = regexp.MustCompile(`(?i)(?:try again|retry) in\s+((?:\d+(?:\.\d+)?(?:ms|h|m|s))+)`)

// ParseRetryAfter reads hints such as "Please try again in 12.5s" or "retry in 1m2.3s".
func ParseRetryAfter(msg string) (time.Duration, bool) {
	m := retryHintPattern.FindStringSubmatch(msg)
	if len(m) < 2 {
		return 0, false
	}
	d, err := time.ParseDuration(strings.ToLower(m[1]))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// SleepContext waits for d unless ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
