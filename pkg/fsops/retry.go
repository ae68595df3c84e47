// Package fsops provides filesystem operations that survive transient
// interference from external processes such as antivirus scanners holding a
// directory open.
package fsops

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/cclash/oslbench/pkg/harness"
	"github.com/rs/zerolog"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	// BackoffFixed waits Delay between every attempt.
	BackoffFixed Backoff = "fixed"

	// BackoffExponential doubles the delay after every attempt, capped at MaxDelay.
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy bounds how often and how patiently a delete is retried.
type RetryPolicy struct {
	MaxAttempts int           // default 30
	Delay       time.Duration // default 2s
	Backoff     Backoff       // default fixed
	MaxDelay    time.Duration // cap for exponential backoff; 0 means uncapped
}

// DefaultRetryPolicy allows 30 attempts, 2s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 30,
		Delay:       2 * time.Second,
		Backoff:     BackoffFixed,
		MaxDelay:    30 * time.Second,
	}
}

// DelayAfter returns the wait following the given 1-based attempt.
func (p RetryPolicy) DelayAfter(attempt int) time.Duration {
	if p.Backoff != BackoffExponential {
		return p.Delay
	}
	if p.Delay <= 0 {
		return 0
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = math.MaxInt64
	}
	scaled := float64(p.Delay) * math.Pow(2, float64(max(attempt-1, 0)))
	if scaled >= float64(limit) {
		return limit
	}
	return time.Duration(scaled)
}

// Observer is notified about every delete attempt.
type Observer interface {
	RecordDeleteAttempt(op string, success bool)
}

// Ops performs retrying filesystem operations.
type Ops struct {
	policy   RetryPolicy
	logger   zerolog.Logger
	observer Observer

	removeAll func(string) error
	rename    func(string, string) error
	exists    func(string) bool
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// Option customizes Ops.
type Option func(*Ops)

// WithRemoveFunc replaces the recursive delete primitive.
func WithRemoveFunc(fn func(string) error) Option {
	return func(o *Ops) { o.removeAll = fn }
}

// WithRenameFunc replaces the rename primitive.
func WithRenameFunc(fn func(string, string) error) Option {
	return func(o *Ops) { o.rename = fn }
}

// WithExistsFunc replaces the existence check.
func WithExistsFunc(fn func(string) bool) Option {
	return func(o *Ops) { o.exists = fn }
}

// WithSleepFunc replaces the wait between attempts.
func WithSleepFunc(fn func(context.Context, time.Duration) error) Option {
	return func(o *Ops) { o.sleep = fn }
}

// WithObserver reports every attempt to obs.
func WithObserver(obs Observer) Option {
	return func(o *Ops) { o.observer = obs }
}

// New creates retrying filesystem operations bound to policy.
func New(policy RetryPolicy, logger zerolog.Logger, opts ...Option) *Ops {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	o := &Ops{
		policy:    policy,
		logger:    logger.With().Str("component", "fsops").Logger(),
		removeAll: os.RemoveAll,
		rename:    os.Rename,
		exists:    pathExists,
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the retry policy in effect.
func (o *Ops) Policy() RetryPolicy {
	return o.policy
}

// DeleteTree removes path recursively, retrying per the policy. After the
// last attempt it checks once more whether the path is gone, since the
// process holding it may have cleaned up in the meantime.
func (o *Ops) DeleteTree(ctx context.Context, path string) error {
	err := o.retry(ctx, "delete", path, func() error {
		return o.removeAll(path)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !o.exists(path) {
		o.logger.Info().Str("path", path).Msg("Path disappeared after final attempt")
		return nil
	}
	return harness.NewDeleteFailed(path, o.policy.MaxAttempts, err)
}

// MoveAside renames path to path.<unix-seconds> so a fresh tree can take its
// place while the old one stays available for inspection. It returns the new
// location, or "" if path did not exist.
func (o *Ops) MoveAside(ctx context.Context, path string) (string, error) {
	if !o.exists(path) {
		return "", nil
	}
	target := fmt.Sprintf("%s.%d", path, o.now().Unix())
	err := o.retry(ctx, "move", path, func() error {
		return o.rename(path, target)
	})
	if err == nil {
		return target, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	if !o.exists(path) {
		return target, nil
	}
	return "", harness.NewDeleteFailed(path, o.policy.MaxAttempts, err)
}

func (o *Ops) retry(ctx context.Context, op, path string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if o.observer != nil {
			o.observer.RecordDeleteAttempt(op, lastErr == nil)
		}
		if lastErr == nil {
			if attempt > 1 {
				o.logger.Info().Str("path", path).Int("attempt", attempt).Msgf("%s succeeded after retry", op)
			}
			return nil
		}

		if attempt == o.policy.MaxAttempts {
			break
		}
		delay := o.policy.DelayAfter(attempt)
		o.logger.Warn().
			Err(lastErr).
			Str("path", path).
			Int("attempt", attempt).
			Int("max_attempts", o.policy.MaxAttempts).
			Dur("retry_in", delay).
			Msgf("%s failed, path may be held by another process", op)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
