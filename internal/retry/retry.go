// Package retry implements the request retry policy shared by both remote
// connectors. Two failure classes get retried: rate limiting, where the
// server names the pause and the retry is unconditional, and transient
// faults, which get a small fixed budget of quick re-attempts. Everything
// else fails immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries bounds re-attempts after a transient fault.
	DefaultMaxRetries = 5
	// DefaultDelay is the pause between transient re-attempts.
	DefaultDelay = 500 * time.Millisecond
)

// RateLimitError reports that the server asked us to slow down. Wait is the
// pause the server named (e.g. from a Retry-After header).
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.Wait)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth a bounded re-attempt (network blips,
// server-side 5xx). A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Policy drives retries for a connector. The zero value is not usable;
// construct with NewPolicy or fill every field.
type Policy struct {
	MaxRetries uint64        // transient re-attempts after the first try
	Delay      time.Duration // pause between transient re-attempts
	Log        *slog.Logger
}

// NewPolicy returns a Policy with the default budget. A nil log discards.
func NewPolicy(log *slog.Logger) *Policy {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Policy{
		MaxRetries: DefaultMaxRetries,
		Delay:      DefaultDelay,
		Log:        log,
	}
}

// Do runs op until it succeeds, fails permanently, or the context ends.
// A RateLimitError sleeps exactly the server-named duration and then starts
// over with a fresh transient budget; rate limiting is throttling, not
// failure, so it never counts against MaxRetries.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	for {
		err := p.retryTransient(ctx, op)
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return err
		}
		p.logger().Warn("rate limited by server, waiting", "wait", rl.Wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.Wait):
		}
	}
}

func (p *Policy) retryTransient(ctx context.Context, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), p.MaxRetries)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var rl *RateLimitError
		if errors.As(err, &rl) {
			// Handled by the outer loop in Do; stop this cycle.
			return backoff.Permanent(err)
		}
		if IsTransient(err) {
			p.logger().Debug("transient fault, retrying", "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

func (p *Policy) logger() *slog.Logger {
	if p.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Log
}
