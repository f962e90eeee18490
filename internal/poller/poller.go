// Package poller runs a status check repeatedly until an external job reaches
// a terminal outcome or the attempt bound is exhausted.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcome classifies a single observation or the final result of a run.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeReady
	OutcomeFailed
	OutcomeModerated
	OutcomeTimeout
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeReady:
		return "ready"
	case OutcomeFailed:
		return "failed"
	case OutcomeModerated:
		return "moderated"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Terminal reports whether no further checks should follow o.
func (o Outcome) Terminal() bool {
	return o != OutcomePending
}

// ErrExhausted is the Timeout cause when the last attempt did not fail with
// an exception of its own.
var ErrExhausted = errors.New("poller: attempts exhausted without a terminal status")

// Observation is what one status check saw.
type Observation[T any] struct {
	Outcome Outcome
	Value   T
	// Detail carries provider context for failed or moderated jobs.
	Detail string
}

// Result is the single terminal outcome of a run.
type Result[T any] struct {
	Outcome  Outcome
	Value    T
	Attempts int
	Detail   string
	// Err is set for Timeout (the last exception, or ErrExhausted) and
	// Canceled (the context error).
	Err error
}

// CheckFunc performs one status query. attempt starts at 1. Non-2xx
// responses should be returned as errors implementing HTTPStatusCode() int.
type CheckFunc[T any] func(ctx context.Context, attempt int) (Observation[T], error)

// Config bounds and paces a run.
type Config struct {
	MaxAttempts int
	Backoff     Backoff
	// BeforeCheck runs before every check, e.g. to refresh credentials.
	// An error counts as a failed attempt.
	BeforeCheck func(ctx context.Context, attempt int) error
	// Sleep waits between checks; nil uses a timer bound to ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// Name labels log lines.
	Name string
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Run waits, checks, and adjusts the delay until check reports a terminal
// outcome, the attempts run out, or ctx is canceled. The delay is waited
// before every check, including the first.
func Run[T any](ctx context.Context, cfg Config, check CheckFunc[T]) Result[T] {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultAdaptive()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := log.With().Str("poller", cfg.Name).Logger()

	delay := cfg.Backoff.Initial()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := sleep(ctx, delay); err != nil {
			return Result[T]{Outcome: OutcomeCanceled, Attempts: attempt - 1, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return Result[T]{Outcome: OutcomeCanceled, Attempts: attempt - 1, Err: err}
		}

		obs, err := runCheck(ctx, cfg, attempt, check)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result[T]{Outcome: OutcomeCanceled, Attempts: attempt, Err: ctxErr}
			}
			var coded httpStatusCoder
			if errors.As(err, &coded) {
				delay = cfg.Backoff.HTTPFailure(delay, coded.HTTPStatusCode())
				lastErr = nil
			} else {
				delay = cfg.Backoff.Failure(delay)
				lastErr = err
			}
			logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("status check failed")
			continue
		}

		if obs.Outcome.Terminal() {
			return Result[T]{
				Outcome:  obs.Outcome,
				Value:    obs.Value,
				Attempts: attempt,
				Detail:   obs.Detail,
			}
		}
		lastErr = nil
		delay = cfg.Backoff.Pending(delay)
		logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("job pending")
	}

	cause := lastErr
	if cause == nil {
		cause = ErrExhausted
	}
	return Result[T]{Outcome: OutcomeTimeout, Attempts: cfg.MaxAttempts, Err: cause}
}

func runCheck[T any](ctx context.Context, cfg Config, attempt int, check CheckFunc[T]) (Observation[T], error) {
	if cfg.BeforeCheck != nil {
		if err := cfg.BeforeCheck(ctx, attempt); err != nil {
			return Observation[T]{}, fmt.Errorf("poller: before check: %w", err)
		}
	}
	return check(ctx, attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
