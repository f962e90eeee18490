package poller

import (
	"net/http"
	"time"
)

// Backoff decides the delay before the next status check.
type Backoff interface {
	// Initial is the delay before the first check.
	Initial() time.Duration
	// Pending is applied after a successful check that is not terminal yet.
	Pending(cur time.Duration) time.Duration
	// HTTPFailure is applied after a non-2xx status response.
	HTTPFailure(cur time.Duration, status int) time.Duration
	// Failure is applied after a check that failed without an HTTP status.
	Failure(cur time.Duration) time.Duration
}

// Step scales the current delay by Factor and caps the result at Cap.
type Step struct {
	Factor float64
	Cap    time.Duration
}

// Adaptive grows the delay per failure class and decays it back toward Base
// while the job is pending. Every result is clamped to [Base, Ceiling].
type Adaptive struct {
	Base    time.Duration
	Ceiling time.Duration

	RateLimited Step // 429
	ServerError Step // 5xx
	NotFound    Step // 404, job not visible yet
	ClientError Step // any other status
	Exception   Step // transport or decode failure

	Decay float64
}

var _ Backoff = Adaptive{}

// DefaultAdaptive is the image-edit cadence: 2s base, 10s ceiling.
func DefaultAdaptive() Adaptive {
	return Adaptive{
		Base:        2 * time.Second,
		Ceiling:     10 * time.Second,
		RateLimited: Step{Factor: 2, Cap: 10 * time.Second},
		ServerError: Step{Factor: 1.5, Cap: 8 * time.Second},
		NotFound:    Step{Factor: 1.2, Cap: 3 * time.Second},
		ClientError: Step{Factor: 1.5, Cap: 5 * time.Second},
		Exception:   Step{Factor: 1.5, Cap: 8 * time.Second},
		Decay:       0.9,
	}
}

func (a Adaptive) Initial() time.Duration {
	return a.clamp(a.Base, a.Ceiling)
}

func (a Adaptive) Pending(cur time.Duration) time.Duration {
	decay := a.Decay
	if decay <= 0 || decay > 1 {
		decay = 1
	}
	return a.clamp(scale(cur, decay), a.Ceiling)
}

func (a Adaptive) HTTPFailure(cur time.Duration, status int) time.Duration {
	switch {
	case status == http.StatusTooManyRequests:
		return a.apply(cur, a.RateLimited)
	case status >= 500:
		return a.apply(cur, a.ServerError)
	case status == http.StatusNotFound:
		return a.apply(cur, a.NotFound)
	default:
		return a.apply(cur, a.ClientError)
	}
}

func (a Adaptive) Failure(cur time.Duration) time.Duration {
	return a.apply(cur, a.Exception)
}

func (a Adaptive) apply(cur time.Duration, s Step) time.Duration {
	limit := a.Ceiling
	if s.Cap > 0 && (limit <= 0 || s.Cap < limit) {
		limit = s.Cap
	}
	factor := s.Factor
	if factor < 1 {
		factor = 1
	}
	return a.clamp(scale(cur, factor), limit)
}

func (a Adaptive) clamp(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		d = limit
	}
	if d < a.Base {
		d = a.Base
	}
	return d
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

// Fixed waits the same interval before every check, whatever happened.
type Fixed struct {
	Interval time.Duration
}

var _ Backoff = Fixed{}

func (f Fixed) Initial() time.Duration {
	return f.Interval
}

func (f Fixed) Pending(time.Duration) time.Duration {
	return f.Interval
}

func (f Fixed) HTTPFailure(time.Duration, int) time.Duration {
	return f.Interval
}

func (f Fixed) Failure(time.Duration) time.Duration {
	return f.Interval
}
