package orchestrator

import (
	"math/rand/v2"
	"time"

	"relingo/internal/config"
)

// Backoff computes retry delays: base × 2^n capped at Max, where n counts the
// retries already made for the (branch, stage). Attempt numbers start at 1,
// so the delay after attempt a is base × 2^(a-1) and the first retry waits
// exactly base. Up to Jitter × that delay is added, and a delay is never
// shorter than the previous one of the same (branch, stage).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	Rand   func() float64
}

// BackoffFromConfig reads the retry section.
func BackoffFromConfig(cfg *config.Config) Backoff {
	return Backoff{
		Base:   time.Duration(cfg.Retry.BaseDelayMillis) * time.Millisecond,
		Max:    time.Duration(cfg.Retry.MaxDelayMillis) * time.Millisecond,
		Jitter: cfg.Retry.Jitter,
	}
}

// Next returns the delay before the attempt following the failed attempt.
func (b Backoff) Next(attempt int, previous time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	limit := b.Max
	if limit <= 0 {
		limit = b.Base
	}
	d := b.Base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	d = min(d, limit)
	if b.Jitter > 0 && d > 0 {
		random := rand.Float64
		if b.Rand != nil {
			random = b.Rand
		}
		d = min(limit, d+time.Duration(random()*b.Jitter*float64(d)))
	}
	return max(d, previous)
}
