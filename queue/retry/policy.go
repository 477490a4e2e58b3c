// Package retry provides the backoff policies used by the service
// coordinator's restart delay and the batch executor's retry_backoff_factor
// sleeps. The worker pool's own nack-retry accounting lives on the queue
// backend's Nack instead (see queue/worker), so it has no call site here.
//
// Built on cenkalti/backoff/v4's ExponentialBackOff, the same library
// trustbloc-orb uses for its outbox-style retry scheduling.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy defines retry behavior: how many attempts, and how long to wait
// before the next one.
type Policy struct {
	MaxRetries      int           `json:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval"`
	Multiplier      float64       `json:"multiplier"`
	MaxInterval     time.Duration `json:"max_interval"`
}

// Default returns the policy names: max_retries=3.
func Default() *Policy {
	return &Policy{
		MaxRetries:      3,
		InitialInterval: 30 * time.Second,
		Multiplier:      2.0,
		MaxInterval:     5 * time.Minute,
	}
}

// Exponential builds a policy with the given attempt cap and growth factor.
func Exponential(maxRetries int, initialInterval time.Duration, multiplier float64) *Policy {
	return &Policy{
		MaxRetries:      maxRetries,
		InitialInterval: initialInterval,
		Multiplier:      multiplier,
		MaxInterval:     initialInterval * time.Duration(1<<uint(maxRetries+1)),
	}
}

// Linear builds a policy that waits the same interval before every attempt.
func Linear(maxRetries int, interval time.Duration) *Policy {
	return &Policy{
		MaxRetries:      maxRetries,
		InitialInterval: interval,
		Multiplier:      1.0,
		MaxInterval:     interval * time.Duration(maxRetries+1),
	}
}

// None disables retries entirely.
func None() *Policy {
	return &Policy{MaxRetries: 0, Multiplier: 1.0}
}

// ShouldRetry reports whether another attempt is permitted after `attempts`
// recorded failures.
func (p *Policy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxRetries
}

// backOff builds a cenkalti/backoff ExponentialBackOff configured from this
// policy. Each call returns a fresh, unstarted backoff so NextInterval is
// reproducible from a given attempt count.
func (p *Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0.25
	return b
}

// NextInterval returns the delay to wait before the (attempts+1)'th attempt,
// or zero if the retry budget is exhausted.
func (p *Policy) NextInterval(attempts int) time.Duration {
	if !p.ShouldRetry(attempts) {
		return 0
	}
	b := p.backOff()
	var d time.Duration
	for i := 0; i <= attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// NextRetry returns the absolute time of the next retry, or the zero Time if
// the retry budget is exhausted.
func (p *Policy) NextRetry(attempts int) time.Time {
	if !p.ShouldRetry(attempts) {
		return time.Time{}
	}
	return time.Now().Add(p.NextInterval(attempts))
}
