// Package ratelimit paces outbound provider calls with a per-provider
// adaptive delay: a sliding window of request outcomes drives a backoff
// multiplier, so a provider throwing errors gets called less often and a
// healthy one recovers toward the base pace.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for the adaptive window.
const (
	DefaultWindow            = 60 * time.Second
	DefaultBaseDelay         = 100 * time.Millisecond
	DefaultMaxDelay          = 30 * time.Second
	DefaultIncreaseThreshold = 0.30
	DefaultDecreaseThreshold = 0.10
	DefaultMultiplierStep    = 1.5
)

type outcome struct {
	at      time.Time
	success bool
}

type providerState struct {
	limiter    *rate.Limiter
	outcomes   []outcome
	multiplier float64
}

// Limiter adapts per-provider request pacing to recent error rates. Waits go
// through an x/time/rate limiter whose rate is recomputed as the backoff
// multiplier moves.
type Limiter struct {
	window            time.Duration
	baseDelay         time.Duration
	maxDelay          time.Duration
	increaseThreshold float64
	decreaseThreshold float64
	step              float64

	mu        sync.Mutex
	providers map[string]*providerState
	now       func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithBaseDelay sets the minimum inter-call delay per provider.
func WithBaseDelay(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.baseDelay = d
		}
	}
}

// WithMaxDelay caps the adaptive backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.maxDelay = d
		}
	}
}

// WithWindow sets the sliding window over which error rates are computed.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// New returns a limiter with the default adaptive parameters.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		window:            DefaultWindow,
		baseDelay:         DefaultBaseDelay,
		maxDelay:          DefaultMaxDelay,
		increaseThreshold: DefaultIncreaseThreshold,
		decreaseThreshold: DefaultDecreaseThreshold,
		step:              DefaultMultiplierStep,
		providers:         make(map[string]*providerState),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) state(provider string) *providerState {
	st, ok := l.providers[provider]
	if !ok {
		st = &providerState{
			limiter:    rate.NewLimiter(delayToRate(l.baseDelay), 1),
			multiplier: 1.0,
		}
		l.providers[provider] = st
	}
	return st
}

// Wait blocks until the provider's current pace allows another call, or the
// context is done.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	l.mu.Lock()
	limiter := l.state(provider).limiter
	l.mu.Unlock()
	return limiter.Wait(ctx)
}

// Record notes a request outcome and adjusts the provider's pace: error rate
// above the increase threshold multiplies the delay by the step (capped at
// the max delay); error rate below the decrease threshold divides it back
// toward the base delay.
func (l *Limiter) Record(provider string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(provider)
	st.outcomes = append(st.outcomes, outcome{at: l.now(), success: success})
	l.prune(st)

	errRate := errorRate(st.outcomes)
	maxMultiplier := float64(l.maxDelay) / float64(l.baseDelay)
	switch {
	case errRate > l.increaseThreshold:
		st.multiplier = min(st.multiplier*l.step, maxMultiplier)
	case errRate < l.decreaseThreshold && st.multiplier > 1.0:
		st.multiplier = max(st.multiplier/l.step, 1.0)
	default:
		return
	}
	st.limiter.SetLimit(delayToRate(l.delayLocked(st)))
}

// Delay returns the provider's current inter-call delay.
func (l *Limiter) Delay(provider string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delayLocked(l.state(provider))
}

// ErrorRate returns the provider's error fraction over the sliding window.
func (l *Limiter) ErrorRate(provider string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(provider)
	l.prune(st)
	return errorRate(st.outcomes)
}

// Reset clears a provider's window and pace.
func (l *Limiter) Reset(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.providers, provider)
}

func (l *Limiter) delayLocked(st *providerState) time.Duration {
	d := time.Duration(float64(l.baseDelay) * st.multiplier)
	if d > l.maxDelay {
		d = l.maxDelay
	}
	return d
}

func (l *Limiter) prune(st *providerState) {
	cutoff := l.now().Add(-l.window)
	i := 0
	for i < len(st.outcomes) && st.outcomes[i].at.Before(cutoff) {
		i++
	}
	st.outcomes = st.outcomes[i:]
}

func errorRate(outcomes []outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	errs := 0
	for _, o := range outcomes {
		if !o.success {
			errs++
		}
	}
	return float64(errs) / float64(len(outcomes))
}

func delayToRate(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}
