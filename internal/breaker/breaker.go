// Package breaker guards calls to an upstream dependency with a circuit breaker.
//
// It wraps gobreaker's two-step breaker so that both single-shot calls and
// long-lived streams report exactly one outcome per attempt.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"backend-go-chat-gateway/internal/logger"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned (wrapped) when the breaker rejects a call without
// contacting the upstream.
var ErrOpen = errors.New("circuit breaker open")

// Settings configures a breaker.
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before letting a call through.
	Cooldown time.Duration
	// OnStateChange is called after the logger on every transition (optional).
	OnStateChange func(name, from, to string)
}

// Breaker is a named circuit breaker scoped to one upstream.
type Breaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

// New creates a breaker. After Cooldown the breaker admits calls again; the
// outcome of the first one closes the breaker (resetting the failure count)
// or re-opens it.
func New(name string, st Settings, lg *slog.Logger) *Breaker {
	threshold := st.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	onChange := st.OnStateChange
	return &Breaker{
		cb: gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     st.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.LogCircuitBreakerStateChange(lg, name, from.String(), to.String())
				if onChange != nil {
					onChange(name, from.String(), to.String())
				}
			},
		}),
	}
}

// Name returns the upstream name this breaker guards.
func (b *Breaker) Name() string { return b.cb.Name() }

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string { return b.cb.State().String() }

// ConsecutiveFailures reports the current failure streak.
func (b *Breaker) ConsecutiveFailures() uint32 { return b.cb.Counts().ConsecutiveFailures }

// Allow reserves an attempt. The returned done func must be called once with
// the attempt's error (nil on success); later calls are ignored.
//
// Errors caused by the caller's own cancellation are neutral: they neither
// reset nor extend the failure streak. The first call after the cooldown
// decides whether the breaker closes or re-opens; calls arriving while it is
// still in flight are let through and recorded with Record.
func (b *Breaker) Allow() (done func(err error), err error) {
	report, err := b.cb.Allow()
	switch {
	case err == nil:
		return b.settle(report), nil
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return b.Record, nil
	case errors.Is(err, gobreaker.ErrOpenState):
		return nil, ErrOpen
	default:
		return nil, err
	}
}

func (b *Breaker) settle(report func(success bool)) func(error) {
	var once sync.Once
	return func(callErr error) {
		once.Do(func() {
			switch {
			case callErr == nil:
				report(true)
			case errors.Is(callErr, context.Canceled):
				// The half-open slot has to be released; a cancelled first
				// attempt re-opens rather than closing on no evidence.
				if b.cb.State() == gobreaker.StateHalfOpen {
					report(false)
				}
			default:
				report(false)
			}
		})
	}
}

// Record counts the outcome of a call that ran without a reservation of its
// own. It is dropped while the first call after the cooldown is undecided.
func (b *Breaker) Record(callErr error) {
	if errors.Is(callErr, context.Canceled) {
		return
	}
	report, err := b.cb.Allow()
	if err != nil {
		return
	}
	report(callErr == nil)
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}
