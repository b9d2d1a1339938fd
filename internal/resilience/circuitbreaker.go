// Package resilience stops a failing collaborator from stalling the relay.
//
// Failed STT and TTS calls are never retried; the item is dropped. A
// [CircuitBreaker] additionally short-circuits calls with [ErrCircuitOpen]
// once a provider has failed MaxFailures times in a row, so items are dropped
// without waiting on a dead endpoint until a probe call succeeds again.
// [GuardSTT] and [GuardTTS] put a breaker in front of a provider.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned instead of calling a provider whose breaker is
// open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the mode of a [CircuitBreaker].
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected until ResetTimeout elapses
	StateHalfOpen              // up to HalfOpenMax probe calls decide the next state
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	Name         string        // log label
	MaxFailures  int           // consecutive failures that open the breaker; default 5
	ResetTimeout time.Duration // time spent open before probing; default 30s
	HalfOpenMax  int           // concurrent probes, all of which must succeed; default 1

	// OnStateChange runs after each transition without the lock held.
	OnStateChange func(name string, from, to State)

	Now func() time.Time
}

func (c *CircuitBreakerConfig) withDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CircuitBreaker is a closed/open/half-open breaker. It is safe for
// concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	openedAt  time.Time
	inFlight  int // probes running, while half-open
	succeeded int // probes passed, while half-open
	rejected  uint64
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.withDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker rejects it with [ErrCircuitOpen].
//
// An error wrapping context.Canceled returned while ctx is done does not
// count as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(probe, err != nil && !(ctx.Err() != nil && errors.Is(err, context.Canceled)), err == nil)
	return err
}

// admit decides whether a call may run and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.state = StateHalfOpen
		cb.inFlight, cb.succeeded = 0, 0
	}
	switch {
	case cb.state == StateOpen, cb.state == StateHalfOpen && cb.inFlight >= cb.cfg.HalfOpenMax:
		cb.rejected++
		cb.mu.Unlock()
		return false, ErrCircuitOpen
	case cb.state == StateHalfOpen:
		cb.inFlight++
		probe = true
	}
	to := cb.state
	cb.mu.Unlock()
	cb.transitioned(from, to)
	return probe, nil
}

// settle records the outcome of an admitted call. A call that neither failed
// nor succeeded was cancelled and frees its probe slot.
func (cb *CircuitBreaker) settle(probe, failed, succeeded bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case failed && (probe || cb.state == StateHalfOpen):
		cb.trip()
	case failed:
		if cb.failures++; cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case succeeded && !probe:
		cb.failures = 0
	case succeeded:
		if cb.succeeded++; cb.state == StateHalfOpen && cb.succeeded >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
		}
	case probe:
		cb.inFlight--
	}
	to := cb.state
	cb.mu.Unlock()
	cb.transitioned(from, to)
}

// trip opens the breaker. cb.mu must be held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}
	log := slog.With("name", cb.cfg.Name)
	switch to {
	case StateOpen:
		log.Warn("circuit breaker opened", "from", from.String(), "reset_timeout", cb.cfg.ResetTimeout)
	case StateHalfOpen:
		log.Info("circuit breaker probing")
	case StateClosed:
		log.Info("circuit breaker closed")
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State reports the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the switch itself happens on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Rejected counts calls refused without running.
func (cb *CircuitBreaker) Rejected() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.inFlight, cb.succeeded = 0, 0, 0
	cb.mu.Unlock()
	cb.transitioned(from, StateClosed)
}
