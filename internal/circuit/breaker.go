// Package circuit implements a circuit breaker guarding the audio fetch path.
// Repeated fetch failures open the breaker; while open, the preload strategy
// treats the origin like an unavailable network instead of piling up doomed
// requests.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/tunecache/tunecache/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected
	StateOpen
	// StateHalfOpen - limited requests probe whether the origin recovered
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Maximum number of requests allowed through when half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period of the closed state after which failure counts reset
	Interval time.Duration `yaml:"interval"`

	// Period of the open state after which the breaker goes half-open
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides when accumulated failures open the breaker
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange is called on every transition
	OnStateChange func(from State, to State) `yaml:"-"`
}

// Counts holds request and success/failure tallies for the current window.
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Breaker implements the circuit breaker pattern for fetch operations.
type Breaker struct {
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// ErrOpen is returned when the breaker rejects a request.
var ErrOpen = errors.NewError(errors.ErrCodeCircuitOpen, "fetch circuit breaker is open").
	WithComponent("circuit").WithRetryable(false)

// New creates a circuit breaker.
func New(config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// defaultReadyToTrip opens the breaker after a run of consecutive failures.
// Audio fetches are low-volume, so a ratio over a request floor would take
// too long to react.
func defaultReadyToTrip(counts Counts) bool {
	return counts.ConsecutiveFailures >= 5
}

// Execute runs fn if the breaker allows it and records the outcome.
// Context cancellation is not counted as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	if ctx.Err() != nil {
		// Cancelled work says nothing about origin health.
		b.afterRequest(nil)
		return err
	}
	b.afterRequest(err)
	return err
}

// Allow reports whether a request would currently pass. It does not count
// as a request; use Execute for that.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState(time.Now())
	return state != StateOpen
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)

	if state == StateOpen {
		return ErrOpen
	}

	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return ErrOpen
	}

	b.counts.onRequest()
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)

	if err == nil {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	b.counts.onSuccess()

	if state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.counts.onFailure()

	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState resolves window expiry transitions. Caller must hold the lock.
func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.counts.clear()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(prev, state)
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// GetCounts returns a copy of the current counts.
func (b *Breaker) GetCounts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset returns the breaker to the closed state with cleared counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts.clear()
	b.state = StateClosed
	b.expiry = time.Now().Add(b.config.Interval)
}

func (c *Counts) onRequest() {
	c.Requests++
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	c.Requests = 0
	c.TotalSuccesses = 0
	c.TotalFailures = 0
	c.ConsecutiveSuccesses = 0
	c.ConsecutiveFailures = 0
}
