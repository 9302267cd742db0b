package resilience

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

type BreakerConfig struct {
	Threshold       int
	RecoveryTimeout time.Duration
}

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	State       State     `json:"-"`
	StateName   string    `json:"state"`
	Failures    int       `json:"consecutive_failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Breaker guards calls to a single destination.
//
// All transitions happen under mu, so exactly one caller can move an open
// breaker to half-open and take the probe slot; concurrent callers see the
// slot taken and fail fast.
type Breaker struct {
	dest   string
	cfg    BreakerConfig
	now    func() time.Time
	onMove func(dest string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

func newBreaker(dest string, cfg BreakerConfig, now func() time.Time, onMove func(string, State, State)) *Breaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	return &Breaker{dest: dest, cfg: cfg, now: now, onMove: onMove}
}

// Allow returns ErrCircuitOpen when the call must not reach the transport.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	to := b.state
	b.mu.Unlock()

	b.moved(from, to)
	return nil
}

// Success records a completed call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probing = false
	b.state = StateClosed
	b.mu.Unlock()

	b.moved(from, StateClosed)
}

// Failure records a retryable failure and returns the resulting state.
// A failed probe re-opens the breaker and restarts the recovery timer.
func (b *Breaker) Failure() State {
	b.mu.Lock()
	from := b.state
	b.failures++
	b.lastFailure = b.now()
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
		b.state = StateOpen
	}
	to := b.state
	b.mu.Unlock()

	b.moved(from, to)
	return to
}

// Release frees the probe slot after a call that neither succeeded nor
// failed transiently. Counters are untouched.
func (b *Breaker) Release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:       b.state,
		StateName:   b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

func (b *Breaker) moved(from, to State) {
	if from != to && b.onMove != nil {
		b.onMove(b.dest, from, to)
	}
}
