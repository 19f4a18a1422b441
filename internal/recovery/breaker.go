package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/migrator/internal/core/clock"
)

// CircuitState is the state of the circuit breaker gate.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Rejecting all operations
	CircuitHalfOpen                     // Probing after the cool-down
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *CircuitState) UnmarshalText(text []byte) error {
	for _, st := range []CircuitState{CircuitClosed, CircuitOpen, CircuitHalfOpen} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown circuit state %q", text)
}

// ErrCircuitOpen is returned by operations rejected while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// validTransitions lists the allowed state changes.
var validTransitions = map[CircuitState][]CircuitState{
	CircuitClosed:   {CircuitOpen},
	CircuitOpen:     {CircuitHalfOpen},
	CircuitHalfOpen: {CircuitClosed, CircuitOpen},
}

func canTransition(from, to CircuitState) bool {
	for _, target := range validTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
	}
}

// StateChange describes a circuit transition.
type StateChange struct {
	From      CircuitState
	To        CircuitState
	Failures  int
	Timestamp time.Time
}

// CircuitBreaker counts failures and flips between CLOSED, OPEN and HALF_OPEN.
// State is owned exclusively by the breaker.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	clock    clock.Clock
	state    CircuitState
	failures int
	rejected int
	openedAt time.Time
	timer    clock.Timer
	onChange func(StateChange)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig, clk clock.Clock) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CircuitBreaker{cfg: cfg, clock: clk, state: CircuitClosed}
}

// SetStateChangeCallback registers fn to be called after every transition.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(StateChange)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// IsOpen reports whether the circuit currently rejects operations.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == CircuitOpen
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Rejected returns how many operations were rejected while open.
func (cb *CircuitBreaker) Rejected() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}

// Reject records an operation turned away by the open circuit.
func (cb *CircuitBreaker) Reject() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rejected++
}

// Record feeds one handled outcome into the breaker. failed is true for
// ERROR and CRITICAL outcomes. A non-failure closes a half-open circuit.
func (cb *CircuitBreaker) Record(failed bool) {
	cb.mu.Lock()
	var change *StateChange

	switch {
	case cb.state == CircuitHalfOpen && !failed:
		change = cb.transition(CircuitClosed)
		cb.failures = 0
	case cb.state == CircuitHalfOpen && failed:
		cb.failures++
		change = cb.transition(CircuitOpen)
	case cb.state == CircuitClosed && failed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			change = cb.transition(CircuitOpen)
		}
	}

	fn := cb.onChange
	cb.mu.Unlock()

	if change != nil && fn != nil {
		fn(*change)
	}
}

// RecordSuccess feeds a successful operation: it closes a half-open circuit
// and clears the consecutive failure count of a closed one.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	if cb.state == CircuitClosed {
		cb.failures = 0
		cb.mu.Unlock()
		return
	}
	cb.mu.Unlock()
	cb.Record(false)
}

// Reset forces the circuit closed and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.timer != nil {
		cb.timer.Stop()
		cb.timer = nil
	}
	cb.state = CircuitClosed
	cb.failures = 0
	cb.rejected = 0
}

// Close stops the pending cool-down timer.
func (cb *CircuitBreaker) Close() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.timer != nil {
		cb.timer.Stop()
		cb.timer = nil
	}
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to CircuitState) *StateChange {
	from := cb.state
	if !canTransition(from, to) {
		return nil
	}
	cb.state = to
	change := &StateChange{From: from, To: to, Failures: cb.failures, Timestamp: cb.clock.Now()}

	switch to {
	case CircuitOpen:
		cb.openedAt = change.Timestamp
		if cb.timer != nil {
			cb.timer.Stop()
		}
		cb.timer = cb.clock.AfterFunc(cb.cfg.OpenTimeout, cb.halfOpen)
		slog.Warn("Circuit breaker opened",
			"failures", cb.failures,
			"cooldown", cb.cfg.OpenTimeout,
		)
	case CircuitClosed:
		slog.Info("Circuit breaker closed", "from", from.String())
	}
	return change
}

func (cb *CircuitBreaker) halfOpen() {
	cb.mu.Lock()
	cb.timer = nil
	change := cb.transition(CircuitHalfOpen)
	fn := cb.onChange
	cb.mu.Unlock()

	if change == nil {
		return
	}
	slog.Info("Circuit breaker half-open, probing for recovery")
	if fn != nil {
		fn(*change)
	}
}
