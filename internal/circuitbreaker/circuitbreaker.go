// Package circuitbreaker protects the reminder delivery providers from
// cascade failures: a provider that keeps erroring gets failed fast until a
// probe shows it recovered.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position. Closed passes traffic, Open rejects it,
// HalfOpen lets a bounded number of probes through after the recovery
// timeout.
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
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a CircuitBreaker.
type Config struct {
	// Name identifies the provider behind the breaker ("ses", "sns", "twilio").
	Name string

	// MaxFailures is how many consecutive failures open the circuit.
	MaxFailures int

	// RecoveryTimeout is how long an open circuit waits before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests bounds concurrent probes while half-open.
	HalfOpenMaxRequests int
}

// DefaultConfig returns the defaults used for the delivery providers.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker tracks consecutive provider failures and rejects requests
// while the provider is considered down.
type CircuitBreaker struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.Mutex
	state          State
	consecFailures int
	lastFailure    time.Time
	probesInFlight int
	rejected       int64
}

// New creates a breaker in the closed state. Zero config fields fall back to
// DefaultConfig values.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}

	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Allow reports whether a request may go through, moving an open circuit to
// half-open once the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailure) < cb.cfg.RecoveryTimeout {
			cb.rejected++
			return false
		}
		cb.setState(StateHalfOpen)
		cb.probesInFlight = 1
		return true

	case StateHalfOpen:
		if cb.probesInFlight >= cb.cfg.HalfOpenMaxRequests {
			cb.rejected++
			return false
		}
		cb.probesInFlight++
		return true
	}
	return false
}

// RecordSuccess clears the failure streak. A successful half-open probe
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecFailures = 0
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.logger.Info("provider recovered, circuit closed",
			zap.String("breaker", cb.cfg.Name),
		)
	}
}

// RecordFailure extends the failure streak. The streak reaching MaxFailures
// opens a closed circuit; any failed probe re-opens a half-open one.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecFailures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.consecFailures >= cb.cfg.MaxFailures {
			cb.setState(StateOpen)
			cb.logger.Warn("circuit opened after consecutive failures",
				zap.String("breaker", cb.cfg.Name),
				zap.Int("failures", cb.consecFailures),
			)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.logger.Warn("probe failed, circuit re-opened",
			zap.String("breaker", cb.cfg.Name),
		)
	}
}

// GetState returns the current breaker position.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a point-in-time snapshot for monitoring endpoints.
type Stats struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	ConsecFailures int    `json:"consecutive_failures"`
	Rejected       int64  `json:"rejected"`
	LastFailure    string `json:"last_failure,omitempty"`
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:           cb.cfg.Name,
		State:          cb.state.String(),
		ConsecFailures: cb.consecFailures,
		Rejected:       cb.rejected,
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailure = cb.lastFailure.Format(time.RFC3339)
	}
	return s
}

// Reset forces the breaker back to closed. Operator escape hatch.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.consecFailures = 0

	cb.logger.Info("circuit breaker manually reset",
		zap.String("breaker", cb.cfg.Name),
	)
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.probesInFlight = 0
	cb.logger.Debug("circuit state changed",
		zap.String("breaker", cb.cfg.Name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}
