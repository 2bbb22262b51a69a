// Package circuitbreaker stops bulk refreshes from hammering a platform that
// keeps failing.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/types"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means one trial request is allowed through
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	MaxConsecutiveFailures int           // failures in a row before opening
	OpenTimeout            time.Duration // time to wait before a half-open trial
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConsecutiveFailures: 5,
		OpenTimeout:            5 * time.Minute,
	}
}

// CircuitBreaker guards calls to one platform
type CircuitBreaker struct {
	platform types.Platform
	config   Config
	now      func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(platform types.Platform, config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultConfig().MaxConsecutiveFailures
	}
	return &CircuitBreaker{
		platform: platform,
		config:   cfg,
		now:      time.Now,
		state:    StateClosed,
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		logging.WithFields(map[string]interface{}{
			"platform": cb.platform,
			"state":    StateHalfOpen,
		}).Info("Circuit breaker allowing trial request")
		return nil
	case StateHalfOpen:
		// a trial is already in flight
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state != StateClosed {
			logging.WithFields(map[string]interface{}{
				"platform": cb.platform,
				"state":    StateClosed,
			}).Info("Circuit breaker closed after successful recovery")
		}
		cb.state = StateClosed
		cb.consecutiveFails = 0
		return
	}

	cb.consecutiveFails++
	if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.config.MaxConsecutiveFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		logging.WithFields(map[string]interface{}{
			"platform":         cb.platform,
			"state":            StateOpen,
			"consecutiveFails": cb.consecutiveFails,
		}).Warn("Circuit breaker opened due to failures")
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker, e.g. after the credential was replaced
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
}

// Manager holds one breaker per platform
type Manager struct {
	config   *Config
	mu       sync.Mutex
	breakers map[types.Platform]*CircuitBreaker
}

// NewManager creates a breaker manager sharing one config
func NewManager(config *Config) *Manager {
	return &Manager{
		config:   config,
		breakers: make(map[types.Platform]*CircuitBreaker),
	}
}

// For returns the breaker for platform, creating it on first use
func (m *Manager) For(platform types.Platform) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[platform]; ok {
		return cb
	}
	cb := NewCircuitBreaker(platform, m.config)
	m.breakers[platform] = cb
	return cb
}

// Reset closes the breaker for platform if one exists
func (m *Manager) Reset(platform types.Platform) {
	m.mu.Lock()
	cb, ok := m.breakers[platform]
	m.mu.Unlock()
	if ok {
		cb.Reset()
	}
}
