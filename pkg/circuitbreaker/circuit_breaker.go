package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// Config controls when the breaker opens and how it recovers
type Config struct {
	MaxFailures uint32
	Cooldown    time.Duration
	// HalfOpenProbes is how many consecutive successes close the breaker again
	HalfOpenProbes uint32
	// Trips decides which errors count as failures. Nil counts every error.
	Trips func(error) bool
}

// CircuitBreaker fails calls fast while a remote dependency is down
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time
	logger *logrus.Logger

	mu          sync.Mutex
	state       State
	failures    uint32
	probes      uint32
	inFlight    uint32
	openedAt    time.Time
	requests    uint64
	successes   uint64
	rejections  uint64
	lastFailure time.Time
}

func New(name string, config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.HalfOpenProbes == 0 {
		config.HalfOpenProbes = 1
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		logger: logger,
		state:  StateClosed,
	}
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateOpen:
		cb.rejections++
		return &OpenError{Name: cb.name, State: cb.state}
	case StateHalfOpen:
		if cb.inFlight >= cb.config.HalfOpenProbes {
			cb.rejections++
			return &OpenError{Name: cb.name, State: cb.state}
		}
	}
	cb.inFlight++
	cb.requests++
	return nil
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.inFlight--
	if err != nil && cb.counts(err) {
		cb.failures++
		cb.lastFailure = cb.now()
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.config.MaxFailures {
				cb.trip()
			}
		case StateHalfOpen:
			cb.trip()
		}
		return
	}

	cb.successes++
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probes++
		if cb.probes >= cb.config.HalfOpenProbes {
			cb.state = StateClosed
			cb.failures = 0
			cb.probes = 0
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"state":           StateClosed.String(),
			}).Info("Circuit breaker closed after successful trial request")
		}
	}
}

func (cb *CircuitBreaker) counts(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cb.config.Trips == nil {
		return true
	}
	return cb.config.Trips(err)
}

// advance moves an open breaker to half-open once the cooldown elapsed. Caller holds mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           StateHalfOpen.String(),
		}).Info("Circuit breaker transitioned to half-open")
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.probes = 0
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        cb.failures,
		"state":           StateOpen.String(),
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string
	State           State
	Failures        uint32
	Requests        uint64
	Successes       uint64
	Rejections      uint64
	LastFailureTime time.Time
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requests,
		Successes:       cb.successes,
		Rejections:      cb.rejections,
		LastFailureTime: cb.lastFailure,
	}
}

// OpenError is returned without calling the protected function
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsOpenError checks if an error came from a rejecting breaker
func IsOpenError(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
