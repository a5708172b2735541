package circuitbreaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/url-shortener/internal/healthcheck"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking operations
	StateHalfOpen              // Probing for recovery
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

// Config tunes a single breaker.
type Config struct {
	// FailureThreshold failures inside MonitoringWindow open the circuit.
	FailureThreshold int
	// SuccessThreshold successes in HALF_OPEN close the circuit.
	SuccessThreshold int
	// Timeout is how long the circuit stays OPEN before a probe is allowed.
	Timeout time.Duration
	// ResetTimeout clears the failure window after this long without a failure.
	ResetTimeout time.Duration
	// MonitoringWindow is the sliding window in which failures are counted.
	MonitoringWindow time.Duration
	// HealthCheckInterval enables background polling while OPEN. Zero disables it.
	HealthCheckInterval time.Duration
}

// DefaultConfig returns the settings used when a dependency has no explicit
// configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		ResetTimeout:        60 * time.Second,
		MonitoringWindow:    60 * time.Second,
		HealthCheckInterval: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold < 1 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = d.MonitoringWindow
	}
	if c.ResetTimeout < 0 {
		c.ResetTimeout = 0
	}
	if c.HealthCheckInterval < 0 {
		c.HealthCheckInterval = 0
	}
	return c
}

// HealthCheck reports whether the protected dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Sink receives breaker observations. Implementations must not block.
type Sink interface {
	RecordBreakerState(name, state string)
	RecordBreakerFailure(name, state string, windowFailures int)
	RecordBreakerSuccess(name, state string)
}

type noopSink struct{}

func (noopSink) RecordBreakerState(string, string)        {}
func (noopSink) RecordBreakerFailure(string, string, int) {}
func (noopSink) RecordBreakerSuccess(string, string)      {}

// Option customises a breaker at construction time.
type Option func(*CircuitBreaker)

// WithHealthCheck installs the probe polled while the circuit is OPEN.
func WithHealthCheck(hc HealthCheck) Option {
	return func(cb *CircuitBreaker) {
		cb.healthCheck = hc
	}
}

// WithSink reports transitions, failures and successes to s.
func WithSink(s Sink) Option {
	return func(cb *CircuitBreaker) {
		if s != nil {
			cb.sink = s
		}
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(cb *CircuitBreaker) {
		if l != nil {
			cb.logger = l
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// CircuitBreaker guards one named dependency. All bookkeeping happens under
// mutex; the guarded operation itself runs outside it.
type CircuitBreaker struct {
	name        string
	cfg         Config
	healthCheck HealthCheck
	sink        Sink
	logger      *slog.Logger
	now         func() time.Time

	mutex       sync.Mutex
	state       State
	failures    *failureWindow
	successes   int
	nextAttempt time.Time
	lastFailure time.Time
	destroyed   bool

	pollCancel context.CancelFunc
	pollGen    uint64
	pollWG     sync.WaitGroup
}

func New(name string, cfg Config, opts ...Option) *CircuitBreaker {
	cfg = cfg.withDefaults()

	cb := &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		sink:     noopSink{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		state:    StateClosed,
		failures: newFailureWindow(cfg.FailureThreshold),
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

// Execute runs op through cb. While the circuit is OPEN op is skipped and
// fallback is called with an *OpenError; when op fails the failure is
// recorded and fallback is called with op's error. A nil fallback makes
// Execute return those errors instead. An op that fails because the
// caller cancelled ctx is neither recorded nor handed to fallback.
func Execute[T any](
	ctx context.Context,
	cb *CircuitBreaker,
	op func(ctx context.Context) (T, error),
	fallback func(ctx context.Context, err error) (T, error),
) (T, error) {
	if err := cb.allow(); err != nil {
		if fallback != nil {
			return fallback(ctx, err)
		}
		var zero T
		return zero, err
	}

	result, err := op(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return result, err
		}

		cb.recordFailure()
		if fallback != nil {
			return fallback(ctx, err)
		}
		return result, err
	}

	cb.recordSuccess()
	return result, nil
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Stats is a point-in-time view of a breaker for health reporting.
type Stats struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	Successes     int       `json:"successes"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitzero"`
	LastFailureAt time.Time `json:"lastFailureAt,omitzero"`
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Stats{
		Name:          cb.name,
		State:         cb.state.String(),
		Failures:      cb.failures.count(cb.now(), cb.cfg.MonitoringWindow),
		Successes:     cb.successes,
		NextAttemptAt: cb.nextAttempt,
		LastFailureAt: cb.lastFailure,
	}
}

// Reset forces the circuit CLOSED and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.transition(StateClosed)
	cb.failures.reset()
	cb.successes = 0
}

// Destroy stops background health polling and waits for it to exit. The
// breaker keeps working afterwards but never polls again.
func (cb *CircuitBreaker) Destroy() {
	cb.mutex.Lock()
	cb.destroyed = true
	cb.stopPolling()
	cb.mutex.Unlock()

	cb.pollWG.Wait()
}

func (cb *CircuitBreaker) allow() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()

	switch cb.state {
	case StateOpen:
		if now.Before(cb.nextAttempt) {
			return &OpenError{Name: cb.name, RetryAt: cb.nextAttempt}
		}
		cb.transition(StateHalfOpen)
	case StateClosed:
		if cb.cfg.ResetTimeout > 0 && !cb.lastFailure.IsZero() &&
			now.Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
			cb.failures.reset()
		}
	}

	return nil
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	cb.lastFailure = now

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateClosed:
		cb.failures.add(now)
		if cb.failures.count(now, cb.cfg.MonitoringWindow) >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	}

	cb.sink.RecordBreakerFailure(cb.name, cb.state.String(),
		cb.failures.count(now, cb.cfg.MonitoringWindow))
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures.reset()
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}

	cb.sink.RecordBreakerSuccess(cb.name, cb.state.String())
}

// transition must be called with mutex held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.successes = 0

	switch to {
	case StateOpen:
		cb.nextAttempt = cb.now().Add(cb.cfg.Timeout)
		cb.startPolling()
	case StateHalfOpen:
		cb.stopPolling()
	case StateClosed:
		cb.failures.reset()
		cb.nextAttempt = time.Time{}
		cb.stopPolling()
	}

	cb.logger.Info("Circuit breaker state changed",
		slog.String("breaker", cb.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	cb.sink.RecordBreakerState(cb.name, to.String())
}

// startPolling must be called with mutex held.
func (cb *CircuitBreaker) startPolling() {
	if cb.healthCheck == nil || cb.cfg.HealthCheckInterval <= 0 || cb.destroyed {
		return
	}

	cb.stopPolling()

	ctx, cancel := context.WithCancel(context.Background())
	cb.pollCancel = cancel
	cb.pollGen++
	gen := cb.pollGen

	timeout := cb.cfg.HealthCheckInterval
	probe := healthcheck.Probe(cb.healthCheck)

	cb.pollWG.Add(1)
	go func() {
		defer cb.pollWG.Done()
		if healthcheck.Poll(ctx, cb.name, cb.cfg.HealthCheckInterval, timeout, probe, cb.logger) {
			cb.probeSucceeded(gen)
		}
	}()
}

// stopPolling must be called with mutex held. It does not wait for the
// polling goroutine, which may itself be blocked on mutex.
func (cb *CircuitBreaker) stopPolling() {
	if cb.pollCancel != nil {
		cb.pollCancel()
		cb.pollCancel = nil
	}
}

func (cb *CircuitBreaker) probeSucceeded(gen uint64) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen && gen == cb.pollGen {
		cb.transition(StateHalfOpen)
	}
}
