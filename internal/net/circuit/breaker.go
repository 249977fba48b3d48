package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrBreakerOpen is returned when the breaker is open and the caller supplied
// no fallback.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// clientFault marks errors attributable to the caller (4xx class). They
// propagate but do not count toward opening the breaker.
type clientFault interface {
	ClientFault() bool
}

func isClientFault(err error) bool {
	var cf clientFault
	return errors.As(err, &cf) && cf.ClientFault()
}

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	SuccessThreshold uint32        `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// Status is a snapshot of the breaker for the health surface.
type Status struct {
	State              string     `json:"state"`
	FailureCount       uint32     `json:"failureCount"`
	LastFailureTime    *time.Time `json:"lastFailureTime"`
	MsSinceLastFailure int64      `json:"msSinceLastFailure"`
}

// Breaker guards the upstream with a three-state circuit and diverts to the
// caller's fallback while open. A single instance guards the whole upstream,
// not one per operation.
type Breaker struct {
	cb *gobreaker.CircuitBreaker

	// gobreaker zeroes its counts on every state transition, so the
	// consecutive-failure streak is tracked here for the status surface.
	mu          sync.Mutex
	failures    uint32
	lastFailure time.Time
}

// New creates a breaker: FailureThreshold consecutive counted failures open
// it, Timeout later a trial call half-opens it, SuccessThreshold half-open
// successes close it again. A half-open failure reopens immediately.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return b
}

// Execute runs primary through the circuit. While open (or over the half-open
// trial budget) primary is suppressed and fallback runs; with no fallback the
// caller gets ErrBreakerOpen. A primary failure also diverts to the fallback
// when one was supplied.
func (b *Breaker) Execute(ctx context.Context, primary func(context.Context) (any, error), fallback func(context.Context) (any, error)) (any, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return primary(ctx)
	})
	if err == nil {
		b.mu.Lock()
		b.failures = 0
		b.mu.Unlock()
		return result, nil
	}

	suppressed := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
	if !suppressed {
		b.mu.Lock()
		if isClientFault(err) {
			b.failures = 0
		} else {
			b.failures++
			b.lastFailure = time.Now()
		}
		b.mu.Unlock()
	}

	if fallback != nil {
		return fallback(ctx)
	}
	if suppressed {
		return nil, ErrBreakerOpen
	}
	return nil, err
}

// State returns the current state name (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Status returns a snapshot for the health surface.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	failures := b.failures
	last := b.lastFailure
	b.mu.Unlock()

	st := Status{
		State:        b.cb.State().String(),
		FailureCount: failures,
	}
	if !last.IsZero() {
		st.LastFailureTime = &last
		st.MsSinceLastFailure = time.Since(last).Milliseconds()
	}
	return st
}
