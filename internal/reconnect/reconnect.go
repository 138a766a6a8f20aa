// Package reconnect throttles how often a client may attempt to
// re-establish a connection after it drops. It exists so a server that
// accepts and immediately closes can't spin a caller's reconnect loop.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"

	"github.com/quietpixel/sockclient/pkg/clock"
)

// ErrMaxAttemptsExceeded is returned by Wait once the configured attempt
// cap has been reached. A zero cap (the default) means unlimited.
var ErrMaxAttemptsExceeded = errors.New("reconnect: maximum reconnect attempts exceeded")

// DefaultLimiter returns a *rate.Limiter permitting one reconnect attempt
// per second with no burst, a reasonable default backoff for a flapping
// endpoint.
func DefaultLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 1)
}

// Supervisor gates reconnect attempts through a *rate.Limiter. The zero
// value is not usable; construct with New.
type Supervisor struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	clock       clock.Face
	logger      *slog.Logger
	maxAttempts int
	attempts    int
}

// New constructs a Supervisor around limiter. A nil limiter is replaced
// with DefaultLimiter.
func New(limiter *rate.Limiter, opts ...Option) *Supervisor {
	if limiter == nil {
		limiter = DefaultLimiter()
	}
	s := &Supervisor{
		limiter: limiter,
		clock:   clock.System{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until the supervisor permits another reconnect attempt,
// ctx is cancelled, or the attempt cap is reached.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.maxAttempts > 0 && s.attempts >= s.maxAttempts {
		s.mu.Unlock()
		return ErrMaxAttemptsExceeded
	}
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	reservation := s.limiter.Reserve()
	if !reservation.OK() {
		return errors.New("reconnect: limiter burst is too small to ever permit an attempt")
	}

	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	s.logger.Debug("backing off before reconnect attempt", "attempt", attempt, "delay", delay)

	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-s.clock.After(delay):
		return nil
	}
}

// Reset clears the attempt counter, for use once a connection has proven
// stable and a future drop should start backing off from scratch.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
}

// Attempts returns the number of Wait calls that have run since
// construction or the last Reset.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
