package reconnect

import (
	"golang.org/x/exp/slog"

	"github.com/quietpixel/sockclient/pkg/clock"
)

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithClock overrides the clock used to wait out a reservation's delay.
// Tests use this to substitute a *clock.Mock for real sleeping.
func WithClock(c clock.Face) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger overrides the *slog.Logger used for backoff events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithMaxAttempts caps the number of attempts Wait will permit before
// returning ErrMaxAttemptsExceeded. Zero (the default) means unlimited.
func WithMaxAttempts(n int) Option {
	return func(s *Supervisor) { s.maxAttempts = n }
}
