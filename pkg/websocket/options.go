package websocket

import (
	"time"

	"golang.org/x/exp/slog"

	"github.com/quietpixel/sockclient/internal/reconnect"
	"github.com/quietpixel/sockclient/pkg/clock"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithTimeout bounds how long the handshake and the underlying transport's
// Send/Receive/Poll wait for progress. Pass transport.Block to wait
// indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithVerifyCertificates controls TLS certificate verification for wss
// handshakes.
func WithVerifyCertificates(verify bool) Option {
	return func(c *Client) { c.verifyCerts = verify }
}

// WithLogger overrides the *slog.Logger used for connection lifecycle and
// frame-level logging. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithAutomaticReconnect sets the initial automatic-reconnect behavior.
// Enabled by default.
func WithAutomaticReconnect(enabled bool) Option {
	return func(c *Client) { c.reconnectEnabled.Store(enabled) }
}

// WithReconnectSupervisor overrides the backoff supervisor throttling
// reconnect attempts. The default wraps reconnect.DefaultLimiter.
func WithReconnectSupervisor(s *reconnect.Supervisor) Option {
	return func(c *Client) { c.supervisor = s }
}

// WithClock overrides the clock used for the heartbeat interval and the
// close-handshake deadline. Tests use this to substitute a *clock.Mock for
// real sleeping.
func WithClock(face clock.Face) Option {
	return func(c *Client) { c.clock = face }
}
