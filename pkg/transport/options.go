package transport

import (
	"time"

	"golang.org/x/exp/slog"
)

// Block, used with WithTimeout, makes Send/Receive/Connect wait indefinitely
// instead of returning once a bounded timeout elapses.
const Block time.Duration = -1

// Option configures a Client at construction time.
type Option func(*Client)

// WithTLS wraps the connection in TLS once Connect dials it. SNI and
// certificate verification use the client's hostname unless overridden.
func WithTLS(enabled bool) Option {
	return func(c *Client) { c.useTLS = enabled }
}

// WithUDP dials a UDP socket instead of TCP. Combining WithUDP with WithTLS
// is rejected by Connect with ErrDTLSUnsupported: this package has no DTLS
// implementation.
func WithUDP(enabled bool) Option {
	return func(c *Client) { c.useUDP = enabled }
}

// WithVerifyCertificates controls whether the TLS handshake verifies the
// peer's certificate chain and hostname. Disabling it is for talking to
// endpoints with self-signed or otherwise unverifiable certificates and
// should not be used against untrusted networks.
func WithVerifyCertificates(verify bool) Option {
	return func(c *Client) { c.verifyCerts = verify }
}

// WithTimeout bounds how long Connect, Send, and Receive wait for progress.
// Pass Block to wait indefinitely, or 0 to poll without blocking at all.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout.Store(int64(d)) }
}

// WithLogger overrides the *slog.Logger used for connection lifecycle
// events. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
