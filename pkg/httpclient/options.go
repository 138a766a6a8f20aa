package httpclient

import (
	"time"

	"golang.org/x/exp/slog"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithTimeout bounds how long Connect/Send/Receive on the underlying
// transport wait for progress. Pass transport.Block to wait indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithVerifyCertificates controls TLS certificate verification for https
// requests. Disabling it is for talking to endpoints with self-signed
// certificates.
func WithVerifyCertificates(verify bool) Option {
	return func(c *Client) { c.verifyCerts = verify }
}

// WithLogger overrides the *slog.Logger used for connection lifecycle
// events. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

const (
	httpPort  uint16 = 80
	httpsPort uint16 = 443
)
