// Package transport is a client-side byte-stream transport over TCP or UDP,
// optionally wrapped in TLS. It is the layer httpclient and websocket build
// on: everything above this package talks in bytes and deadlines, never in
// raw sockets.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"
)

// ErrDTLSUnsupported is returned by Connect when both WithUDP and WithTLS
// are set. Go's standard library has no DTLS implementation, and this
// package does not ship one.
var ErrDTLSUnsupported = errors.New("transport: TLS over UDP (DTLS) is not supported")

// Client is a single client-side connection to one remote endpoint. It is
// safe for concurrent use: Send and Receive may be called from different
// goroutines than the one driving Connect/Close, mirroring a socket's own
// concurrency contract.
type Client struct {
	mu       sync.Mutex
	hostname string
	port     uint16
	useTLS   bool
	useUDP   bool

	verifyCerts bool
	timeout     atomic.Int64 // time.Duration, nanoseconds; Block (-1) means no deadline

	connected atomic.Bool
	conn      net.Conn
	reader    *bufio.Reader

	logger *slog.Logger
}

// New constructs a Client for hostname:port. It does not dial; call Connect.
func New(hostname string, port uint16, opts ...Option) *Client {
	c := &Client{
		hostname:    hostname,
		port:        port,
		verifyCerts: true,
		logger:      slog.Default(),
	}
	c.timeout.Store(int64(Block))

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hostname returns the configured remote hostname.
func (c *Client) Hostname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostname
}

// SetHostname changes the remote hostname used by the next Connect. It has
// no effect on an already-established connection.
func (c *Client) SetHostname(hostname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostname = hostname
}

// Port returns the configured remote port.
func (c *Client) Port() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// SetPort changes the remote port used by the next Connect.
func (c *Client) SetPort(port uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port = port
}

// SetTimeout changes the deadline applied to subsequent Connect, Send, and
// Receive calls. Pass Block to wait indefinitely.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

// SetVerifyCertificates toggles TLS certificate verification for the next
// Connect.
func (c *Client) SetVerifyCertificates(verify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifyCerts = verify
}

// Connected reports whether the connection is currently established. It
// flips to false the moment a read or write observes the peer has gone
// away; it does not itself probe the network.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) timeoutDuration() time.Duration {
	return time.Duration(c.timeout.Load())
}

// deadline returns the time.Time a blocking call should give up at, and
// whether one applies at all.
func (c *Client) deadline() (time.Time, bool) {
	d := c.timeoutDuration()
	if d == Block {
		return time.Time{}, false
	}
	if d <= 0 {
		// A non-positive, non-Block timeout means "don't wait": use a
		// deadline that has already passed so the next I/O call returns
		// immediately with whatever is already available.
		return time.Now(), true
	}
	return time.Now().Add(d), true
}

// Connect dials the remote endpoint. Calling Connect while already
// connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	c.mu.Lock()
	hostname, port, useTLS, useUDP, verifyCerts := c.hostname, c.port, c.useTLS, c.useUDP, c.verifyCerts
	c.mu.Unlock()

	if hostname == "" {
		return newError("connect", errors.New("empty hostname"))
	}
	if useUDP && useTLS {
		return newError("connect", ErrDTLSUnsupported)
	}

	network := "tcp"
	if useUDP {
		network = "udp"
	}

	addr := net.JoinHostPort(hostname, fmt.Sprint(port))

	dialCtx := ctx
	if d := c.timeoutDuration(); d != Block {
		var cancel context.CancelFunc
		if d <= 0 {
			d = time.Nanosecond
		}
		dialCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	c.logger.Debug("dialing", "network", network, "addr", addr)

	conn, err := (&net.Dialer{}).DialContext(dialCtx, network, addr)
	if err != nil {
		return newError("connect", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	if useTLS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         hostname,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !verifyCerts,
		})
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			return newError("tls handshake", err)
		}
		conn = tlsConn
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.mu.Unlock()

	c.connected.Store(true)
	c.logger.Info("connected", "addr", addr, "tls", useTLS)
	return nil
}

// Send writes data to the connection, blocking (subject to the configured
// timeout) until it is accepted by the socket. A timeout with no bytes
// written is reported as (0, nil): it is not a connection error.
func (c *Client) Send(data []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.Connected() {
		return 0, newError("send", errors.New("not connected"))
	}

	if dl, ok := c.deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	n, err := conn.Write(data)
	if err == nil {
		return n, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}

	c.disconnect()
	return n, newError("send", err)
}

// Receive reads up to max bytes. Passing max == 0 performs a liveness
// probe: it peeks at the connection without consuming data, returning (nil,
// nil) if the peer is merely silent and clearing Connected if the peer has
// closed the connection.
//
// A read that times out without producing data returns (nil, nil), the
// same as the zero-byte probe: callers distinguish "no data yet" from
// "connection closed" via Connected, not via the error.
func (c *Client) Receive(max int) ([]byte, error) {
	if max < 0 {
		return nil, newError("receive", errors.New("negative max"))
	}

	c.mu.Lock()
	conn, reader := c.conn, c.reader
	c.mu.Unlock()

	if conn == nil || !c.Connected() {
		return nil, newError("receive", errors.New("not connected"))
	}

	if dl, ok := c.deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	if max == 0 {
		_, err := reader.Peek(1)
		switch {
		case err == nil:
			return nil, nil
		case errors.Is(err, io.EOF):
			c.disconnect()
			return nil, nil
		case isTimeout(err):
			return nil, nil
		default:
			c.disconnect()
			return nil, newError("receive", err)
		}
	}

	buf := make([]byte, max)
	n, err := reader.Read(buf)
	if n > 0 {
		if errors.Is(err, io.EOF) {
			c.disconnect()
		}
		return buf[:n], nil
	}

	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, io.EOF):
		c.disconnect()
		return nil, nil
	case isTimeout(err):
		return nil, nil
	default:
		c.disconnect()
		return nil, newError("receive", err)
	}
}

// Poll reports whether the connection is ready for the requested
// operations within the configured timeout. It never consumes data: a
// readable byte observed by Poll is still there for the next Receive.
//
// Write readiness has no portable non-blocking probe in the standard
// library's net package, so a writable connection is reported ready
// whenever it is still connected; only read readiness is actually tested.
func (c *Client) Poll(wantRead, wantWrite bool) bool {
	if !wantRead && !wantWrite {
		return false
	}
	if !c.Connected() {
		return false
	}

	ready := true
	if wantRead {
		ready = ready && c.pollReadable()
	}
	if wantWrite {
		ready = ready && c.Connected()
	}
	return ready
}

func (c *Client) pollReadable() bool {
	c.mu.Lock()
	conn, reader := c.conn, c.reader
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	if dl, ok := c.deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	_, err := reader.Peek(1)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF):
		c.disconnect()
		return false
	default:
		return false
	}
}

// Close shuts the connection down. For TCP it half-closes the write side
// and drains any remaining inbound bytes before closing, so the peer sees
// a clean shutdown rather than a reset; UDP has no such handshake and is
// closed immediately.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	var tcpConn *net.TCPConn
	switch v := conn.(type) {
	case *net.TCPConn:
		tcpConn = v
	case *tls.Conn:
		// Send close_notify first; the half-close and drain below act on
		// the TCP connection underneath.
		_ = v.CloseWrite()
		tcpConn, _ = v.NetConn().(*net.TCPConn)
	}
	if tcpConn != nil {
		_ = tcpConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_ = tcpConn.CloseWrite()
		_, _ = io.Copy(io.Discard, tcpConn)
	}

	err := conn.Close()
	c.disconnect()
	if err != nil {
		return newError("close", err)
	}
	return nil
}

func (c *Client) disconnect() {
	c.connected.Store(false)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
