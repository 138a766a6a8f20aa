// Package httpclient is an HTTP/1.1 request/response engine built
// directly on pkg/transport: no net/http underneath, so the connection
// reuse, dead-peer detection, and chunked decoding are all this package's
// own responsibility, the way a hand-rolled client over a raw socket has
// to be.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"github.com/quietpixel/sockclient/pkg/transport"
	"github.com/quietpixel/sockclient/pkg/uri"
)

// Client sends requests over a single reused transport.Client, keyed on
// the host:port of the most recent request. Do dials or redials as
// needed; it never owns more than one connection at a time.
type Client struct {
	mu sync.Mutex

	timeout     time.Duration
	verifyCerts bool
	logger      *slog.Logger

	transport   *transport.Client
	connectedTo string
}

// New constructs a Client with no open connection.
func New(opts ...Option) *Client {
	c := &Client{
		timeout:     transport.Block,
		verifyCerts: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hijack detaches the underlying transport.Client from c without closing
// it, for a caller that is about to take over the raw connection after a
// protocol upgrade (the WebSocket handshake is the only user of this). c
// reverts to having no open connection; a nil return means there was
// nothing to hijack.
func (c *Client) Hijack() *transport.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.transport
	c.transport = nil
	c.connectedTo = ""
	return t
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	c.connectedTo = ""
	return err
}

// Do sends req and returns its response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if !knownMethods[req.Method] {
		return nil, newError("request", fmt.Errorf("invalid method %q", req.Method))
	}

	u := uri.Parse(req.URL)
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if !strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https") {
		return nil, newError("request", fmt.Errorf("invalid scheme %q", u.Scheme))
	}
	useTLS := strings.EqualFold(u.Scheme, "https")

	var port uint16
	if u.Port != nil {
		port = *u.Port
	} else if useTLS {
		port = httpsPort
	} else {
		port = httpPort
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx, u.Host, port, useTLS); err != nil {
		return nil, err
	}

	line := c.buildRequestLine(req, u, port)

	sent := 0
	for sent < len(line) {
		n, err := c.transport.Send(line[sent:])
		if err != nil {
			c.forget()
			return nil, newError("send", err)
		}
		sent += n
	}

	resp, err := c.receiveResponse(req)
	if err != nil {
		c.forget()
		return nil, err
	}

	if !req.KeepAlive {
		c.transport.Close()
		c.forget()
	}

	return resp, nil
}

// ensureConnected reuses the current connection when it is still alive and
// pointed at host:port; otherwise it closes any stale connection and
// dials a fresh one.
func (c *Client) ensureConnected(ctx context.Context, host string, port uint16, useTLS bool) error {
	if c.transport != nil && c.transport.Connected() {
		// A quick liveness probe: the peer may have closed the
		// connection since our last request without us noticing. It
		// must not block on the client's configured timeout -- an
		// idle keep-alive connection with no data pending is the
		// expected, common case.
		c.transport.SetTimeout(0)
		_, _ = c.transport.Receive(0)
		c.transport.SetTimeout(c.timeout)
	}

	requested := fmt.Sprintf("%s:%d", host, port)
	if c.transport != nil && c.connectedTo == requested && c.transport.Connected() {
		return nil
	}

	if c.transport != nil {
		c.transport.Close()
	}

	c.transport = transport.New(host, port,
		transport.WithTLS(useTLS),
		transport.WithVerifyCertificates(c.verifyCerts),
		transport.WithTimeout(c.timeout),
		transport.WithLogger(c.logger),
	)

	if err := c.transport.Connect(ctx); err != nil {
		c.forget()
		return newError("connect", err)
	}
	c.connectedTo = requested
	return nil
}

func (c *Client) forget() {
	c.transport = nil
	c.connectedTo = ""
}

func (c *Client) buildRequestLine(req *Request, u uri.URI, port uint16) []byte {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if q := encodeQuery(req, u); q != "" {
		path += "?" + q
	}
	if u.Fragment != "" {
		path += "#" + u.Fragment
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, path)

	if port == httpPort || port == httpsPort {
		fmt.Fprintf(&b, "Host: %s\r\n", u.Host)
	} else {
		fmt.Fprintf(&b, "Host: %s:%d\r\n", u.Host, port)
	}

	for _, f := range req.Header {
		fmt.Fprintf(&b, "%s: %s\r\n", f.Key, f.Value)
	}

	if !req.KeepAlive {
		b.WriteString("Connection: close\r\n")
	}
	if _, ok := req.Header.Get("Content-Length"); !ok && len(req.Body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	}

	b.WriteString("\r\n")
	b.Write(req.Body)
	return b.Bytes()
}

// receiveResponse reads and parses the response headers, then drains the
// body according to Content-Length or chunked transfer encoding,
// delivering it to req.Callback if req.Stream is set.
func (c *Client) receiveResponse(req *Request) (*Response, error) {
	var buf bytes.Buffer
	headerEnd := -1

	for headerEnd < 0 {
		chunk, err := c.transport.Receive(4096)
		if err != nil {
			return nil, newError("receive", err)
		}
		if len(chunk) == 0 {
			if !c.transport.Connected() {
				return nil, newError("receive", fmt.Errorf("connection closed before headers were complete"))
			}
			continue
		}
		buf.Write(chunk)
		headerEnd = bytes.Index(buf.Bytes(), []byte("\r\n\r\n"))
	}

	resp, err := parseHead(buf.Bytes()[:headerEnd+2])
	if err != nil {
		return nil, err
	}
	bodySoFar := append([]byte(nil), buf.Bytes()[headerEnd+4:]...)

	chunked := false
	if te, ok := resp.Header.Get("Transfer-Encoding"); ok && strings.EqualFold(te, "chunked") {
		chunked = true
	}

	if chunked {
		body, err := c.receiveChunkedBody(bodySoFar)
		if err != nil {
			return nil, err
		}
		c.deliverBody(req, resp, body)
		return resp, nil
	}

	contentLength := 0
	if cl, ok := resp.Header.Get("Content-Length"); ok {
		contentLength, _ = strconv.Atoi(cl)
	}

	body, err := c.receiveFixedBody(req, bodySoFar, contentLength)
	if err != nil {
		return nil, err
	}
	if !req.Stream || req.Callback == nil {
		resp.Body = body
	}
	return resp, nil
}

func (c *Client) receiveFixedBody(req *Request, bodySoFar []byte, contentLength int) ([]byte, error) {
	received := len(bodySoFar)
	var body []byte

	deliver := func(b []byte) {
		if req.Stream && req.Callback != nil {
			if len(b) > 0 {
				req.Callback(b)
			}
			return
		}
		body = append(body, b...)
	}

	deliver(bodySoFar)

	for received < contentLength {
		want := contentLength - received
		if want > 4096 {
			want = 4096
		}
		chunk, err := c.transport.Receive(want)
		if err != nil {
			return nil, newError("receive", err)
		}
		if len(chunk) == 0 {
			if !c.transport.Connected() {
				return nil, newError("receive", fmt.Errorf("connection closed with %d of %d bytes of body received", received, contentLength))
			}
			continue
		}
		deliver(chunk)
		received += len(chunk)
	}

	return body, nil
}

func (c *Client) receiveChunkedBody(bodySoFar []byte) ([]byte, error) {
	raw := append([]byte(nil), bodySoFar...)
	for !bytes.Contains(raw, []byte("0\r\n\r\n")) {
		chunk, err := c.transport.Receive(4096)
		if err != nil {
			return nil, newError("receive", err)
		}
		if len(chunk) == 0 {
			if !c.transport.Connected() {
				return nil, newError("receive", fmt.Errorf("connection closed before the terminating chunk was received"))
			}
			continue
		}
		raw = append(raw, chunk...)
	}
	return decodeChunked(raw), nil
}

func (c *Client) deliverBody(req *Request, resp *Response, body []byte) {
	if req.Stream && req.Callback != nil {
		if len(body) > 0 {
			req.Callback(body)
		}
		return
	}
	resp.Body = body
}
