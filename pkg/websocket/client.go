package websocket

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"

	"github.com/quietpixel/sockclient/internal/reconnect"
	"github.com/quietpixel/sockclient/pkg/clock"
	"github.com/quietpixel/sockclient/pkg/httpclient"
	"github.com/quietpixel/sockclient/pkg/transport"
	"github.com/quietpixel/sockclient/pkg/uri"
)

const (
	maxMissedHeartbeats = 3
	heartbeatSentinel   = "--heartbeat--"
)

// heartbeatInterval and closeTimeout are package variables rather than
// constants so tests can shrink them instead of waiting out the real 30s
// heartbeat cadence and 2-minute close deadline.
var (
	heartbeatInterval = 30 * time.Second
	closeTimeout      = 2 * time.Minute
)

// Client is a WebSocket client: it performs the handshake over
// pkg/httpclient, then owns the resulting pkg/transport.Client directly
// for framed, masked read/write, running a heartbeat keep-alive and a
// close-handshake state machine, with optional automatic reconnect.
//
// The zero value is not usable; construct with New.
type Client struct {
	urlMu sync.Mutex
	url   string

	status           atomic.Int32 // Status
	reconnectEnabled atomic.Bool
	missedHeartbeats atomic.Int32

	callbackMu sync.Mutex
	onMessage  MessageCallback

	verifyCerts bool
	timeout     time.Duration
	logger      *slog.Logger
	supervisor  *reconnect.Supervisor
	clock       clock.Face

	writeMu    sync.Mutex
	writeQueue []Frame

	transport *transport.Client

	closeMu         sync.Mutex
	clientSentClose bool
	serverSentClose bool
	closeDeadline   time.Time
	closeMessage    *Message

	// fragment, fragmentOpcode, and carry are touched only from the main
	// loop goroutine of the currently running session; they carry no
	// lock.
	fragment       []byte
	fragmentOpcode Opcode
	carry          []byte

	// activeSession points at the session most recently started by
	// runSession. It is empty before the first connection; after a
	// session ends it keeps pointing at that finished session until the
	// next runSession replaces it. Send and Close, called from arbitrary
	// goroutines, load it to find the channel to signal.
	activeSession atomic.Value

	asyncMu      sync.Mutex
	asyncRunning bool
}

// New constructs a Client for url, which must have scheme ws or wss. It
// does not connect; call Start or StartAsync.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		verifyCerts: true,
		timeout:     transport.Block,
		logger:      slog.Default(),
		clock:       clock.System{},
	}
	c.status.Store(int32(Closed))
	c.reconnectEnabled.Store(true)
	c.supervisor = reconnect.New(nil)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the client's current lifecycle state.
func (c *Client) Status() Status { return Status(c.status.Load()) }

// URL returns the URL the client is currently connected or connecting to.
func (c *Client) URL() string {
	c.urlMu.Lock()
	defer c.urlMu.Unlock()
	return c.url
}

// SetURL changes the URL used by the next connection attempt. It has no
// effect on an already-open connection.
func (c *Client) SetURL(url string) {
	c.urlMu.Lock()
	defer c.urlMu.Unlock()
	c.url = url
}

// AutomaticReconnect reports whether the client will re-dial after a
// disconnect.
func (c *Client) AutomaticReconnect() bool { return c.reconnectEnabled.Load() }

// SetAutomaticReconnect toggles whether Start re-enters the handshake
// after a disconnect. Enabled by default.
func (c *Client) SetAutomaticReconnect(enabled bool) { c.reconnectEnabled.Store(enabled) }

// SetOnMessage installs the callback invoked for every Message the client
// produces. It may be changed at any time, including from within the
// callback itself, but not concurrently with a call that is itself
// changing it.
func (c *Client) SetOnMessage(cb MessageCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onMessage = cb
}

// Send frames text as a single final TEXT frame and enqueues it for
// delivery. It returns false if the connection is not open or closing.
func (c *Client) Send(text string) bool {
	return c.enqueue(TextFrame, []byte(text))
}

// SendBinary frames data as a single final BINARY frame and enqueues it
// for delivery. It returns false if the connection is not open or
// closing.
func (c *Client) SendBinary(data []byte) bool {
	return c.enqueue(BinaryFrame, data)
}

func (c *Client) enqueue(opcode Opcode, payload []byte) bool {
	s := c.Status()
	if s != Open && s != Closing {
		return false
	}
	frame := NewFrame(opcode, payload, true)
	c.writeMu.Lock()
	c.writeQueue = append(c.writeQueue, frame)
	c.writeMu.Unlock()
	c.signalActivity()
	return true
}

// Close starts the close handshake: it enqueues a CLOSE frame carrying
// code and reason and transitions to Closing. It is idempotent and safe
// to call from any goroutine, including from within a MessageCallback.
func (c *Client) Close(code StatusCode, reason string) {
	s := c.Status()
	if s == Closing || s == Closed {
		return
	}
	c.status.Store(int32(Closing))

	data := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(data[:2], uint16(code))
	copy(data[2:], reason)

	c.enqueue(CloseFrame, data)
}

// Start performs the handshake and runs the client's read/write loop
// until the connection closes, reconnecting for as long as
// AutomaticReconnect is true. It blocks until the connection is
// permanently closed (reconnect disabled, a handshake failure, or ctx is
// canceled).
func (c *Client) Start(ctx context.Context) error {
	for {
		if err := c.connect(ctx); err != nil {
			return err
		}

		c.runSession(ctx)

		if !c.AutomaticReconnect() {
			return nil
		}
		if err := c.supervisor.Wait(ctx); err != nil {
			return err
		}
	}
}

// StartAsync runs Start on a dedicated goroutine. Calling it while already
// running is a no-op.
func (c *Client) StartAsync(ctx context.Context) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	if c.asyncRunning {
		return
	}
	c.asyncRunning = true

	go func() {
		defer func() {
			c.asyncMu.Lock()
			c.asyncRunning = false
			c.asyncMu.Unlock()
		}()
		if err := c.Start(ctx); err != nil {
			c.logger.Error("websocket client stopped", err)
		}
	}()
}

// connect performs the HTTP upgrade handshake and, on success, takes
// ownership of the resulting transport connection.
func (c *Client) connect(ctx context.Context) error {
	if s := c.Status(); s == Connecting || s == Open {
		return newError("connect", errors.New("already connecting or open"))
	}

	url := c.URL()
	if url == "" {
		return newError("connect", errors.New("url not set"))
	}

	c.status.Store(int32(Connecting))

	u := uri.Parse(url)
	if !strings.EqualFold(u.Scheme, "ws") && !strings.EqualFold(u.Scheme, "wss") {
		c.status.Store(int32(Closed))
		return newError("connect", fmt.Errorf("invalid scheme %q", u.Scheme))
	}

	httpScheme := "http"
	if strings.EqualFold(u.Scheme, "wss") {
		httpScheme = "https"
	}

	key, err := generateKey()
	if err != nil {
		c.status.Store(int32(Closed))
		return newError("connect", err)
	}

	header := httpclient.Header{}
	header.Set("Connection", "Upgrade")
	header.Set("Upgrade", "websocket")
	header.Set("Sec-WebSocket-Version", "13")
	header.Set("Sec-WebSocket-Key", key)

	hc := httpclient.New(
		httpclient.WithTimeout(c.timeout),
		httpclient.WithVerifyCertificates(c.verifyCerts),
		httpclient.WithLogger(c.logger),
	)

	resp, err := hc.Do(ctx, &httpclient.Request{
		Method:    httpclient.MethodGet,
		URL:       rewriteScheme(url, httpScheme),
		Header:    header,
		KeepAlive: true,
	})
	if err != nil {
		c.status.Store(int32(Closed))
		return newError("connect", err)
	}

	if err := c.verifyHandshake(resp, key); err != nil {
		hc.Close()
		c.status.Store(int32(Closed))
		return newError("connect", err)
	}

	c.transport = hc.Hijack()

	c.writeMu.Lock()
	c.writeQueue = nil
	c.writeMu.Unlock()

	c.closeMu.Lock()
	c.clientSentClose = false
	c.serverSentClose = false
	c.closeDeadline = time.Time{}
	c.closeMessage = nil
	c.closeMu.Unlock()

	c.fragment = nil
	c.fragmentOpcode = 0
	c.carry = nil
	c.missedHeartbeats.Store(0)

	c.status.Store(int32(Open))
	c.logger.Info("websocket connected", "url", url)
	c.deliver(Message{Opcode: OpenFrame, Payload: []byte(fmt.Sprintf("connected to %s", url))})

	// Frames the server sent right behind the 101 response may have been
	// read together with it and parsed as the response body.
	if len(resp.Body) > 0 {
		c.processInbound(resp.Body)
	}
	return nil
}

func (c *Client) verifyHandshake(resp *httpclient.Response, key string) error {
	if resp.StatusCode != 101 {
		return fmt.Errorf("unexpected handshake status %d", resp.StatusCode)
	}
	if v, ok := resp.Header.Get("Upgrade"); !ok || !strings.EqualFold(v, "websocket") {
		return errors.New("missing or invalid Upgrade header")
	}
	if v, ok := resp.Header.Get("Connection"); !ok || !strings.EqualFold(v, "upgrade") {
		return errors.New("missing or invalid Connection header")
	}
	if v, ok := resp.Header.Get("Sec-WebSocket-Accept"); !ok || v != acceptKey(key) {
		return errors.New("Sec-WebSocket-Accept mismatch")
	}
	return nil
}

// rewriteScheme replaces original's leading "ws"/"wss" scheme with
// httpScheme, leaving everything from the first ":" onward untouched.
func rewriteScheme(original, httpScheme string) string {
	if i := strings.IndexByte(original, ':'); i != -1 {
		return httpScheme + original[i:]
	}
	return httpScheme + "://" + original
}

// session holds the communication channels for one open connection's
// three cooperating goroutines (reader, heartbeat, main loop). It is
// created fresh per connection so a reconnect starts with clean signals.
type session struct {
	activity        chan struct{}
	readResume      chan struct{}
	heartbeatWake   chan struct{}
	forceDisconnect chan Message
	done            chan struct{}
}

func newSession() *session {
	return &session{
		activity:        make(chan struct{}, 1),
		readResume:      make(chan struct{}, 1),
		heartbeatWake:   make(chan struct{}, 1),
		forceDisconnect: make(chan Message, 1),
		done:            make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Client) signalActivity() {
	v := c.activeSession.Load()
	if v == nil {
		return
	}
	if s, ok := v.(*session); ok {
		signal(s.activity)
	}
}

// runSession spawns the reader and heartbeat goroutines, runs the main
// loop until the connection disconnects, and waits for both goroutines to
// exit before returning.
func (c *Client) runSession(ctx context.Context) {
	s := newSession()
	c.activeSession.Store(s)
	// Flush anything enqueued while connecting on the first pass.
	signal(s.activity)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.readerLoop(s) }()
	go func() { defer wg.Done(); c.heartbeatLoop(s) }()

	c.mainLoop(ctx, s)

	close(s.done)
	wg.Wait()
}

// readerLoop blocks in Transport.Poll until data is available (or the
// connection drops), then signals the main loop and waits for it to
// finish draining before polling again. It never calls Send/Receive
// itself.
func (c *Client) readerLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if c.Status() == Closed {
			return
		}

		if !c.transport.Poll(true, false) && c.transport.Connected() {
			continue
		}

		signal(s.activity)

		select {
		case <-s.readResume:
		case <-s.done:
			return
		}
	}
}

// heartbeatLoop enqueues a PING every interval and tracks missed PONGs,
// forcing a disconnect via s.forceDisconnect after three consecutive
// misses. It never touches the transport directly.
func (c *Client) heartbeatLoop(s *session) {
	for c.Status() == Open {
		if !c.enqueue(PingFrame, []byte(heartbeatSentinel)) {
			return
		}
		c.missedHeartbeats.Add(1)

		select {
		case <-s.heartbeatWake:
		case <-s.done:
			return
		}

		if c.Status() != Open {
			return
		}

		select {
		case <-c.clock.After(heartbeatInterval):
		case <-s.done:
			return
		}

		if c.Status() != Open {
			return
		}

		if c.missedHeartbeats.Load() >= maxMissedHeartbeats {
			select {
			case s.forceDisconnect <- Message{Opcode: CloseFrame, Payload: []byte("Too many missed heartbeats.")}:
			case <-s.done:
			}
			return
		}
	}
}

// mainLoop is the sole goroutine that calls Transport.Send/Receive for
// this connection. It wakes on activity signaled by the reader or
// heartbeat, drains inbound frames, checks the close-handshake deadline,
// and flushes the outbound write queue, in that order, every iteration.
func (c *Client) mainLoop(ctx context.Context, s *session) {
	var closeTimer <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			c.disconnect(Message{Opcode: CloseFrame, Payload: []byte("context canceled")})
			return
		case msg := <-s.forceDisconnect:
			c.disconnect(msg)
			return
		case <-s.activity:
		case <-closeTimer:
		}

		if c.Status() == Closed {
			return
		}

		c.drainInbound()

		if msg, shouldDisconnect := c.checkCloseConditions(); shouldDisconnect {
			c.disconnect(msg)
			return
		}

		c.flushWriteQueue(s)

		// Re-check immediately: flushWriteQueue may have just sent our
		// own CLOSE reply to a CLOSE the drain above received in this
		// same iteration, completing the mutual close right now rather
		// than leaving it to the next activity signal or the 2-minute
		// deadline.
		if msg, shouldDisconnect := c.checkCloseConditions(); shouldDisconnect {
			c.disconnect(msg)
			return
		}

		closeTimer = c.armCloseTimer()

		signal(s.readResume)
	}
}

func (c *Client) armCloseTimer() <-chan time.Time {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.clientSentClose || c.serverSentClose || c.closeDeadline.IsZero() {
		return nil
	}
	remaining := c.closeDeadline.Sub(c.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return c.clock.After(remaining)
}

// checkCloseConditions reports whether the connection should disconnect
// now, per the close state machine table in the WebSocket component
// design: both sides have sent CLOSE, the client-initiated close timed
// out waiting for the server's reply, or the transport has silently gone
// away.
func (c *Client) checkCloseConditions() (Message, bool) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	switch {
	case c.clientSentClose && c.serverSentClose:
		return c.closeMessageLocked("mutual disconnection"), true
	case c.clientSentClose && !c.closeDeadline.IsZero() && !c.clock.Now().Before(c.closeDeadline):
		return Message{Opcode: CloseFrame, Payload: []byte("connection closed because server took too long to send close frame")}, true
	case !c.transport.Connected():
		return c.closeMessageLocked("no longer connected to the socket"), true
	default:
		return Message{}, false
	}
}

// closeMessageLocked must be called with closeMu held.
func (c *Client) closeMessageLocked(fallbackReason string) Message {
	if c.closeMessage != nil {
		return *c.closeMessage
	}
	return Message{Opcode: CloseFrame, Payload: []byte(fallbackReason)}
}

// drainInbound performs one non-blocking Receive and processes whatever
// frames it contains. The main loop is woken both by the reader (data is
// pending) and by enqueue (nothing may be pending), so the Receive runs
// with a zero timeout: a blocking read here could stall the main loop
// indefinitely on a timeout of transport.Block, starving the write queue
// and close-deadline checks. It does not loop until the socket is empty;
// any additional pending data wakes the main loop again via the reader's
// next poll.
func (c *Client) drainInbound() {
	c.transport.SetTimeout(0)
	chunk, err := c.transport.Receive(4096)
	c.transport.SetTimeout(c.timeout)
	if err != nil {
		c.logger.Error("websocket receive failed", err)
		return
	}
	if len(chunk) > 0 {
		c.processInbound(chunk)
	}
}

// processInbound consumes as many complete frames as data contains,
// topping data off from the transport when a frame's header or payload
// hasn't fully arrived yet, and stashes a trailing single byte as carry
// for the next call.
func (c *Client) processInbound(data []byte) {
	if len(c.carry) > 0 {
		data = append(c.carry, data...)
		c.carry = nil
	}

	for len(data) > 0 {
		if len(data) < 2 {
			c.carry = append([]byte(nil), data...)
			return
		}

		frame := Frame(data)
		hl := frame.headerLen()

		for len(data) < hl {
			more, err := c.transport.Receive(hl - len(data))
			if err != nil {
				c.logger.Error("websocket receive failed", err)
				return
			}
			if len(more) == 0 {
				if !c.transport.Connected() {
					return
				}
				continue
			}
			data = append(data, more...)
			frame = Frame(data)
		}

		payloadLen := frame.PayloadSize()
		total := hl + payloadLen

		for len(data) < total {
			more, err := c.transport.Receive(total - len(data))
			if err != nil {
				c.logger.Error("websocket receive failed", err)
				return
			}
			if len(more) == 0 {
				if !c.transport.Connected() {
					return
				}
				continue
			}
			data = append(data, more...)
			frame = Frame(data)
		}

		raw := data[hl:total]
		payload := raw
		if frame.Masked() {
			key := frame.MaskKey()
			payload = make([]byte, len(raw))
			for i, b := range raw {
				payload[i] = b ^ key[i%4]
			}
		}

		c.dispatch(frame.Opcode(), frame.Fin(), payload)

		remainder := data[total:]
		if len(remainder) == 1 {
			c.carry = append([]byte(nil), remainder...)
			return
		}
		data = remainder
	}
}

// dispatch handles one fully-received frame according to its opcode, per
// the WebSocket component design's inbound-processing rules.
func (c *Client) dispatch(opcode Opcode, fin bool, payload []byte) {
	switch opcode {
	case TextFrame, BinaryFrame:
		c.fragmentOpcode = opcode
		c.fragment = append([]byte{}, payload...)
		if fin {
			c.deliverReassembled()
		}
	case ContinuationFrame:
		c.fragment = append(c.fragment, payload...)
		if fin {
			c.deliverReassembled()
		}
	case PingFrame:
		c.enqueue(PongFrame, payload)
		c.deliver(Message{Opcode: PingFrame, Payload: payload})
	case PongFrame:
		if bytes.Equal(payload, []byte(heartbeatSentinel)) {
			c.missedHeartbeats.Store(0)
		} else {
			c.deliver(Message{Opcode: PongFrame, Payload: payload})
		}
	case CloseFrame:
		c.receiveClose(payload)
	default:
		c.deliver(Message{Opcode: BadFrame, Payload: []byte(fmt.Sprintf("received unknown opcode: 0x%x", opcode))})
		c.Close(StatusProtocolError, "unknown opcode")
	}
}

func (c *Client) deliverReassembled() {
	msg := Message{Opcode: c.fragmentOpcode, Payload: c.fragment}
	c.fragment = nil
	c.deliver(msg)
}

func (c *Client) receiveClose(payload []byte) {
	c.closeMu.Lock()
	c.serverSentClose = true
	if len(payload) >= 2 {
		c.closeMessage = &Message{
			Opcode:  CloseFrame,
			Code:    StatusCode(binary.BigEndian.Uint16(payload[:2])),
			Payload: payload[2:],
		}
	}
	c.closeMu.Unlock()

	c.Close(StatusNormalClosure, "")
}

// flushWriteQueue sends every frame currently queued, in FIFO order. A
// CLOSE frame drains the rest of the queue behind it: once CLOSE is sent,
// nothing queued after it goes out.
func (c *Client) flushWriteQueue(s *session) {
	c.writeMu.Lock()
	queue := c.writeQueue
	c.writeQueue = nil
	c.writeMu.Unlock()

	for _, frame := range queue {
		if err := c.writeFrame(frame); err != nil {
			c.logger.Error("websocket send failed", err)
			return
		}

		switch frame.Opcode() {
		case CloseFrame:
			c.closeMu.Lock()
			c.clientSentClose = true
			c.closeDeadline = c.clock.Now().Add(closeTimeout)
			c.closeMu.Unlock()
			c.writeMu.Lock()
			c.writeQueue = nil
			c.writeMu.Unlock()
			return
		case PingFrame:
			signal(s.heartbeatWake)
		}
	}
}

func (c *Client) writeFrame(frame Frame) error {
	sent := 0
	for sent < len(frame) {
		n, err := c.transport.Send(frame[sent:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		sent += n
	}
	return nil
}

// disconnect tears the connection down: it closes the transport, clears
// per-connection buffers and close-handshake state, and delivers
// closeMsg to the callback -- or the stored server-sent CLOSE message, if
// one arrived, in its place.
func (c *Client) disconnect(closeMsg Message) {
	st := c.Status()
	if st != Open && st != Closing {
		return
	}
	c.status.Store(int32(Closed))

	if err := c.transport.Close(); err != nil {
		c.logger.Warn("error closing websocket transport", "error", err)
	}

	c.closeMu.Lock()
	c.clientSentClose = false
	c.serverSentClose = false
	c.closeDeadline = time.Time{}
	stored := c.closeMessage
	c.closeMessage = nil
	c.closeMu.Unlock()

	c.fragment = nil
	c.fragmentOpcode = 0
	c.carry = nil

	c.writeMu.Lock()
	c.writeQueue = nil
	c.writeMu.Unlock()

	msg := closeMsg
	if stored != nil {
		msg = *stored
	}
	c.logger.Info("websocket disconnected", "reason", string(msg.Payload))
	c.deliver(msg)
}

func (c *Client) deliver(msg Message) {
	c.callbackMu.Lock()
	cb := c.onMessage
	c.callbackMu.Unlock()
	if cb != nil {
		cb(msg)
	}
}
