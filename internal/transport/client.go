// Package transport provides the WebSocket client a session uses to reach the relay.
// Delivery is surfaced as an ordered stream of events consumed by a single owner.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotOpen is returned by Send before the connection opens or after it closes.
	ErrNotOpen = errors.New("transport not open")
	// ErrSendBufferFull is returned by Send when the outbound queue is saturated.
	ErrSendBufferFull = errors.New("transport send buffer full")
	// ErrAlreadyStarted is returned by a second Connect.
	ErrAlreadyStarted = errors.New("transport already started")
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("transport closed")
)

// EventKind classifies an Event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one transport occurrence. Data is set for EventMessage; Err for
// EventError and, when the close was not requested locally, EventClose.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Options configures a Client.
type Options struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	SendBuffer   int
	EventBuffer  int
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	return o
}

// Client is a WebSocket connection to the relay. Connect, Send and Close are
// safe for concurrent use; Events must be drained by one consumer.
type Client struct {
	opts   Options
	logger *zap.Logger
	dialer *websocket.Dialer

	events chan Event
	send   chan []byte
	done   chan struct{}

	mu         sync.Mutex
	started    bool
	open       bool
	closed     bool
	cancelDial context.CancelFunc

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a client for opts.URL. Nothing is dialed until Connect.
//
// Precondition: opts.URL must be a ws:// or wss:// URL; logger must be non-nil.
func NewClient(opts Options, logger *zap.Logger) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:   opts,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.DialTimeout},
		events: make(chan Event, opts.EventBuffer),
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// Connect starts dialing in the background. The outcome arrives on Events as
// EventOpen, or EventError followed by EventClose.
//
// Postcondition: Returns an error only if the client was already started or closed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	c.cancelDial = cancel
	c.wg.Add(1)
	go c.dial(dialCtx, cancel)
	return nil
}

// Events is the ordered event stream. It is closed after Close returns.
func (c *Client) Events() <-chan Event { return c.events }

// IsOpen reports whether frames can currently be sent.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send queues one text frame.
//
// Postcondition: Returns ErrNotOpen when the connection is not open and
// ErrSendBufferFull when the queue is saturated; the frame is dropped in both cases.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrNotOpen
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the connection down and waits for the background goroutines.
// Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.open = false
		cancel := c.cancelDial
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		close(c.done)
		c.wg.Wait()
		close(c.events)
	})
	return nil
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc) {
	defer c.wg.Done()
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.logger.Warn("dialing relay", zap.String("url", c.opts.URL), zap.Error(err))
		c.emit(Event{Kind: EventError, Err: err})
		c.emit(Event{Kind: EventClose, Err: err})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.open = true
	c.mu.Unlock()

	c.logger.Info("connected to relay", zap.String("url", c.opts.URL))
	c.emit(Event{Kind: EventOpen})

	lost := make(chan struct{})
	c.wg.Add(2)
	go c.readLoop(conn, lost)
	go c.writeLoop(conn, lost)
}

func (c *Client) readLoop(conn *websocket.Conn, lost chan<- struct{}) {
	defer c.wg.Done()
	defer close(lost)

	conn.SetReadLimit(c.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.open = false
			local := c.closed
			c.mu.Unlock()
			if local {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("relay connection lost", zap.Error(err))
				c.emit(Event{Kind: EventError, Err: err})
			}
			c.emit(Event{Kind: EventClose, Err: err})
			return
		}
		c.emit(Event{Kind: EventMessage, Data: data})
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, lost <-chan struct{}) {
	defer c.wg.Done()
	defer conn.Close()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("writing frame", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("writing ping", zap.Error(err))
				return
			}
		case <-lost:
			return
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
			return
		}
	}
}
