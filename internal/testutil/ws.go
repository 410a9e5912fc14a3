package testutil

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/vrsync/internal/config"
	"github.com/cory-johannsen/vrsync/internal/protocol"
	"github.com/cory-johannsen/vrsync/internal/relay"
)

// RelayConfig returns a relay configuration bound to a random local port.
func RelayConfig() config.RelayConfig {
	return config.RelayConfig{
		Host:         "127.0.0.1",
		Port:         0,
		Path:         "/ws",
		MaxSeats:     8,
		ReadLimit:    1 << 20,
		WriteTimeout: 2 * time.Second,
		PongWait:     10 * time.Second,
		PingInterval: 2 * time.Second,
		SendBuffer:   256,
	}
}

// StartRelay runs a relay server for the duration of the test and returns
// its WebSocket URL.
//
// Postcondition: The relay is listening, and is stopped by test cleanup.
func StartRelay(t *testing.T, cfg config.RelayConfig) (*relay.Server, string) {
	t.Helper()
	srv := relay.NewServer(cfg, nil, zaptest.NewLogger(t))
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			t.Errorf("relay stopped: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" || !srv.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("relay did not start in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv, "ws://" + srv.Addr() + cfg.Path
}

// WSClient is a raw protocol participant for integration testing.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials url and returns a test client.
//
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("ws client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send encodes and writes msg.
func (c *WSClient) Send(msg protocol.Message) {
	c.t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", msg.Action, err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("sending %s: %v", msg.Action, err)
	}
}

// Join registers with role and returns the assigned seat.
func (c *WSClient) Join(role protocol.Role) int {
	c.t.Helper()
	c.Send(protocol.Regist(role))
	return c.Expect(protocol.ActionAccept, 2*time.Second).SeatIndex
}

// Next reads the next decoded message.
//
// Postcondition: Returns a message, or fails on timeout or decode error.
func (c *WSClient) Next(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading message: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		c.t.Fatalf("decoding %q: %v", data, err)
	}
	return msg
}

// Expect reads until a message matching action arrives, discarding others.
func (c *WSClient) Expect(action protocol.Action, timeout time.Duration) protocol.Message {
	c.t.Helper()
	return c.ExpectFunc(func(m protocol.Message) bool { return m.Action == action }, timeout)
}

// ExpectFunc reads until match accepts a message, discarding others.
func (c *WSClient) ExpectFunc(match func(protocol.Message) bool, timeout time.Duration) protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatal("expected message did not arrive")
		}
		if msg := c.Next(remaining); match(msg) {
			return msg
		}
	}
}

// Close closes the connection with a normal closure.
func (c *WSClient) Close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}
