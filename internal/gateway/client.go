package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voltwise-io/mattergate/internal/lib/logger/sl"
)

// Client is a single logical session to the device-mesh gateway's WebSocket
// API. A Client serves exactly one connect/disconnect cycle; after a failure
// the supervisor discards it and builds a fresh one.
type Client struct {
	log              *slog.Logger
	url              string
	handshakeTimeout time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan serverMessage

	connected atomic.Bool
	done      chan struct{}

	closeMu sync.Mutex
	closed  bool
}

func NewClient(log *slog.Logger, url string, handshakeTimeout time.Duration) *Client {
	return &Client{
		log:              log,
		url:              url,
		handshakeTimeout: handshakeTimeout,
		pending:          make(map[string]chan serverMessage),
	}
}

// Connect establishes the transport and protocol session. On failure every
// partially acquired resource is released before the error is returned, so
// the caller never observes a half-open session.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return &ConnectionError{URL: c.url, Err: err}
	}
	c.conn = conn
	c.done = make(chan struct{})

	// The gateway greets with a server-info frame before accepting commands.
	var info serverInfo
	conn.SetReadDeadline(time.Now().Add(c.handshakeTimeout))
	if err := conn.ReadJSON(&info); err != nil {
		conn.Close()
		c.conn = nil
		return &ConnectionError{URL: c.url, Err: fmt.Errorf("reading server info: %w", err)}
	}
	conn.SetReadDeadline(time.Time{})

	c.connected.Store(true)
	go c.readLoop()

	// Subscribing makes the gateway materialize node state and start pushing
	// updates; it also proves the session is usable end to end.
	if _, err := c.call(ctx, "start_listening"); err != nil {
		c.Disconnect()
		return &ConnectionError{URL: c.url, Err: fmt.Errorf("start listening: %w", err)}
	}

	c.log.Info("connected to gateway",
		slog.String("url", c.url),
		slog.String("sdk_version", info.SDKVersion),
		slog.Int("schema_version", info.SchemaVersion),
	)

	return nil
}

// IsConnected is a non-blocking liveness check. The read loop flips it to
// false when the gateway terminates the session unsolicited.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Disconnect closes the session and releases all resources. It is
// idempotent and safe to call from any state, including after a failed
// Connect.
func (c *Client) Disconnect() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.connected.Store(false)

	if c.conn != nil {
		deadline := time.Now().Add(time.Second)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		c.conn.Close()
	}

	c.log.Debug("gateway session closed")
}

// readLoop routes command results to their waiters and detects unsolicited
// session termination. It runs until the connection is closed.
func (c *Client) readLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.done)
	}()

	for {
		var msg serverMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("gateway session terminated", sl.Err(err))
			}
			return
		}

		if msg.MessageID == "" {
			// Unsolicited event push; the exporter polls on demand.
			c.log.Debug("gateway event", slog.String("event", msg.Event))
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[msg.MessageID]
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// call issues one command and waits for its result, the session ending, or
// ctx cancellation.
func (c *Client) call(ctx context.Context, command string) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan serverMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	msg := commandMessage{MessageID: id, Command: command}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", command, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errors.New("session closed while awaiting " + command)
	case resp := <-ch:
		if resp.ErrorCode != nil {
			return nil, fmt.Errorf("%s failed: gateway error %d: %s", command, *resp.ErrorCode, resp.Details)
		}
		return resp.Result, nil
	}
}

func (c *Client) getNodes(ctx context.Context) ([]nodeState, error) {
	raw, err := c.call(ctx, "get_nodes")
	if err != nil {
		return nil, err
	}
	var nodes []nodeState
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	return nodes, nil
}
