// Package transport implements the reconnecting RPC channel spec §6
// describes in transport-agnostic terms: Client is the presenter/
// viewer side (one outbound connection, exponential-backoff
// reconnect), Server is the relay side (accept loop, one session per
// connected client, per-client send coalescing via internal/sendqueue).
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haefele/remoteviewer/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024 * 1024
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
	callTimeout    = 15 * time.Second
)

// Callbacks are the server->client pushes a Client dispatches. Any
// handler left nil is simply not called.
type Callbacks struct {
	CredentialsAssigned func(protocol.CredentialsAssigned)
	ConnectionStarted   func(protocol.ConnectionStarted)
	ConnectionChanged   func(protocol.ConnectionChanged)
	ConnectionStopped   func(protocol.ConnectionStopped)
	MessageReceived     func(protocol.MessageReceived)
}

// Client is the presenter/viewer side of the transport: a single
// reconnecting WebSocket connection to the relay, RPC calls correlated
// by request ID, and push dispatch to Callbacks.
type Client struct {
	url       string
	callbacks Callbacks

	connMu sync.RWMutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan protocol.RPCFrame

	sendChan chan []byte
	done     chan struct{}
	stopOnce sync.Once

	isRunning bool
	runningMu sync.RWMutex

	idCounter atomic.Uint64
}

// New creates a Client targeting url (e.g. "ws://relay.example/ws").
func New(url string, callbacks Callbacks) *Client {
	return &Client{
		url:       url,
		callbacks: callbacks,
		pending:   make(map[string]chan protocol.RPCFrame),
		sendChan:  make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

// Start begins the reconnect loop. Call once; returns immediately,
// running in the background until Stop.
func (c *Client) Start() {
	c.runningMu.Lock()
	if c.isRunning {
		c.runningMu.Unlock()
		return
	}
	c.isRunning = true
	c.runningMu.Unlock()

	go c.reconnectLoop()
}

// Stop closes the connection and stops reconnecting.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.runningMu.Lock()
		c.isRunning = false
		c.runningMu.Unlock()

		close(c.done)

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
}

func (c *Client) reconnectLoop() {
	backoff := initialBackoff

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.connect(); err != nil {
			slog.Warn("transport: connect failed", "error", err)

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			select {
			case <-c.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff

		pumpDone := make(chan struct{})
		go c.writePump(pumpDone)
		c.readPump()
		close(pumpDone)

		c.runningMu.RLock()
		running := c.isRunning
		c.runningMu.RUnlock()
		if !running {
			return
		}
	}
}

func (c *Client) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	slog.Info("transport: connected", "url", c.url)
	return nil
}

func (c *Client) readPump() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("transport: read error", "error", err)
			}
			return
		}

		frame, err := protocol.DecodeFrame(message)
		if err != nil {
			slog.Warn("transport: malformed frame", "error", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame protocol.RPCFrame) {
	if frame.ID != "" {
		c.pendingMu.Lock()
		ch, ok := c.pending[frame.ID]
		if ok {
			delete(c.pending, frame.ID)
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- frame
		}
		return
	}

	switch frame.Callback {
	case protocol.CallbackCredentialsAssigned:
		dispatchPush(frame, c.callbacks.CredentialsAssigned)
	case protocol.CallbackConnectionStarted:
		dispatchPush(frame, c.callbacks.ConnectionStarted)
	case protocol.CallbackConnectionChanged:
		dispatchPush(frame, c.callbacks.ConnectionChanged)
	case protocol.CallbackConnectionStopped:
		dispatchPush(frame, c.callbacks.ConnectionStopped)
	case protocol.CallbackMessageReceived:
		dispatchPush(frame, c.callbacks.MessageReceived)
	default:
		slog.Warn("transport: unknown push callback", "callback", frame.Callback)
	}
}

func dispatchPush[T any](frame protocol.RPCFrame, handler func(T)) {
	if handler == nil {
		return
	}
	var payload T
	if err := protocol.DecodeFramePayload(frame, &payload); err != nil {
		slog.Warn("transport: malformed push payload", "callback", frame.Callback, "error", err)
		return
	}
	handler(payload)
}

func (c *Client) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.done:
			return

		case message := <-c.sendChan:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("transport: write error", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

func (c *Client) nextID() string {
	return fmt.Sprintf("c%d", c.idCounter.Add(1))
}

// call sends a correlated request and blocks for its response or
// ctx/callTimeout, whichever comes first.
func (c *Client) call(ctx context.Context, method protocol.RPCMethod, req any, resp any) error {
	id := c.nextID()
	data, err := protocol.EncodeRequest(id, method, req)
	if err != nil {
		return err
	}

	ch := make(chan protocol.RPCFrame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	select {
	case c.sendChan <- data:
	case <-c.done:
		return fmt.Errorf("transport: client stopped")
	default:
		return fmt.Errorf("transport: send queue full")
	}

	timeout := time.NewTimer(callTimeout)
	defer timeout.Stop()

	select {
	case frame := <-ch:
		if frame.Error != "" {
			return fmt.Errorf("transport: %s", frame.Error)
		}
		if resp == nil {
			return nil
		}
		return protocol.DecodeFramePayload(frame, resp)
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return fmt.Errorf("transport: %s timed out", method)
	case <-c.done:
		return fmt.Errorf("transport: client stopped")
	}
}

// ConnectTo issues the ConnectTo RPC and returns the resulting
// connection_id, or a domain-level TryConnectError.
func (c *Client) ConnectTo(ctx context.Context, username, password string) (string, protocol.TryConnectError, error) {
	var resp protocol.ConnectToResponse
	if err := c.call(ctx, protocol.MethodConnectTo, protocol.ConnectToRequest{Username: username, Password: password}, &resp); err != nil {
		return "", "", err
	}
	if resp.Error != "" {
		return "", resp.Error, nil
	}
	return resp.ConnectionID, "", nil
}

// SendMessage implements connection.RelaySender: it issues the
// SendMessage RPC without waiting for a domain response, since the
// relay has nothing meaningful to report back for a routed message.
func (c *Client) SendMessage(connectionID string, msgType protocol.MessageType, data []byte, destination protocol.MessageDestination, targets []string) error {
	id := c.nextID()
	encoded, err := protocol.EncodeRequest(id, protocol.MethodSendMessage, protocol.SendMessageRequest{
		ConnectionID: connectionID,
		Type:         msgType,
		Data:         data,
		Destination:  destination,
		Targets:      targets,
	})
	if err != nil {
		return err
	}

	select {
	case c.sendChan <- encoded:
		return nil
	case <-c.done:
		return fmt.Errorf("transport: client stopped")
	default:
		return fmt.Errorf("transport: send queue full")
	}
}

// Disconnect issues the Disconnect RPC for connectionID.
func (c *Client) Disconnect(ctx context.Context, connectionID string) error {
	return c.call(ctx, protocol.MethodDisconnect, protocol.DisconnectRequest{ConnectionID: connectionID}, nil)
}
