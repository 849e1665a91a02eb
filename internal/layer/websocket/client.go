package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/WazeDev/hn-navpoints/pkg/streaming"
)

const (
	sendChSize     = 4096
	ackChSize      = 16
	maxReconnect   = 10
	maxBackoff     = 30 * time.Second
	writeWait      = 10 * time.Second
	ackTimeout     = 10 * time.Second
	defaultBackoff = time.Second
)

// Client is a single WebSocket connection shared by the mirrored layers.
// All writes go through one write goroutine.
type Client struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL   string
	secret  string
	backoff time.Duration

	// open_layer messages replayed after a reconnect, in open order
	opened map[string][]byte
	order  []string
	resync []func()

	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReconnectBackoff sets the first reconnect delay. It doubles per
// failed attempt up to 30s.
func WithReconnectBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

// NewClient creates a client for rawURL. Nothing is dialled until Dial.
func NewClient(rawURL, secret string, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		sendCh:  make(chan []byte, sendChSize),
		ackCh:   make(chan streaming.AckMessage, ackChSize),
		done:    make(chan struct{}),
		wsURL:   rawURL,
		secret:  secret,
		backoff: defaultBackoff,
		opened:  make(map[string][]byte),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the server and starts the read and write loops.
func (c *Client) Dial() error {
	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)
	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *Client) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// OnReconnect registers fn to run after a successful reconnect, once the
// open_layer messages have been replayed.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.resync = append(c.resync, fn)
	c.mu.Unlock()
}

// writeLoop drains sendCh onto conn. It returns once conn is replaced,
// on error or on shutdown, so only one loop writes to a connection.
func (c *Client) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if !c.current(conn) {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop routes acks from conn to ackCh.
func (c *Client) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !c.current(conn) {
				return
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

func (c *Client) current(conn *ws.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn == conn
}

// reconnect re-dials with exponential backoff, replays the open layers
// and runs the resync hooks.
func (c *Client) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		// closed, or the other loop already started reconnecting
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		replay := make([][]byte, 0, len(c.order))
		for _, name := range c.order {
			replay = append(replay, c.opened[name])
		}
		hooks := append([]func(){}, c.resync...)
		c.mu.Unlock()

		if err := writeAll(conn, replay); err != nil {
			c.logger.Warn("Failed to replay open layers after reconnect", "error", err)
			_ = conn.Close()
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt, "layers", len(replay))
		go c.writeLoop(conn)
		go c.readLoop(conn)
		for _, fn := range hooks {
			fn()
		}
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

func writeAll(conn *ws.Conn, msgs [][]byte) error {
	for _, data := range msgs {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Send queues a message for the write loop. It never blocks; messages
// are dropped when the queue is full or the client is closed.
func (c *Client) Send(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	c.send(data)
	return nil
}

func (c *Client) send(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

// SendAndWait sends a message and blocks until the server acknowledges
// its type or the ack timeout expires.
func (c *Client) SendAndWait(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return c.sendAndWait(data, msgType, ackTimeout)
}

func (c *Client) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// openLayer announces a layer and remembers the message for replay.
func (c *Client) openLayer(name string) error {
	data, err := marshalEnvelope(streaming.TypeOpenLayer, streaming.LayerPayload{Layer: name})
	if err != nil {
		return err
	}
	c.mu.Lock()
	if _, ok := c.opened[name]; !ok {
		c.order = append(c.order, name)
	}
	c.opened[name] = data
	c.mu.Unlock()
	return c.sendAndWait(data, streaming.TypeOpenLayer, ackTimeout)
}

func (c *Client) closeLayer(name string) error {
	c.mu.Lock()
	delete(c.opened, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	return c.SendAndWait(streaming.TypeCloseLayer, streaming.LayerPayload{Layer: name})
}

// Close sends a WebSocket close frame and stops all goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
