// Package channel connects an editing session to the collaboration server.
package channel

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"diagramsync/application/ports"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultSendBufferSize = 256
	defaultMinBackoff     = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultStableAfter    = 5 * time.Second
	maxMessageSize        = 4 << 20
)

// ClientConfig configures the websocket channel
type ClientConfig struct {
	URL        string
	Token      string
	Header     http.Header
	SendBuffer int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	WriteWait  time.Duration
	PongWait   time.Duration

	// StableAfter is how long a connection must stay up before the backoff
	// goes back to MinBackoff
	StableAfter time.Duration
}

func (c *ClientConfig) withDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBufferSize
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = defaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.StableAfter <= 0 {
		c.StableAfter = defaultStableAfter
	}
}

// WebSocketChannel is a reconnecting websocket implementation of ports.Channel.
// Listener callbacks run on the goroutine that called Run.
type WebSocketChannel struct {
	config ClientConfig
	dialer *websocket.Dialer
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	send      chan []byte
}

var _ ports.Channel = (*WebSocketChannel)(nil)

// NewWebSocketChannel creates a channel for the given server URL
func NewWebSocketChannel(config ClientConfig, logger *zap.Logger) (*WebSocketChannel, error) {
	config.withDefaults()
	if _, err := endpoint(config); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketChannel{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With(zap.String("component", "channel")),
		send:   make(chan []byte, config.SendBuffer),
	}, nil
}

// Run connects and reconnects with exponential backoff until ctx is done.
// Every reconnect waits, including after a connection the server closed.
func (c *WebSocketChannel) Run(ctx context.Context, listener ports.ChannelListener) {
	target, _ := endpoint(c.config)
	backoff := c.config.MinBackoff

	for {
		conn, _, err := c.dialer.DialContext(ctx, target, c.config.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Failed to connect",
				zap.Duration("retryIn", backoff),
				zap.Error(err),
			)
		} else {
			connectedAt := time.Now()
			err = c.serve(ctx, conn, listener)
			if ctx.Err() != nil {
				return
			}
			if time.Since(connectedAt) >= c.config.StableAfter {
				backoff = c.config.MinBackoff
			}
			c.logger.Info("Connection lost, reconnecting",
				zap.Duration("retryIn", backoff),
				zap.Error(err),
			)
		}

		if !sleep(ctx, backoff) {
			return
		}
		backoff = c.nextBackoff(backoff)
	}
}

func (c *WebSocketChannel) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > c.config.MaxBackoff {
		return c.config.MaxBackoff
	}
	return d
}

// Send queues a frame for the writer. Frames are dropped while disconnected
// or when the buffer is full.
func (c *WebSocketChannel) Send(frame protocol.Frame) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return false
	}

	data, err := frame.Marshal()
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.String("event", frame.Event), zap.Error(err))
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping frame", zap.String("event", frame.Event))
		return false
	}
}

// Connected reports whether a connection is established
func (c *WebSocketChannel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *WebSocketChannel) serve(ctx context.Context, conn *websocket.Conn, listener ports.ChannelListener) error {
	c.setConnected(true)
	c.logger.Info("Connected to collaboration server")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx, conn, stop)
	}()

	listener.OnConnected()
	err := c.readPump(conn, listener)

	c.setConnected(false)
	close(stop)
	conn.Close()
	wg.Wait()
	c.drain()

	listener.OnDisconnected(err)
	return err
}

func (c *WebSocketChannel) readPump(conn *websocket.Conn, listener ports.ChannelListener) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.config.WriteWait))
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return pkgerrors.NewTransportError("websocket read failed", err)
		}
		conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		frame, err := protocol.ParseFrame(message)
		if err != nil {
			c.logger.Warn("Dropped malformed frame", zap.Error(err))
			continue
		}
		listener.OnFrame(frame)
	}
}

// writePump owns writes to conn. On cancel it writes the frames already
// queued, then the close frame.
func (c *WebSocketChannel) writePump(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case message := <-c.send:
			if err := c.write(conn, message); err != nil {
				c.logger.Warn("Write failed", zap.Error(err))
				conn.Close()
				return
			}
		case <-ctx.Done():
			c.flushQueued(conn)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteWait))
			conn.Close()
			return
		case <-stop:
			return
		}
	}
}

func (c *WebSocketChannel) write(conn *websocket.Conn, message []byte) error {
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, message)
}

func (c *WebSocketChannel) flushQueued(conn *websocket.Conn) {
	for {
		select {
		case message := <-c.send:
			if err := c.write(conn, message); err != nil {
				c.logger.Debug("Dropped queued frame on close", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

func (c *WebSocketChannel) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

// drain discards frames queued for a connection that no longer exists
func (c *WebSocketChannel) drain() {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func endpoint(config ClientConfig) (string, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return "", pkgerrors.NewValidationError("invalid channel url").WithCause(err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", pkgerrors.NewValidationError("channel url must use ws or wss")
	}
	if config.Token != "" {
		q := u.Query()
		q.Set("token", config.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
