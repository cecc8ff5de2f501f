package websocket

import (
	"context"
	"sync"
	"time"

	"diagramsync/pkg/auth"
	"diagramsync/pkg/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one websocket connection and the rooms it has joined
type Client struct {
	id       string
	identity auth.Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	limiter  auth.RateLimiter
	config   ServerConfig
	logger   *zap.Logger

	// rooms is only touched by the read pump
	rooms map[string]struct{}

	closeOnce sync.Once
}

func newClient(identity auth.Identity, hub *Hub, conn *websocket.Conn, limiter auth.RateLimiter, config ServerConfig, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:       id,
		identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, config.SendBuffer),
		done:     make(chan struct{}),
		limiter:  limiter,
		config:   config,
		rooms:    make(map[string]struct{}),
		logger: logger.With(
			zap.String("connectionId", id),
			zap.String("userId", identity.UserID),
		),
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

func (c *Client) start() error {
	if err := c.hub.register(c); err != nil {
		return err
	}
	go c.writePump()
	go c.readPump()
	return nil
}

// enqueue queues a frame without blocking. It reports false when the
// frame was dropped.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		for documentID := range c.rooms {
			c.leaveRoom(documentID)
		}
		c.limiter.Reset(context.Background(), c.id)
		c.hub.unregister(c)
		c.close()
		c.logger.Info("Connection closed")
	}()

	c.conn.SetReadLimit(c.config.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.hub.rejected("binary")
			continue
		}

		if ok, _ := c.limiter.Allow(context.Background(), c.id); !ok {
			c.hub.rejected("rate_limited")
			continue
		}

		frame, err := protocol.ParseFrame(message)
		if err != nil {
			c.hub.rejected("malformed")
			c.reply("", err.Error())
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) handle(frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventJoinDiagram:
		var join protocol.JoinDiagram
		if err := frame.Decode(&join); err != nil || join.DocumentID == "" {
			c.hub.rejected("malformed")
			c.reply(frame.Event, "documentId is required")
			return
		}
		c.joinRoom(join.DocumentID)

	case protocol.EventLeaveDiagram:
		var leave protocol.LeaveDiagram
		if err := frame.Decode(&leave); err != nil || leave.DocumentID == "" {
			c.hub.rejected("malformed")
			c.reply(frame.Event, "documentId is required")
			return
		}
		if _, ok := c.rooms[leave.DocumentID]; ok {
			c.leaveRoom(leave.DocumentID)
		}

	case protocol.EventDiagramChange:
		var change protocol.DiagramChange
		if err := frame.Decode(&change); err != nil {
			c.hub.rejected("malformed")
			c.reply(frame.Event, err.Error())
			return
		}
		if _, ok := c.rooms[change.DocumentID]; !ok {
			c.hub.rejected("not_joined")
			c.reply(frame.Event, "join the document before sending changes")
			return
		}
		change.UserID = c.identity.UserID
		c.broadcast(change.DocumentID, protocol.EventDiagramChange, change)

	default:
		c.hub.rejected("unknown_event")
		c.reply(frame.Event, "unknown event")
	}
}

func (c *Client) joinRoom(documentID string) {
	if _, ok := c.rooms[documentID]; ok {
		return
	}
	if err := c.hub.join(context.Background(), c, documentID); err != nil {
		c.logger.Error("Failed to join room", zap.String("documentId", documentID), zap.Error(err))
		c.reply(protocol.EventJoinDiagram, "room unavailable")
		return
	}
	c.rooms[documentID] = struct{}{}

	c.logger.Info("Joined room", zap.String("documentId", documentID))
	c.broadcast(documentID, protocol.EventUserJoined, protocol.UserJoined{
		DocumentID: documentID,
		UserID:     c.identity.UserID,
		UserName:   c.identity.DisplayName,
	})
}

func (c *Client) leaveRoom(documentID string) {
	c.broadcast(documentID, protocol.EventUserLeft, protocol.UserLeft{
		DocumentID: documentID,
		UserID:     c.identity.UserID,
	})
	delete(c.rooms, documentID)
	c.hub.leave(c, documentID)
	c.logger.Info("Left room", zap.String("documentId", documentID))
}

// broadcast sends the payload to the other members of the room
func (c *Client) broadcast(documentID, event string, payload interface{}) {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	raw, err := frame.Marshal()
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	if err := c.hub.publish(context.Background(), documentID, c.id, event, raw); err != nil {
		c.hub.dropped("relay_error")
		c.logger.Warn("Failed to relay frame",
			zap.String("documentId", documentID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// reply reports a rejected frame to this connection only
func (c *Client) reply(event, message string) {
	frame, err := protocol.NewFrame(protocol.EventError, protocol.ErrorMessage{Event: event, Message: message})
	if err != nil {
		return
	}
	raw, err := frame.Marshal()
	if err != nil {
		return
	}
	if !c.enqueue(raw) {
		c.hub.dropped("send_buffer_full")
	}
}
