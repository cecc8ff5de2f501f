// Package websocket hosts the server side of the change channel: one room
// per document, fanned out through a RoomRelay so several instances can
// share a room.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"diagramsync/application/ports"
	"diagramsync/pkg/observability"

	"go.uber.org/zap"
)

const (
	// roomBacklog bounds frames waiting for delivery in one room
	roomBacklog = 1024

	subscribeTimeout = 10 * time.Second
	publishTimeout   = 5 * time.Second
)

// Hub tracks connections and document rooms. h.mu guards the maps only;
// relay calls are made without it so one room never holds up another.
type Hub struct {
	relay   ports.RoomRelay
	metrics *observability.Collector
	logger  *zap.Logger

	mu      sync.Mutex
	rooms   map[string]*room
	clients map[*Client]struct{}
	closed  bool
}

// room is the set of local members of one document. Frames for a room are
// delivered by its own goroutine, one at a time. ready is closed once the
// relay subscription is settled, with err set if it failed.
type room struct {
	id    string
	inbox chan ports.RelayMessage
	ready chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	members map[*Client]struct{}
	pending int
	sub     ports.Subscription
	err     error
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		members: make(map[*Client]struct{}),
		inbox:   make(chan ports.RelayMessage, roomBacklog),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (r *room) snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.members))
	for c := range r.members {
		out = append(out, c)
	}
	return out
}

// NewHub creates a hub. metrics may be nil.
func NewHub(relay ports.RoomRelay, metrics *observability.Collector, logger *zap.Logger) *Hub {
	return &Hub{
		relay:   relay,
		metrics: metrics,
		logger:  logger,
		rooms:   make(map[string]*room),
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("hub is shut down")
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.Connections.Set(float64(len(h.clients)))
	}
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if h.metrics != nil {
		h.metrics.Connections.Set(float64(len(h.clients)))
	}
}

// join adds c to the room of documentID. The first joiner opens the room;
// later joiners wait for that room alone.
func (h *Hub) join(ctx context.Context, c *Client, documentID string) error {
	ctx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	h.mu.Lock()
	r, ok := h.rooms[documentID]
	if !ok {
		r = newRoom(documentID)
		h.rooms[documentID] = r
		h.roomsChanged()
	}
	r.mu.Lock()
	r.pending++
	r.mu.Unlock()
	h.mu.Unlock()

	if !ok {
		h.open(ctx, r)
	}

	select {
	case <-r.ready:
	default:
		select {
		case <-r.ready:
		case <-ctx.Done():
			h.abandon(r)
			return fmt.Errorf("failed to open room %s: %w", documentID, ctx.Err())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending--
	if r.err != nil {
		return fmt.Errorf("failed to open room %s: %w", documentID, r.err)
	}
	r.members[c] = struct{}{}
	return nil
}

// open subscribes r to the relay and starts its delivery goroutine
func (h *Hub) open(ctx context.Context, r *room) {
	sub, err := h.relay.Subscribe(ctx, r.id, func(msg ports.RelayMessage) {
		select {
		case r.inbox <- msg:
		default:
			h.dropped("room_backlog")
		}
	})

	r.mu.Lock()
	r.sub, r.err = sub, err
	r.mu.Unlock()

	if err != nil {
		h.mu.Lock()
		if h.rooms[r.id] == r {
			delete(h.rooms, r.id)
			h.roomsChanged()
		}
		h.mu.Unlock()
		close(r.ready)
		h.logger.Warn("Failed to open room", zap.String("documentId", r.id), zap.Error(err))
		return
	}

	go h.run(r)
	close(r.ready)
	h.logger.Info("Room opened", zap.String("documentId", r.id))
}

// abandon drops a joiner that gave up waiting for r to open
func (h *Hub) abandon(r *room) {
	r.mu.Lock()
	r.pending--
	r.mu.Unlock()
	go func() {
		<-r.ready
		h.evictIfEmpty(r)
	}()
}

// leave removes c from the room, evicting the room when it empties
func (h *Hub) leave(c *Client, documentID string) {
	h.mu.Lock()
	r, ok := h.rooms[documentID]
	h.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.members, c)
	r.mu.Unlock()
	h.evictIfEmpty(r)
}

func (h *Hub) evictIfEmpty(r *room) {
	h.mu.Lock()
	r.mu.Lock()
	empty := len(r.members) == 0 && r.pending == 0 && r.err == nil
	sub := r.sub
	r.mu.Unlock()
	if !empty || h.rooms[r.id] != r {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, r.id)
	h.roomsChanged()
	h.mu.Unlock()

	close(r.done)
	if sub != nil {
		if err := sub.Close(); err != nil {
			h.logger.Warn("Failed to close room subscription", zap.String("documentId", r.id), zap.Error(err))
		}
	}
	h.logger.Info("Room closed", zap.String("documentId", r.id))
}

// publish sends a frame to every member of the room except origin
func (h *Hub) publish(ctx context.Context, documentID, origin, event string, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return h.relay.Publish(ctx, documentID, ports.RelayMessage{Origin: origin, Event: event, Frame: frame})
}

func (h *Hub) run(r *room) {
	for {
		select {
		case <-r.done:
			return
		case msg := <-r.inbox:
			for _, c := range r.snapshot() {
				if c.id == msg.Origin {
					continue
				}
				if c.enqueue(msg.Frame) {
					h.relayed(msg.Event)
				} else {
					h.dropped("send_buffer_full")
				}
			}
		}
	}
}

// RoomCount reports the number of open rooms
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// RoomMembers reports the number of local members of a room
func (h *Hub) RoomMembers(documentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[documentID]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// ConnectionCount reports the number of open connections
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for them to leave their rooms
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.logger.Info("Shutting down websocket hub", zap.Int("connections", len(clients)))
	for _, c := range clients {
		c.close()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for h.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// roomsChanged must be called with h.mu held
func (h *Hub) roomsChanged() {
	if h.metrics != nil {
		h.metrics.Rooms.Set(float64(len(h.rooms)))
	}
}

func (h *Hub) relayed(event string) {
	if h.metrics != nil {
		h.metrics.Relayed.WithLabelValues(event).Inc()
	}
}

func (h *Hub) dropped(reason string) {
	if h.metrics != nil {
		h.metrics.Dropped.WithLabelValues(reason).Inc()
	}
}

func (h *Hub) rejected(reason string) {
	if h.metrics != nil {
		h.metrics.RejectedFrames.WithLabelValues(reason).Inc()
	}
}
