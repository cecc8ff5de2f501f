package ports

import (
	"context"

	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/events"
	"diagramsync/pkg/protocol"
)

// DocumentStore is the persistence service as seen by an editing session
type DocumentStore interface {
	// Load retrieves the canonical document
	Load(ctx context.Context, id valueobjects.DocumentID) (*aggregates.Document, error)

	// Save replaces the stored graph and returns the new version
	Save(ctx context.Context, id valueobjects.DocumentID, snapshot aggregates.Snapshot) (aggregates.SaveResult, error)

	// Delete removes the document
	Delete(ctx context.Context, id valueobjects.DocumentID) error
}

// DocumentRepository is the durable store behind the persistence service
type DocumentRepository interface {
	DocumentStore

	// Create stores a new empty document. It fails with a conflict if the id is taken.
	Create(ctx context.Context, doc *aggregates.Document) error
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// Cache defines the interface for caching
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL in seconds
	Set(ctx context.Context, key string, value interface{}, ttl int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error
}

// ChannelListener receives connection lifecycle and inbound frames from a
// Channel. Calls are made from one goroutine at a time.
type ChannelListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnFrame(frame protocol.Frame)
}

// Channel is the duplex connection of one client to the collaboration
// server. Delivery is best effort and at most once.
type Channel interface {
	// Run connects and keeps reconnecting until ctx is done
	Run(ctx context.Context, listener ChannelListener)

	// Send queues a frame. It returns false if the frame was dropped.
	Send(frame protocol.Frame) bool

	// Connected reports the current connection state
	Connected() bool
}

// RelayMessage is a frame travelling between the members of a room,
// tagged with the connection that sent it.
type RelayMessage struct {
	Origin string `json:"origin"`
	Event  string `json:"event"`
	Frame  []byte `json:"frame"`
}

// Subscription ends a relay subscription when closed
type Subscription interface {
	Close() error
}

// RoomRelay fans frames out to every server instance hosting a room
type RoomRelay interface {
	Publish(ctx context.Context, documentID string, msg RelayMessage) error
	Subscribe(ctx context.Context, documentID string, deliver func(RelayMessage)) (Subscription, error)
}
