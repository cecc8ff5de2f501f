// Package redis relays room frames between server instances over Redis
// pub/sub, one channel per document.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"diagramsync/application/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "diagram:"

// Relay implements ports.RoomRelay on Redis pub/sub
type Relay struct {
	client *redis.Client
	logger *zap.Logger
}

var _ ports.RoomRelay = (*Relay)(nil)

// NewRelay creates a relay on an existing client
func NewRelay(client *redis.Client, logger *zap.Logger) *Relay {
	return &Relay{client: client, logger: logger}
}

// Dial connects to addr and checks the connection
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Relay, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logger.Info("Connected to Redis", zap.String("addr", addr))
	return NewRelay(client, logger), nil
}

// Close closes the underlying client
func (r *Relay) Close() error {
	return r.client.Close()
}

func channelName(documentID string) string {
	return channelPrefix + documentID
}

// Publish sends msg to every instance subscribed to the document
func (r *Relay) Publish(ctx context.Context, documentID string, msg ports.RelayMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := r.client.Publish(ctx, channelName(documentID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe delivers the document's messages to deliver, one at a time,
// until the subscription is closed.
func (r *Relay) Subscribe(ctx context.Context, documentID string, deliver func(ports.RelayMessage)) (ports.Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channelName(documentID))
	// Wait for the subscription to be confirmed so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channelName(documentID), err)
	}

	go func() {
		for m := range pubsub.Channel() {
			var msg ports.RelayMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("Dropped malformed relay message",
					zap.String("documentId", documentID),
					zap.Error(err),
				)
				continue
			}
			deliver(msg)
		}
	}()
	return pubsub, nil
}
