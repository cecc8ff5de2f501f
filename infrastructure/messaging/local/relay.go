// Package local relays room frames within a single process
package local

import (
	"context"
	"sync"

	"diagramsync/application/ports"
)

// Relay implements ports.RoomRelay in memory
type Relay struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(ports.RelayMessage)
}

var _ ports.RoomRelay = (*Relay)(nil)

// NewRelay creates an in-process relay
func NewRelay() *Relay {
	return &Relay{subs: make(map[string]map[uint64]func(ports.RelayMessage))}
}

// Publish calls every subscriber of the document synchronously
func (r *Relay) Publish(ctx context.Context, documentID string, msg ports.RelayMessage) error {
	r.mu.RLock()
	targets := make([]func(ports.RelayMessage), 0, len(r.subs[documentID]))
	for _, deliver := range r.subs[documentID] {
		targets = append(targets, deliver)
	}
	r.mu.RUnlock()

	for _, deliver := range targets {
		deliver(msg)
	}
	return nil
}

// Subscribe registers deliver for the document
func (r *Relay) Subscribe(ctx context.Context, documentID string, deliver func(ports.RelayMessage)) (ports.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.subs[documentID] == nil {
		r.subs[documentID] = make(map[uint64]func(ports.RelayMessage))
	}
	r.subs[documentID][id] = deliver
	return &subscription{relay: r, documentID: documentID, id: id}, nil
}

// Subscribers reports the subscriber count of a document
func (r *Relay) Subscribers(documentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[documentID])
}

type subscription struct {
	relay      *Relay
	documentID string
	id         uint64
	once       sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.relay.mu.Lock()
		defer s.relay.mu.Unlock()
		delete(s.relay.subs[s.documentID], s.id)
		if len(s.relay.subs[s.documentID]) == 0 {
			delete(s.relay.subs, s.documentID)
		}
	})
	return nil
}
