// Package replica holds a participant's local copy of a document. Every
// read and write of the copy goes through one mutex, so local intents,
// remote changes and save results are applied one at a time.
package replica

import (
	"sync"
	"time"

	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/events"

	"go.uber.org/zap"
)

// EventSink receives the domain events produced by each change
type EventSink func(events []events.DomainEvent)

// Replica is a mutex guarded Document
type Replica struct {
	mu     sync.Mutex
	doc    *aggregates.Document
	sink   EventSink
	logger *zap.Logger

	// remote counts remote changes applied since the replica was created
	remote uint64
}

// New wraps doc. The replica owns doc from now on.
func New(doc *aggregates.Document, logger *zap.Logger) *Replica {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replica{doc: doc, logger: logger}
}

// OnEvents installs a sink for graph events
func (r *Replica) OnEvents(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// DocumentID of the replicated document
func (r *Replica) DocumentID() valueobjects.DocumentID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.ID()
}

// Do runs fn with exclusive access to the document. Events raised by fn
// are committed whether or not it fails.
func (r *Replica) Do(fn func(doc *aggregates.Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := fn(r.doc)
	r.commit()
	return err
}

// ApplyRemote is Do for changes received from other participants. A
// successful fn advances the remote generation reported by Capture.
func (r *Replica) ApplyRemote(fn func(doc *aggregates.Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := fn(r.doc)
	if err == nil {
		r.remote++
	}
	r.commit()
	return err
}

// View runs fn with read access to the document. fn must not mutate it.
func (r *Replica) View(fn func(doc *aggregates.Document)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.doc)
}

// Graph returns a copy of the current graph
func (r *Replica) Graph() *aggregates.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Graph().Clone()
}

// Version is the last version confirmed by the persistence service
func (r *Replica) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Version()
}

// Capture snapshots the document for a flush, with the remote generation the snapshot was taken at.
// Equal generations mean no remote change landed in between.
func (r *Replica) Capture(modifiedBy string) (aggregates.Snapshot, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Snapshot(modifiedBy, time.Now()), r.remote
}

// Reset adopts a freshly loaded document
func (r *Replica) Reset(loaded *aggregates.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.doc.ReplaceWith(loaded)
	r.doc.Graph().MarkEventsAsCommitted()
	r.logger.Info("Replica reset",
		zap.String("documentId", r.doc.ID().String()),
		zap.Uint64("version", r.doc.Version()),
		zap.Int("nodeCount", r.doc.Graph().NodeCount()),
		zap.Int("edgeCount", r.doc.Graph().EdgeCount()),
	)
}

func (r *Replica) commit() {
	graph := r.doc.Graph()
	pending := graph.GetUncommittedEvents()
	if len(pending) == 0 {
		return
	}
	graph.MarkEventsAsCommitted()

	if ce := r.logger.Check(zap.DebugLevel, "Graph changed"); ce != nil {
		types := make([]string, len(pending))
		for i, e := range pending {
			types[i] = e.GetEventType()
		}
		ce.Write(
			zap.String("documentId", r.doc.ID().String()),
			zap.Strings("events", types),
		)
	}
	if r.sink != nil {
		r.sink(pending)
	}
}
