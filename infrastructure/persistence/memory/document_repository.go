// Package memory is an in-process document repository for development and
// tests.
package memory

import (
	"context"
	"sync"
	"time"

	"diagramsync/application/ports"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
)

type record struct {
	name      string
	snapshot  aggregates.Snapshot
	version   uint64
	createdAt time.Time
	updatedAt time.Time
}

// DocumentRepository keeps documents in memory. Version bumps are atomic.
type DocumentRepository struct {
	mu     sync.RWMutex
	docs   map[string]*record
	config *config.DomainConfig
	now    func() time.Time
}

var _ ports.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates an empty repository
func NewDocumentRepository(cfg *config.DomainConfig) *DocumentRepository {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &DocumentRepository{
		docs:   make(map[string]*record),
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new empty document
func (r *DocumentRepository) Create(ctx context.Context, doc *aggregates.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := doc.ID().String()
	if _, exists := r.docs[key]; exists {
		return pkgerrors.NewConflictError("document already exists").WithDetail("documentId", key)
	}
	r.docs[key] = &record{
		name:      doc.Name(),
		snapshot:  doc.Snapshot("", doc.CreatedAt()),
		version:   doc.Version(),
		createdAt: doc.CreatedAt(),
		updatedAt: doc.UpdatedAt(),
	}
	return nil
}

// Load returns a fresh copy of the stored document
func (r *DocumentRepository) Load(ctx context.Context, id valueobjects.DocumentID) (*aggregates.Document, error) {
	r.mu.RLock()
	rec, ok := r.docs[id.String()]
	if !ok {
		r.mu.RUnlock()
		return nil, pkgerrors.NewNotFoundError("document").WithDetail("documentId", id.String())
	}
	snap := rec.snapshot
	name, version, createdAt, updatedAt := rec.name, rec.version, rec.createdAt, rec.updatedAt
	r.mu.RUnlock()

	graph, _, err := snap.Graph(r.config)
	if err != nil {
		return nil, pkgerrors.NewStorageError("load document", err)
	}
	return aggregates.ReconstructDocument(id, name, graph, version, createdAt, updatedAt, snap.Metadata), nil
}

// Save replaces the stored graph of an existing document
func (r *DocumentRepository) Save(ctx context.Context, id valueobjects.DocumentID, snapshot aggregates.Snapshot) (aggregates.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return aggregates.SaveResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id.String()]
	if !ok {
		return aggregates.SaveResult{}, pkgerrors.NewNotFoundError("document").WithDetail("documentId", id.String())
	}

	snapshot.DocumentID = id
	snapshot.Nodes = cloneNodes(snapshot)
	snapshot.Edges = cloneEdges(snapshot)
	rec.snapshot = snapshot
	rec.version++
	rec.updatedAt = r.now()

	return aggregates.SaveResult{Version: rec.version, UpdatedAt: rec.updatedAt}, nil
}

// Delete removes a document
func (r *DocumentRepository) Delete(ctx context.Context, id valueobjects.DocumentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id.String()]; !ok {
		return pkgerrors.NewNotFoundError("document").WithDetail("documentId", id.String())
	}
	delete(r.docs, id.String())
	return nil
}

// Len returns the number of stored documents
func (r *DocumentRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func cloneNodes(s aggregates.Snapshot) []*entities.Node {
	out := make([]*entities.Node, len(s.Nodes))
	for i, n := range s.Nodes {
		out[i] = n.Clone()
	}
	return out
}

func cloneEdges(s aggregates.Snapshot) []*entities.Edge {
	out := make([]*entities.Edge, len(s.Edges))
	for i, e := range s.Edges {
		out[i] = e.Clone()
	}
	return out
}
