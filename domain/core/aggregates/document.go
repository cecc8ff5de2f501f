package aggregates

import (
	"time"

	"diagramsync/domain/config"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
)

// Metadata records who last changed a document and when.
type Metadata struct {
	LastModifiedAt time.Time
	ModifiedBy     string
}

// Document is the persisted unit: one graph plus versioning metadata. The
// persistence service owns the canonical document; each participant holds a
// replica.
type Document struct {
	id        valueobjects.DocumentID
	name      string
	graph     *Graph
	version   uint64
	createdAt time.Time
	updatedAt time.Time
	metadata  Metadata
}

// NewDocument creates an empty document at version 0
func NewDocument(id valueobjects.DocumentID, name string, cfg *config.DomainConfig) *Document {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if name == "" {
		name = cfg.DefaultDocumentName
	}
	now := time.Now().UTC()
	return &Document{
		id:        id,
		name:      name,
		graph:     NewGraph(id.String(), cfg),
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstructDocument recreates a document from stored data
func ReconstructDocument(
	id valueobjects.DocumentID,
	name string,
	graph *Graph,
	version uint64,
	createdAt, updatedAt time.Time,
	metadata Metadata,
) *Document {
	if graph == nil {
		graph = NewGraph(id.String(), nil)
	}
	return &Document{
		id:        id,
		name:      name,
		graph:     graph,
		version:   version,
		createdAt: createdAt,
		updatedAt: updatedAt,
		metadata:  metadata,
	}
}

func (d *Document) ID() valueobjects.DocumentID { return d.id }
func (d *Document) Name() string                { return d.name }
func (d *Document) Graph() *Graph               { return d.graph }
func (d *Document) Version() uint64             { return d.version }
func (d *Document) CreatedAt() time.Time        { return d.createdAt }
func (d *Document) UpdatedAt() time.Time        { return d.updatedAt }
func (d *Document) Metadata() Metadata          { return d.metadata }

// Rename changes the document name. Empty names are ignored.
func (d *Document) Rename(name string) {
	if name != "" {
		d.name = name
	}
}

// Snapshot captures the full document for a flush
func (d *Document) Snapshot(modifiedBy string, at time.Time) Snapshot {
	return Snapshot{
		DocumentID:  d.id,
		Nodes:       d.graph.Nodes(),
		Edges:       d.graph.Edges(),
		Metadata:    Metadata{LastModifiedAt: at.UTC(), ModifiedBy: modifiedBy},
		BaseVersion: d.version,
	}
}

// ApplySaved records the version assigned by the persistence service. The
// version never moves backwards; the return value reports whether it moved.
func (d *Document) ApplySaved(result SaveResult, metadata Metadata) bool {
	if result.Version <= d.version {
		return false
	}
	d.version = result.Version
	d.updatedAt = result.UpdatedAt
	d.metadata = metadata
	return true
}

// ReplaceWith adopts the state of a freshly loaded document, keeping the
// highest version seen.
func (d *Document) ReplaceWith(loaded *Document) {
	d.name = loaded.name
	d.graph = loaded.graph
	d.createdAt = loaded.createdAt
	d.metadata = loaded.metadata
	if loaded.version >= d.version {
		d.version = loaded.version
		d.updatedAt = loaded.updatedAt
	}
}

// Snapshot is the serialized form of a document handed to the persistence
// service.
type Snapshot struct {
	DocumentID  valueobjects.DocumentID
	Nodes       []*entities.Node
	Edges       []*entities.Edge
	Metadata    Metadata
	BaseVersion uint64
}

// Graph rebuilds a graph from the snapshot, dropping dangling edges
func (s Snapshot) Graph(cfg *config.DomainConfig) (*Graph, ReplaceResult, error) {
	g := NewGraph(s.DocumentID.String(), cfg)
	result, err := g.ApplyFull(s.Nodes, s.Edges)
	if err != nil {
		return nil, ReplaceResult{}, err
	}
	g.MarkEventsAsCommitted()
	return g, result, nil
}

// SaveResult is what the persistence service returns for a successful save.
type SaveResult struct {
	Version   uint64
	UpdatedAt time.Time
}
