package aggregates

import (
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
)

// EnvelopeKind says which collections a ChangeEnvelope replaces.
type EnvelopeKind string

const (
	EnvelopeNodes EnvelopeKind = "nodes"
	EnvelopeEdges EnvelopeKind = "edges"
	EnvelopeFull  EnvelopeKind = "full"
)

// IsValid reports whether k is a known kind
func (k EnvelopeKind) IsValid() bool {
	switch k {
	case EnvelopeNodes, EnvelopeEdges, EnvelopeFull:
		return true
	}
	return false
}

// CarriesNodes reports whether the envelope replaces the node collection
func (k EnvelopeKind) CarriesNodes() bool { return k == EnvelopeNodes || k == EnvelopeFull }

// CarriesEdges reports whether the envelope replaces the edge collection
func (k EnvelopeKind) CarriesEdges() bool { return k == EnvelopeEdges || k == EnvelopeFull }

// ChangeEnvelope carries a complete replacement of one or both collections
// of a document's graph. There are no field level diffs.
type ChangeEnvelope struct {
	DocumentID   valueobjects.DocumentID
	OriginUserID string
	Kind         EnvelopeKind
	Nodes        []*entities.Node
	Edges        []*entities.Edge
}

// NewEnvelope captures the collections named by kind from g
func NewEnvelope(doc valueobjects.DocumentID, origin string, kind EnvelopeKind, g *Graph) ChangeEnvelope {
	env := ChangeEnvelope{DocumentID: doc, OriginUserID: origin, Kind: kind}
	if kind.CarriesNodes() {
		env.Nodes = g.Nodes()
	}
	if kind.CarriesEdges() {
		env.Edges = g.Edges()
	}
	return env
}

// ApplyTo replaces the collections of g named by the envelope kind
func (e ChangeEnvelope) ApplyTo(g *Graph) (ReplaceResult, error) {
	switch e.Kind {
	case EnvelopeNodes:
		return g.ApplyNodeSet(e.Nodes)
	case EnvelopeEdges:
		return g.ApplyEdgeSet(e.Edges)
	default:
		return g.ApplyFull(e.Nodes, e.Edges)
	}
}
