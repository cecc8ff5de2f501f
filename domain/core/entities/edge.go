package entities

import (
	"fmt"
	"strings"

	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
)

// EdgeKind is the relationship type drawn between two classes
type EdgeKind string

const (
	KindAssociation EdgeKind = "ASSOCIATION"
	KindAggregation EdgeKind = "AGGREGATION"
	KindComposition EdgeKind = "COMPOSITION"
	KindInheritance EdgeKind = "INHERITANCE"
	KindDependency  EdgeKind = "DEPENDENCY"
	KindRealization EdgeKind = "REALIZATION"

	// Persistence cardinalities used by code generation
	KindOneToOne   EdgeKind = "OneToOne"
	KindOneToMany  EdgeKind = "OneToMany"
	KindManyToOne  EdgeKind = "ManyToOne"
	KindManyToMany EdgeKind = "ManyToMany"
)

var edgeKinds = []EdgeKind{
	KindAssociation, KindAggregation, KindComposition, KindInheritance, KindDependency, KindRealization,
	KindOneToOne, KindOneToMany, KindManyToOne, KindManyToMany,
}

// ParseEdgeKind matches s case-insensitively. An empty string is an association.
func ParseEdgeKind(s string) (EdgeKind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return KindAssociation, nil
	}
	for _, k := range edgeKinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown edge kind %q", s))
}

// IsCardinality reports whether the kind is one of the persistence cardinalities
func (k EdgeKind) IsCardinality() bool {
	switch k {
	case KindOneToOne, KindOneToMany, KindManyToOne, KindManyToMany:
		return true
	}
	return false
}

// Edge connects two nodes of the same graph.
type Edge struct {
	id           valueobjects.EdgeID
	kind         EdgeKind
	sourceID     valueobjects.NodeID
	targetID     valueobjects.NodeID
	sourceAnchor valueobjects.Anchor
	targetAnchor valueobjects.Anchor
	label        string
	multiplicity valueobjects.Multiplicity
}

// NewEdge creates an edge between source and target
func NewEdge(id valueobjects.EdgeID, kind EdgeKind, source, target valueobjects.NodeID) (*Edge, error) {
	if id.IsZero() {
		return nil, pkgerrors.NewValidationError("edge id cannot be empty")
	}
	e := &Edge{id: id}
	if err := e.SetKind(kind); err != nil {
		return nil, err
	}
	if err := e.Reconnect(source, target); err != nil {
		return nil, err
	}
	return e, nil
}

// EdgeOptions carries the optional decorations of an edge
type EdgeOptions struct {
	SourceAnchor valueobjects.Anchor
	TargetAnchor valueobjects.Anchor
	Label        string
	Multiplicity valueobjects.Multiplicity
}

// ReconstructEdge builds an edge from stored or received data
func ReconstructEdge(id valueobjects.EdgeID, kind EdgeKind, source, target valueobjects.NodeID, opts EdgeOptions) (*Edge, error) {
	e, err := NewEdge(id, kind, source, target)
	if err != nil {
		return nil, err
	}
	e.SetAnchors(opts.SourceAnchor, opts.TargetAnchor)
	e.SetLabel(opts.Label)
	e.SetMultiplicity(opts.Multiplicity)
	return e, nil
}

func (e *Edge) ID() valueobjects.EdgeID                 { return e.id }
func (e *Edge) Kind() EdgeKind                          { return e.kind }
func (e *Edge) SourceID() valueobjects.NodeID           { return e.sourceID }
func (e *Edge) TargetID() valueobjects.NodeID           { return e.targetID }
func (e *Edge) SourceAnchor() valueobjects.Anchor       { return e.sourceAnchor }
func (e *Edge) TargetAnchor() valueobjects.Anchor       { return e.targetAnchor }
func (e *Edge) Label() string                           { return e.label }
func (e *Edge) Multiplicity() valueobjects.Multiplicity { return e.multiplicity }

// Touches reports whether the edge starts or ends at node
func (e *Edge) Touches(node valueobjects.NodeID) bool {
	return e.sourceID.Equals(node) || e.targetID.Equals(node)
}

// IsSelfLoop reports whether both ends attach to the same node
func (e *Edge) IsSelfLoop() bool {
	return e.sourceID.Equals(e.targetID)
}

// SetKind changes the relationship type
func (e *Edge) SetKind(kind EdgeKind) error {
	parsed, err := ParseEdgeKind(string(kind))
	if err != nil {
		return err
	}
	e.kind = parsed
	return nil
}

// Reconnect moves both ends of the edge
func (e *Edge) Reconnect(source, target valueobjects.NodeID) error {
	if source.IsZero() || target.IsZero() {
		return pkgerrors.NewValidationError("edge endpoints cannot be empty")
	}
	e.sourceID = source
	e.targetID = target
	return nil
}

// SetAnchors changes the connection handles
func (e *Edge) SetAnchors(source, target valueobjects.Anchor) {
	e.sourceAnchor = source
	e.targetAnchor = target
}

// SetLabel changes the label
func (e *Edge) SetLabel(label string) {
	e.label = strings.TrimSpace(label)
}

// SetMultiplicity changes the end multiplicities
func (e *Edge) SetMultiplicity(m valueobjects.Multiplicity) {
	e.multiplicity = m
}

// Clone returns a copy
func (e *Edge) Clone() *Edge {
	c := *e
	return &c
}
