// Package dto converts between the domain graph and its wire form.
package dto

import (
	"fmt"

	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/pkg/protocol"
)

// ItemError reports one wire item that could not be converted.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string { return fmt.Sprintf("%s: %v", e.ID, e.Err) }

func (e ItemError) Unwrap() error { return e.Err }

// NodeToWire converts a node to its wire form
func NodeToWire(n *entities.Node) protocol.Node {
	out := protocol.Node{
		ID:          n.ID().String(),
		Name:        n.Name(),
		Position:    protocol.Position{X: n.Position().X, Y: n.Position().Y},
		Attributes:  []protocol.Attribute{},
		Methods:     []protocol.Method{},
		Stereotypes: n.Tags(),
	}
	for _, a := range n.Attributes() {
		out.Attributes = append(out.Attributes, protocol.Attribute{
			ID:           a.ID,
			Name:         a.Name,
			Type:         a.Type,
			Multiplicity: a.Multiplicity,
			Stereotype:   a.Stereotype,
			Nullable:     a.Nullable,
			Unique:       a.Unique,
		})
	}
	for _, b := range n.Behaviors() {
		m := protocol.Method{
			ID:         b.ID,
			Name:       b.Name,
			ReturnType: b.ReturnType,
			Parameters: []protocol.Parameter{},
			Visibility: string(b.Visibility),
		}
		for _, p := range b.Parameters {
			m.Parameters = append(m.Parameters, protocol.Parameter{Name: p.Name, Type: p.Type})
		}
		out.Methods = append(out.Methods, m)
	}
	return out
}

// NodeFromWire converts a wire node, validating it against cfg
func NodeFromWire(in protocol.Node, cfg *config.DomainConfig) (*entities.Node, error) {
	id, err := valueobjects.NewNodeIDFromString(in.ID)
	if err != nil {
		return nil, err
	}

	attrs := make([]entities.Attribute, 0, len(in.Attributes))
	for _, a := range in.Attributes {
		attrs = append(attrs, entities.Attribute{
			ID:           a.ID,
			Name:         a.Name,
			Type:         a.Type,
			Multiplicity: a.Multiplicity,
			Stereotype:   a.Stereotype,
			Nullable:     a.Nullable,
			Unique:       a.Unique,
		})
	}

	behaviors := make([]entities.Behavior, 0, len(in.Methods))
	for _, m := range in.Methods {
		b := entities.Behavior{
			ID:         m.ID,
			Name:       m.Name,
			ReturnType: m.ReturnType,
			Visibility: entities.Visibility(m.Visibility),
		}
		for _, p := range m.Parameters {
			b.Parameters = append(b.Parameters, entities.Parameter{Name: p.Name, Type: p.Type})
		}
		behaviors = append(behaviors, b)
	}

	return entities.ReconstructNode(
		id,
		in.Name,
		valueobjects.Position{X: in.Position.X, Y: in.Position.Y},
		attrs,
		behaviors,
		in.Stereotypes,
		cfg,
	)
}

// EdgeToWire converts an edge to its wire form
func EdgeToWire(e *entities.Edge) protocol.Edge {
	out := protocol.Edge{
		ID:            e.ID().String(),
		Type:          string(e.Kind()),
		SourceClassID: e.SourceID().String(),
		TargetClassID: e.TargetID().String(),
		SourceHandle:  string(e.SourceAnchor()),
		TargetHandle:  string(e.TargetAnchor()),
		Name:          e.Label(),
	}
	if m := e.Multiplicity(); !m.IsZero() {
		out.Multiplicity = &protocol.Multiplicity{Source: m.Source, Target: m.Target}
	}
	return out
}

// EdgeFromWire converts a wire edge. Endpoint existence is checked by the graph.
func EdgeFromWire(in protocol.Edge) (*entities.Edge, error) {
	id, err := valueobjects.NewEdgeIDFromString(in.ID)
	if err != nil {
		return nil, err
	}
	source, err := valueobjects.NewNodeIDFromString(in.SourceClassID)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	target, err := valueobjects.NewNodeIDFromString(in.TargetClassID)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	kind, err := entities.ParseEdgeKind(in.Type)
	if err != nil {
		return nil, err
	}

	opts := entities.EdgeOptions{
		SourceAnchor: valueobjects.Anchor(in.SourceHandle),
		TargetAnchor: valueobjects.Anchor(in.TargetHandle),
		Label:        in.Name,
	}
	if in.Multiplicity != nil {
		opts.Multiplicity = valueobjects.Multiplicity{Source: in.Multiplicity.Source, Target: in.Multiplicity.Target}
	}
	return entities.ReconstructEdge(id, kind, source, target, opts)
}

// NodesToWire converts a node collection
func NodesToWire(nodes []*entities.Node) []protocol.Node {
	out := make([]protocol.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeToWire(n))
	}
	return out
}

// EdgesToWire converts an edge collection
func EdgesToWire(edges []*entities.Edge) []protocol.Edge {
	out := make([]protocol.Edge, 0, len(edges))
	for _, e := range edges {
		out = append(out, EdgeToWire(e))
	}
	return out
}

// NodesFromWire converts what it can and reports the rest
func NodesFromWire(in []protocol.Node, cfg *config.DomainConfig) ([]*entities.Node, []ItemError) {
	out := make([]*entities.Node, 0, len(in))
	var rejected []ItemError
	for _, w := range in {
		n, err := NodeFromWire(w, cfg)
		if err != nil {
			rejected = append(rejected, ItemError{ID: w.ID, Err: err})
			continue
		}
		out = append(out, n)
	}
	return out, rejected
}

// EdgesFromWire converts what it can and reports the rest
func EdgesFromWire(in []protocol.Edge) ([]*entities.Edge, []ItemError) {
	out := make([]*entities.Edge, 0, len(in))
	var rejected []ItemError
	for _, w := range in {
		e, err := EdgeFromWire(w)
		if err != nil {
			rejected = append(rejected, ItemError{ID: w.ID, Err: err})
			continue
		}
		out = append(out, e)
	}
	return out, rejected
}

// KindToWire maps an envelope kind to the diagram_change kind
func KindToWire(k aggregates.EnvelopeKind) string {
	switch k {
	case aggregates.EnvelopeNodes:
		return protocol.ChangeNodes
	case aggregates.EnvelopeEdges:
		return protocol.ChangeEdges
	default:
		return protocol.ChangeFull
	}
}

// KindFromWire maps a diagram_change kind to an envelope kind. Unknown
// values map to an invalid kind.
func KindFromWire(s string) aggregates.EnvelopeKind {
	switch s {
	case protocol.ChangeNodes:
		return aggregates.EnvelopeNodes
	case protocol.ChangeEdges:
		return aggregates.EnvelopeEdges
	case protocol.ChangeFull, "full":
		return aggregates.EnvelopeFull
	default:
		return aggregates.EnvelopeKind(s)
	}
}

// EnvelopeToWire converts an outbound envelope to a diagram_change payload
func EnvelopeToWire(env aggregates.ChangeEnvelope) protocol.DiagramChange {
	change := protocol.DiagramChange{
		DocumentID: env.DocumentID.String(),
		UserID:     env.OriginUserID,
		Changes:    protocol.Changes{Kind: KindToWire(env.Kind)},
	}
	if env.Kind.CarriesNodes() {
		change.Changes.Nodes = NodesToWire(env.Nodes)
	}
	if env.Kind.CarriesEdges() {
		change.Changes.Edges = EdgesToWire(env.Edges)
	}
	return change
}

// EnvelopeFromWire converts an inbound diagram_change. Items that fail
// conversion are left out of the envelope and reported.
func EnvelopeFromWire(in protocol.DiagramChange, cfg *config.DomainConfig) (aggregates.ChangeEnvelope, []ItemError, error) {
	doc, err := valueobjects.NewDocumentIDFromString(in.DocumentID)
	if err != nil {
		return aggregates.ChangeEnvelope{}, nil, fmt.Errorf("documentId: %w", err)
	}
	env := aggregates.ChangeEnvelope{
		DocumentID:   doc,
		OriginUserID: in.UserID,
		Kind:         KindFromWire(in.Changes.Kind),
	}

	var rejected []ItemError
	if env.Kind.CarriesNodes() {
		nodes, bad := NodesFromWire(in.Changes.Nodes, cfg)
		env.Nodes = nodes
		rejected = append(rejected, bad...)
	}
	if env.Kind.CarriesEdges() {
		edges, bad := EdgesFromWire(in.Changes.Edges)
		env.Edges = edges
		rejected = append(rejected, bad...)
	}
	return env, rejected, nil
}

// SnapshotToWire converts a snapshot to the save request body
func SnapshotToWire(s aggregates.Snapshot) protocol.SaveDocumentRequest {
	return protocol.SaveDocumentRequest{
		Nodes: NodesToWire(s.Nodes),
		Edges: EdgesToWire(s.Edges),
		Metadata: protocol.Metadata{
			LastModifiedAt: s.Metadata.LastModifiedAt,
			ModifiedBy:     s.Metadata.ModifiedBy,
		},
	}
}

// SnapshotFromWire converts a save request body. Invalid items are rejected
// as a whole because a save is a single caller request.
func SnapshotFromWire(id valueobjects.DocumentID, in protocol.SaveDocumentRequest, cfg *config.DomainConfig) (aggregates.Snapshot, error) {
	nodes, badNodes := NodesFromWire(in.Nodes, cfg)
	if len(badNodes) > 0 {
		return aggregates.Snapshot{}, fmt.Errorf("invalid node %w", badNodes[0])
	}
	edges, badEdges := EdgesFromWire(in.Edges)
	if len(badEdges) > 0 {
		return aggregates.Snapshot{}, fmt.Errorf("invalid edge %w", badEdges[0])
	}
	return aggregates.Snapshot{
		DocumentID: id,
		Nodes:      nodes,
		Edges:      edges,
		Metadata: aggregates.Metadata{
			LastModifiedAt: in.Metadata.LastModifiedAt,
			ModifiedBy:     in.Metadata.ModifiedBy,
		},
	}, nil
}

// DocumentToWire converts a document for GET responses
func DocumentToWire(d *aggregates.Document, checksum string) protocol.DocumentResponse {
	return protocol.DocumentResponse{
		ID:    d.ID().String(),
		Name:  d.Name(),
		Nodes: NodesToWire(d.Graph().Nodes()),
		Edges: EdgesToWire(d.Graph().Edges()),
		Metadata: protocol.Metadata{
			LastModifiedAt: d.Metadata().LastModifiedAt,
			ModifiedBy:     d.Metadata().ModifiedBy,
		},
		Version:   d.Version(),
		Checksum:  checksum,
		CreatedAt: d.CreatedAt(),
		UpdatedAt: d.UpdatedAt(),
	}
}

// DocumentFromWire rebuilds a document from a GET response. Invalid items
// and dangling edges are dropped.
func DocumentFromWire(in protocol.DocumentResponse, cfg *config.DomainConfig) (*aggregates.Document, []ItemError, error) {
	id, err := valueobjects.NewDocumentIDFromString(in.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("document id: %w", err)
	}
	nodes, badNodes := NodesFromWire(in.Nodes, cfg)
	edges, badEdges := EdgesFromWire(in.Edges)

	graph := aggregates.NewGraph(id.String(), cfg)
	if _, err := graph.ApplyFull(nodes, edges); err != nil {
		return nil, nil, err
	}
	graph.MarkEventsAsCommitted()

	doc := aggregates.ReconstructDocument(id, in.Name, graph, in.Version, in.CreatedAt, in.UpdatedAt, aggregates.Metadata{
		LastModifiedAt: in.Metadata.LastModifiedAt,
		ModifiedBy:     in.Metadata.ModifiedBy,
	})
	return doc, append(badNodes, badEdges...), nil
}
