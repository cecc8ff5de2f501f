// Package mutation turns user intents into graph changes on the local
// replica. Every accepted intent marks the document dirty and produces
// exactly one outbound envelope, except that drag moves are coalesced.
package mutation

import (
	"errors"
	"time"

	"diagramsync/application/replica"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/utils"

	"go.uber.org/zap"
)

// Broadcaster sends an envelope to the other participants. It must not
// block: it is called while the replica is locked.
type Broadcaster interface {
	Broadcast(env aggregates.ChangeEnvelope)
}

// DirtyMarker is told whenever the replica holds unsaved local changes
type DirtyMarker interface {
	MarkDirty()
}

// NodeSpec describes a node to create. Zero fields take defaults.
type NodeSpec struct {
	ID         string
	Name       string
	Position   valueobjects.Position
	Attributes []entities.Attribute
	Behaviors  []entities.Behavior
	Tags       []string
}

// EdgeSpec describes an edge to create. Zero fields take defaults.
type EdgeSpec struct {
	ID           string
	Kind         entities.EdgeKind
	Source       valueobjects.NodeID
	Target       valueobjects.NodeID
	SourceAnchor valueobjects.Anchor
	TargetAnchor valueobjects.Anchor
	Label        string
	Multiplicity valueobjects.Multiplicity
}

// Layer applies local intents optimistically
type Layer struct {
	replica     *replica.Replica
	userID      string
	broadcaster Broadcaster
	dirty       DirtyMarker
	config      *config.DomainConfig
	reposition  *utils.Debouncer
	logger      *zap.Logger
}

// NewLayer creates a mutation layer acting for userID
func NewLayer(
	r *replica.Replica,
	userID string,
	broadcaster Broadcaster,
	dirty DirtyMarker,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *Layer {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{
		replica:     r,
		userID:      userID,
		broadcaster: broadcaster,
		dirty:       dirty,
		config:      cfg,
		reposition:  utils.NewDebouncer(cfg.RepositionQuiescence),
		logger:      logger.With(zap.String("userId", userID)),
	}
}

// CreateNode adds a node. A new class gets a generated id, the default name
// and the identity attribute unless NodeSpec sets them.
func (l *Layer) CreateNode(spec NodeSpec) (*entities.Node, error) {
	node, err := l.buildNode(spec)
	if err != nil {
		return nil, err
	}
	err = l.change(aggregates.EnvelopeNodes, func(g *aggregates.Graph) error {
		return g.AddNode(node)
	})
	if err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// RenameNode changes the display name of a node
func (l *Layer) RenameNode(id valueobjects.NodeID, name string) error {
	return l.EditNode(id, func(n *entities.Node) error {
		return n.Rename(name)
	})
}

// EditNode replaces a node with the result of fn applied to a copy of it
func (l *Layer) EditNode(id valueobjects.NodeID, fn func(*entities.Node) error) error {
	return l.change(aggregates.EnvelopeNodes, func(g *aggregates.Graph) error {
		return g.UpdateNode(id, fn)
	})
}

// DeleteNode removes a node together with every edge touching it. Both
// collections travel in one full envelope.
func (l *Layer) DeleteNode(id valueobjects.NodeID) error {
	return l.change(aggregates.EnvelopeFull, func(g *aggregates.Graph) error {
		removed, err := g.RemoveNode(id)
		if err == nil && len(removed) > 0 {
			l.logger.Debug("Cascaded edge removal",
				zap.String("nodeId", id.String()),
				zap.Int("edgeCount", len(removed)),
			)
		}
		return err
	})
}

// Connect adds an edge between two existing nodes
func (l *Layer) Connect(spec EdgeSpec) (*entities.Edge, error) {
	edge, err := l.buildEdge(spec)
	if err != nil {
		return nil, err
	}
	err = l.change(aggregates.EnvelopeEdges, func(g *aggregates.Graph) error {
		return g.AddEdge(edge)
	})
	if err != nil {
		return nil, err
	}
	return edge.Clone(), nil
}

// EditEdge replaces an edge with the result of fn applied to a copy of it
func (l *Layer) EditEdge(id valueobjects.EdgeID, fn func(*entities.Edge) error) error {
	return l.change(aggregates.EnvelopeEdges, func(g *aggregates.Graph) error {
		return g.UpdateEdge(id, fn)
	})
}

// DeleteEdge removes an edge
func (l *Layer) DeleteEdge(id valueobjects.EdgeID) error {
	return l.change(aggregates.EnvelopeEdges, func(g *aggregates.Graph) error {
		return g.RemoveEdge(id)
	})
}

// Reposition moves a node locally. Intermediate moves of a drag are applied
// without telling anyone; the drag end arms the quiescence window, and any
// further move while it is armed restarts it. When the window closes the
// node collection is broadcast once and the document marked dirty.
func (l *Layer) Reposition(id valueobjects.NodeID, position valueobjects.Position, dragging bool) error {
	err := l.replica.Do(func(doc *aggregates.Document) error {
		return doc.Graph().UpdateNode(id, func(n *entities.Node) error {
			return n.MoveTo(position)
		})
	})
	if err != nil {
		return translate(err)
	}

	if !dragging || l.reposition.Pending() {
		l.reposition.Trigger(l.publishPositions)
	}
	return nil
}

// RepositionPending reports whether a coalesced move is waiting to go out
func (l *Layer) RepositionPending() bool {
	return l.reposition.Pending()
}

// FlushReposition publishes a pending coalesced move immediately
func (l *Layer) FlushReposition() bool {
	return l.reposition.Flush()
}

// ApplyGenerated appends a generated subgraph to the replica. Ids already
// present reject the whole subgraph; edges whose endpoints are in neither
// the replica nor the subgraph are dropped.
func (l *Layer) ApplyGenerated(nodes []*entities.Node, edges []*entities.Edge) (aggregates.ReplaceResult, error) {
	var result aggregates.ReplaceResult
	err := l.change(aggregates.EnvelopeFull, func(g *aggregates.Graph) error {
		for _, n := range nodes {
			if n != nil && g.HasNode(n.ID()) {
				return pkgerrors.NewConflictError("generated node id already exists").
					WithDetail("nodeId", n.ID().String())
			}
		}
		for _, e := range edges {
			if e == nil {
				continue
			}
			if _, exists := g.Edge(e.ID()); exists {
				return pkgerrors.NewConflictError("generated edge id already exists").
					WithDetail("edgeId", e.ID().String())
			}
		}

		var err error
		result, err = g.ApplyFull(append(g.Nodes(), nodes...), append(g.Edges(), edges...))
		return err
	})
	if err != nil {
		return aggregates.ReplaceResult{}, err
	}
	if len(result.Dropped) > 0 {
		l.logger.Warn("Dropped generated edges with missing endpoints",
			zap.Int("dropped", len(result.Dropped)),
		)
	}
	return result, nil
}

// Close cancels a pending coalesced move
func (l *Layer) Close() {
	if l.reposition.Cancel() {
		l.logger.Debug("Cancelled pending reposition broadcast")
	}
	l.reposition.Stop()
}

// change applies fn to the replica graph and, on success, broadcasts the
// collections named by kind and marks the document dirty. A node-carrying
// broadcast already contains every pending position.
func (l *Layer) change(kind aggregates.EnvelopeKind, fn func(g *aggregates.Graph) error) error {
	err := l.replica.Do(func(doc *aggregates.Document) error {
		if err := fn(doc.Graph()); err != nil {
			return err
		}
		if kind.CarriesNodes() {
			l.reposition.Cancel()
		}
		l.broadcaster.Broadcast(aggregates.NewEnvelope(doc.ID(), l.userID, kind, doc.Graph()))
		return nil
	})
	if err != nil {
		return translate(err)
	}
	l.dirty.MarkDirty()
	return nil
}

func (l *Layer) publishPositions() {
	start := time.Now()
	l.replica.Do(func(doc *aggregates.Document) error {
		l.broadcaster.Broadcast(aggregates.NewEnvelope(doc.ID(), l.userID, aggregates.EnvelopeNodes, doc.Graph()))
		return nil
	})
	l.dirty.MarkDirty()
	l.logger.Debug("Published coalesced reposition", zap.Duration("duration", time.Since(start)))
}

func (l *Layer) buildNode(spec NodeSpec) (*entities.Node, error) {
	id := valueobjects.NewNodeID()
	if spec.ID != "" {
		var err error
		if id, err = valueobjects.NewNodeIDFromString(spec.ID); err != nil {
			return nil, pkgerrors.NewValidationError(err.Error()).WithDetail("field", "id")
		}
	}
	name := spec.Name
	if name == "" {
		name = l.config.DefaultNodeName
	}
	attributes := spec.Attributes
	if attributes == nil {
		attributes = []entities.Attribute{entities.IdentityAttribute()}
	}
	return entities.ReconstructNode(id, name, spec.Position, attributes, spec.Behaviors, spec.Tags, l.config)
}

func (l *Layer) buildEdge(spec EdgeSpec) (*entities.Edge, error) {
	id := valueobjects.NewEdgeID()
	if spec.ID != "" {
		var err error
		if id, err = valueobjects.NewEdgeIDFromString(spec.ID); err != nil {
			return nil, pkgerrors.NewValidationError(err.Error()).WithDetail("field", "id")
		}
	}
	kind := spec.Kind
	if kind == "" {
		kind = entities.KindAssociation
	}
	label := spec.Label
	if label == "" {
		label = l.config.DefaultEdgeLabel
	}
	return entities.ReconstructEdge(id, kind, spec.Source, spec.Target, entities.EdgeOptions{
		SourceAnchor: spec.SourceAnchor,
		TargetAnchor: spec.TargetAnchor,
		Label:        label,
		Multiplicity: spec.Multiplicity,
	})
}

// translate maps graph sentinels to typed application errors
func translate(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.GetAppError(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, aggregates.ErrNodeNotFound):
		return pkgerrors.NewNotFoundError("node").WithCause(err)
	case errors.Is(err, aggregates.ErrEdgeNotFound):
		return pkgerrors.NewNotFoundError("edge").WithCause(err)
	case errors.Is(err, aggregates.ErrNodeExists), errors.Is(err, aggregates.ErrEdgeExists):
		return pkgerrors.NewConflictError(err.Error()).WithCause(err)
	case errors.Is(err, aggregates.ErrDanglingEdge),
		errors.Is(err, aggregates.ErrSelfLoop),
		errors.Is(err, aggregates.ErrMaxNodes),
		errors.Is(err, aggregates.ErrMaxEdges),
		errors.Is(err, aggregates.ErrIdentityChanged),
		errors.Is(err, aggregates.ErrNilEntity):
		return pkgerrors.NewValidationError(err.Error()).WithCause(err)
	default:
		return pkgerrors.NewInternalError(err.Error()).WithCause(err)
	}
}
