package aggregates

import (
	"errors"
	"sort"
	"time"

	"diagramsync/domain/config"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/events"
)

var (
	ErrNodeExists      = errors.New("node already exists in graph")
	ErrNodeNotFound    = errors.New("node not found")
	ErrEdgeExists      = errors.New("edge already exists in graph")
	ErrEdgeNotFound    = errors.New("edge not found")
	ErrDanglingEdge    = errors.New("edge references a node that is not in the graph")
	ErrSelfLoop        = errors.New("edge cannot connect a node to itself")
	ErrMaxNodes        = errors.New("maximum nodes reached")
	ErrMaxEdges        = errors.New("maximum edges reached")
	ErrIdentityChanged = errors.New("mutator changed the identity")
	ErrNilEntity       = errors.New("entity cannot be nil")
)

// Graph holds the classes and relationships of one document. Every edge
// endpoint refers to a node of the same graph; operations that would break
// this drop the offending edges.
type Graph struct {
	id      string
	nodes   map[valueobjects.NodeID]*entities.Node
	edges   map[valueobjects.EdgeID]*entities.Edge
	config  *config.DomainConfig
	version int
	events  []events.DomainEvent
}

// ReplaceResult describes the outcome of a total replacement.
type ReplaceResult struct {
	NodeCount int
	EdgeCount int
	// Dropped lists incoming edges rejected for a missing endpoint.
	Dropped []valueobjects.EdgeID
	// Pruned lists existing edges removed because their endpoint left.
	Pruned []valueobjects.EdgeID
}

// NewGraph creates an empty graph. A nil cfg uses the defaults.
func NewGraph(id string, cfg *config.DomainConfig) *Graph {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Graph{
		id:     id,
		nodes:  make(map[valueobjects.NodeID]*entities.Node),
		edges:  make(map[valueobjects.EdgeID]*entities.Edge),
		config: cfg,
	}
}

// ID returns the identifier of the owning document
func (g *Graph) ID() string { return g.id }

// Version counts local changes since the graph was created
func (g *Graph) Version() int { return g.version }

// Config returns the limits the graph enforces
func (g *Graph) Config() *config.DomainConfig { return g.config }

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return len(g.edges) }

// HasNode checks if a node exists in the graph
func (g *Graph) HasNode(id valueobjects.NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns a copy of the node with the given id
func (g *Graph) Node(id valueobjects.NodeID) (*entities.Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Edge returns a copy of the edge with the given id
func (g *Graph) Edge(id valueobjects.EdgeID) (*entities.Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Nodes returns copies of all nodes ordered by id
func (g *Graph) Nodes() []*entities.Node {
	out := make([]*entities.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

// Edges returns copies of all edges ordered by id
func (g *Graph) Edges() []*entities.Edge {
	out := make([]*entities.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

// ApplyNodeSet replaces the node collection. Existing edges whose endpoints
// are no longer present are pruned.
func (g *Graph) ApplyNodeSet(nodes []*entities.Node) (ReplaceResult, error) {
	next, err := g.collectNodes(nodes)
	if err != nil {
		return ReplaceResult{}, err
	}

	now := time.Now()
	g.nodes = next
	g.version++

	var pruned []valueobjects.EdgeID
	for _, e := range g.sortedEdges() {
		missing, ok := g.missingEndpoint(e)
		if ok {
			continue
		}
		delete(g.edges, e.ID())
		pruned = append(pruned, e.ID())
		g.addEvent(events.NewCascadedEdgeRemoved(g.id, g.version, e.ID(), missing, now))
	}
	g.addEvent(events.NewNodesReplaced(g.id, g.version, len(g.nodes), now))

	return ReplaceResult{NodeCount: len(g.nodes), EdgeCount: len(g.edges), Pruned: pruned}, nil
}

// ApplyEdgeSet replaces the edge collection. Incoming edges with a missing
// endpoint are dropped.
func (g *Graph) ApplyEdgeSet(edges []*entities.Edge) (ReplaceResult, error) {
	now := time.Now()
	next, dropped, err := g.collectEdges(edges, g.nodes, now)
	if err != nil {
		return ReplaceResult{}, err
	}

	g.edges = next
	g.version++
	g.addEvent(events.NewEdgesReplaced(g.id, g.version, len(g.edges), now))

	return ReplaceResult{NodeCount: len(g.nodes), EdgeCount: len(g.edges), Dropped: dropped}, nil
}

// ApplyFull replaces both collections in one step. Incoming edges are
// checked against the incoming nodes.
func (g *Graph) ApplyFull(nodes []*entities.Node, edges []*entities.Edge) (ReplaceResult, error) {
	nextNodes, err := g.collectNodes(nodes)
	if err != nil {
		return ReplaceResult{}, err
	}
	now := time.Now()
	nextEdges, dropped, err := g.collectEdges(edges, nextNodes, now)
	if err != nil {
		return ReplaceResult{}, err
	}

	g.nodes = nextNodes
	g.edges = nextEdges
	g.version++
	g.addEvent(events.NewNodesReplaced(g.id, g.version, len(g.nodes), now))
	g.addEvent(events.NewEdgesReplaced(g.id, g.version, len(g.edges), now))

	return ReplaceResult{NodeCount: len(g.nodes), EdgeCount: len(g.edges), Dropped: dropped}, nil
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node *entities.Node) error {
	if node == nil {
		return ErrNilEntity
	}
	if _, exists := g.nodes[node.ID()]; exists {
		return ErrNodeExists
	}
	if len(g.nodes) >= g.config.MaxNodesPerGraph {
		return ErrMaxNodes
	}

	now := time.Now()
	g.nodes[node.ID()] = node.Clone()
	g.version++
	g.addEvent(events.NewNodeAdded(g.id, g.version, node.ID(), node.Name(), now))
	return nil
}

// RemoveNode removes a node and every edge touching it. The ids of the
// cascaded edges are returned.
func (g *Graph) RemoveNode(id valueobjects.NodeID) ([]valueobjects.EdgeID, error) {
	if _, exists := g.nodes[id]; !exists {
		return nil, ErrNodeNotFound
	}

	now := time.Now()
	delete(g.nodes, id)
	g.version++
	g.addEvent(events.NewNodeRemoved(g.id, g.version, id, now))

	var removed []valueobjects.EdgeID
	for _, e := range g.sortedEdges() {
		if !e.Touches(id) {
			continue
		}
		delete(g.edges, e.ID())
		removed = append(removed, e.ID())
		g.addEvent(events.NewCascadedEdgeRemoved(g.id, g.version, e.ID(), id, now))
	}
	return removed, nil
}

// UpdateNode replaces a node with the result of applying fn to a copy of it.
// The node is left untouched if fn fails or changes the id.
func (g *Graph) UpdateNode(id valueobjects.NodeID, fn func(*entities.Node) error) error {
	current, exists := g.nodes[id]
	if !exists {
		return ErrNodeNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if !next.ID().Equals(id) {
		return ErrIdentityChanged
	}

	now := time.Now()
	g.nodes[id] = next
	g.version++
	g.addEvent(events.NewNodeUpdated(g.id, g.version, id, now))
	return nil
}

// AddEdge adds an edge. Both endpoints must already be in the graph.
func (g *Graph) AddEdge(edge *entities.Edge) error {
	if edge == nil {
		return ErrNilEntity
	}
	if _, exists := g.edges[edge.ID()]; exists {
		return ErrEdgeExists
	}
	if err := g.checkEdge(edge, g.nodes); err != nil {
		return err
	}
	if len(g.edges) >= g.config.MaxEdgesPerGraph {
		return ErrMaxEdges
	}

	now := time.Now()
	g.edges[edge.ID()] = edge.Clone()
	g.version++
	g.addEvent(events.NewEdgeAdded(g.id, g.version, edge.ID(), edge.SourceID(), edge.TargetID(), now))
	return nil
}

// RemoveEdge removes an edge from the graph
func (g *Graph) RemoveEdge(id valueobjects.EdgeID) error {
	if _, exists := g.edges[id]; !exists {
		return ErrEdgeNotFound
	}

	now := time.Now()
	delete(g.edges, id)
	g.version++
	g.addEvent(events.NewEdgeRemoved(g.id, g.version, id, now))
	return nil
}

// UpdateEdge replaces an edge with the result of applying fn to a copy of it.
// The result must still reference existing nodes.
func (g *Graph) UpdateEdge(id valueobjects.EdgeID, fn func(*entities.Edge) error) error {
	current, exists := g.edges[id]
	if !exists {
		return ErrEdgeNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if !next.ID().Equals(id) {
		return ErrIdentityChanged
	}
	if err := g.checkEdge(next, g.nodes); err != nil {
		return err
	}

	now := time.Now()
	g.edges[id] = next
	g.version++
	g.addEvent(events.NewEdgeUpdated(g.id, g.version, id, now))
	return nil
}

// Validate ensures graph invariants
func (g *Graph) Validate() error {
	for _, e := range g.edges {
		if err := g.checkEdge(e, g.nodes); err != nil {
			return err
		}
	}
	if len(g.nodes) > g.config.MaxNodesPerGraph {
		return ErrMaxNodes
	}
	if len(g.edges) > g.config.MaxEdgesPerGraph {
		return ErrMaxEdges
	}
	return nil
}

// Clone returns a deep copy without pending events
func (g *Graph) Clone() *Graph {
	c := NewGraph(g.id, g.config)
	c.version = g.version
	for id, n := range g.nodes {
		c.nodes[id] = n.Clone()
	}
	for id, e := range g.edges {
		c.edges[id] = e.Clone()
	}
	return c
}

// GetUncommittedEvents returns all uncommitted domain events
func (g *Graph) GetUncommittedEvents() []events.DomainEvent {
	out := make([]events.DomainEvent, len(g.events))
	copy(out, g.events)
	return out
}

// MarkEventsAsCommitted clears all uncommitted events
func (g *Graph) MarkEventsAsCommitted() {
	g.events = nil
}

// Private helper methods

func (g *Graph) addEvent(event events.DomainEvent) {
	g.events = append(g.events, event)
}

// collectNodes keys nodes by id, the last duplicate winning.
func (g *Graph) collectNodes(nodes []*entities.Node) (map[valueobjects.NodeID]*entities.Node, error) {
	next := make(map[valueobjects.NodeID]*entities.Node, len(nodes))
	for _, n := range nodes {
		if n == nil || n.ID().IsZero() {
			continue
		}
		next[n.ID()] = n.Clone()
	}
	if len(next) > g.config.MaxNodesPerGraph {
		return nil, ErrMaxNodes
	}
	return next, nil
}

// collectEdges keys edges by id against the given node set. Edges with a
// missing endpoint, or self loops when disallowed, are dropped.
func (g *Graph) collectEdges(
	edges []*entities.Edge,
	nodes map[valueobjects.NodeID]*entities.Node,
	now time.Time,
) (map[valueobjects.EdgeID]*entities.Edge, []valueobjects.EdgeID, error) {
	next := make(map[valueobjects.EdgeID]*entities.Edge, len(edges))
	var dropped []valueobjects.EdgeID
	for _, e := range edges {
		if e == nil || e.ID().IsZero() {
			continue
		}
		if err := g.checkEdge(e, nodes); err != nil {
			delete(next, e.ID())
			dropped = append(dropped, e.ID())
			g.addEvent(events.NewEdgeDropped(g.id, g.version, e.ID(), e.SourceID(), e.TargetID(), now))
			continue
		}
		next[e.ID()] = e.Clone()
	}
	if len(next) > g.config.MaxEdgesPerGraph {
		return nil, nil, ErrMaxEdges
	}
	return next, dropped, nil
}

func (g *Graph) checkEdge(e *entities.Edge, nodes map[valueobjects.NodeID]*entities.Node) error {
	if _, ok := nodes[e.SourceID()]; !ok {
		return ErrDanglingEdge
	}
	if _, ok := nodes[e.TargetID()]; !ok {
		return ErrDanglingEdge
	}
	if e.IsSelfLoop() && !g.config.AllowSelfLoops {
		return ErrSelfLoop
	}
	return nil
}

// missingEndpoint returns the first endpoint of e absent from the graph.
// ok is true when both endpoints are present.
func (g *Graph) missingEndpoint(e *entities.Edge) (valueobjects.NodeID, bool) {
	if _, found := g.nodes[e.SourceID()]; !found {
		return e.SourceID(), false
	}
	if _, found := g.nodes[e.TargetID()]; !found {
		return e.TargetID(), false
	}
	return valueobjects.NodeID{}, true
}

func (g *Graph) sortedEdges() []*entities.Edge {
	out := make([]*entities.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}
