package events

import (
	"time"

	"diagramsync/domain/core/valueobjects"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregateId"`
	EventType   string    `json:"eventType"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

func newBase(aggregateID, eventType string, version int, at time.Time) BaseEvent {
	return BaseEvent{AggregateID: aggregateID, EventType: eventType, Timestamp: at, Version: version}
}

// Event type names
const (
	TypeNodeAdded       = "node.added"
	TypeNodeUpdated     = "node.updated"
	TypeNodeRemoved     = "node.removed"
	TypeEdgeAdded       = "edge.added"
	TypeEdgeUpdated     = "edge.updated"
	TypeEdgeRemoved     = "edge.removed"
	TypeEdgeDropped     = "edge.dropped"
	TypeNodesReplaced   = "graph.nodes_replaced"
	TypeEdgesReplaced   = "graph.edges_replaced"
	TypeDocumentSaved   = "document.saved"
	TypeDocumentCreated = "document.created"
	TypeDocumentDeleted = "document.deleted"
)

// Graph events

// NodeAdded is raised when a node enters the graph
type NodeAdded struct {
	BaseEvent
	NodeID valueobjects.NodeID `json:"nodeId"`
	Name   string              `json:"name"`
}

// NewNodeAdded creates a NodeAdded event
func NewNodeAdded(graphID string, version int, nodeID valueobjects.NodeID, name string, at time.Time) NodeAdded {
	return NodeAdded{BaseEvent: newBase(graphID, TypeNodeAdded, version, at), NodeID: nodeID, Name: name}
}

// NodeUpdated is raised when a node is replaced in place
type NodeUpdated struct {
	BaseEvent
	NodeID valueobjects.NodeID `json:"nodeId"`
}

// NewNodeUpdated creates a NodeUpdated event
func NewNodeUpdated(graphID string, version int, nodeID valueobjects.NodeID, at time.Time) NodeUpdated {
	return NodeUpdated{BaseEvent: newBase(graphID, TypeNodeUpdated, version, at), NodeID: nodeID}
}

// NodeRemoved is raised when a node leaves the graph
type NodeRemoved struct {
	BaseEvent
	NodeID valueobjects.NodeID `json:"nodeId"`
}

// NewNodeRemoved creates a NodeRemoved event
func NewNodeRemoved(graphID string, version int, nodeID valueobjects.NodeID, at time.Time) NodeRemoved {
	return NodeRemoved{BaseEvent: newBase(graphID, TypeNodeRemoved, version, at), NodeID: nodeID}
}

// EdgeAdded is raised when an edge enters the graph
type EdgeAdded struct {
	BaseEvent
	EdgeID   valueobjects.EdgeID `json:"edgeId"`
	SourceID valueobjects.NodeID `json:"sourceId"`
	TargetID valueobjects.NodeID `json:"targetId"`
}

// NewEdgeAdded creates an EdgeAdded event
func NewEdgeAdded(graphID string, version int, edgeID valueobjects.EdgeID, source, target valueobjects.NodeID, at time.Time) EdgeAdded {
	return EdgeAdded{BaseEvent: newBase(graphID, TypeEdgeAdded, version, at), EdgeID: edgeID, SourceID: source, TargetID: target}
}

// EdgeUpdated is raised when an edge is replaced in place
type EdgeUpdated struct {
	BaseEvent
	EdgeID valueobjects.EdgeID `json:"edgeId"`
}

// NewEdgeUpdated creates an EdgeUpdated event
func NewEdgeUpdated(graphID string, version int, edgeID valueobjects.EdgeID, at time.Time) EdgeUpdated {
	return EdgeUpdated{BaseEvent: newBase(graphID, TypeEdgeUpdated, version, at), EdgeID: edgeID}
}

// EdgeRemoved is raised when an edge leaves the graph. Derived is set when
// the removal cascaded from a node removal.
type EdgeRemoved struct {
	BaseEvent
	EdgeID  valueobjects.EdgeID `json:"edgeId"`
	Derived bool                `json:"derived"`
	Cause   valueobjects.NodeID `json:"cause,omitempty"`
}

// NewEdgeRemoved creates an explicit EdgeRemoved event
func NewEdgeRemoved(graphID string, version int, edgeID valueobjects.EdgeID, at time.Time) EdgeRemoved {
	return EdgeRemoved{BaseEvent: newBase(graphID, TypeEdgeRemoved, version, at), EdgeID: edgeID}
}

// NewCascadedEdgeRemoved creates the EdgeRemoved event derived from removing node
func NewCascadedEdgeRemoved(graphID string, version int, edgeID valueobjects.EdgeID, node valueobjects.NodeID, at time.Time) EdgeRemoved {
	e := NewEdgeRemoved(graphID, version, edgeID, at)
	e.Derived = true
	e.Cause = node
	return e
}

// EdgeDropped is raised when an incoming edge referenced a node that does not exist
type EdgeDropped struct {
	BaseEvent
	EdgeID   valueobjects.EdgeID `json:"edgeId"`
	SourceID valueobjects.NodeID `json:"sourceId"`
	TargetID valueobjects.NodeID `json:"targetId"`
}

// NewEdgeDropped creates an EdgeDropped event
func NewEdgeDropped(graphID string, version int, edgeID valueobjects.EdgeID, source, target valueobjects.NodeID, at time.Time) EdgeDropped {
	return EdgeDropped{BaseEvent: newBase(graphID, TypeEdgeDropped, version, at), EdgeID: edgeID, SourceID: source, TargetID: target}
}

// NodesReplaced is raised when the whole node collection is replaced
type NodesReplaced struct {
	BaseEvent
	NodeCount int `json:"nodeCount"`
}

// NewNodesReplaced creates a NodesReplaced event
func NewNodesReplaced(graphID string, version int, count int, at time.Time) NodesReplaced {
	return NodesReplaced{BaseEvent: newBase(graphID, TypeNodesReplaced, version, at), NodeCount: count}
}

// EdgesReplaced is raised when the whole edge collection is replaced
type EdgesReplaced struct {
	BaseEvent
	EdgeCount int `json:"edgeCount"`
}

// NewEdgesReplaced creates an EdgesReplaced event
func NewEdgesReplaced(graphID string, version int, count int, at time.Time) EdgesReplaced {
	return EdgesReplaced{BaseEvent: newBase(graphID, TypeEdgesReplaced, version, at), EdgeCount: count}
}

// Document events

// DocumentCreated is raised by the persistence service for a new empty document
type DocumentCreated struct {
	BaseEvent
	DocumentID valueobjects.DocumentID `json:"documentId"`
	Name       string                  `json:"name"`
	CreatedBy  string                  `json:"createdBy"`
}

// NewDocumentCreated creates a DocumentCreated event
func NewDocumentCreated(id valueobjects.DocumentID, name, createdBy string, at time.Time) DocumentCreated {
	return DocumentCreated{
		BaseEvent:  newBase(id.String(), TypeDocumentCreated, 0, at),
		DocumentID: id,
		Name:       name,
		CreatedBy:  createdBy,
	}
}

// DocumentSaved is raised after a snapshot has been durably written
type DocumentSaved struct {
	BaseEvent
	DocumentID valueobjects.DocumentID `json:"documentId"`
	ModifiedBy string                  `json:"modifiedBy"`
	NodeCount  int                     `json:"nodeCount"`
	EdgeCount  int                     `json:"edgeCount"`
	Checksum   string                  `json:"checksum"`
}

// NewDocumentSaved creates a DocumentSaved event
func NewDocumentSaved(id valueobjects.DocumentID, version int, modifiedBy string, nodes, edges int, checksum string, at time.Time) DocumentSaved {
	return DocumentSaved{
		BaseEvent:  newBase(id.String(), TypeDocumentSaved, version, at),
		DocumentID: id,
		ModifiedBy: modifiedBy,
		NodeCount:  nodes,
		EdgeCount:  edges,
		Checksum:   checksum,
	}
}

// DocumentDeleted is raised after a document has been removed
type DocumentDeleted struct {
	BaseEvent
	DocumentID valueobjects.DocumentID `json:"documentId"`
	DeletedBy  string                  `json:"deletedBy"`
}

// NewDocumentDeleted creates a DocumentDeleted event
func NewDocumentDeleted(id valueobjects.DocumentID, deletedBy string, at time.Time) DocumentDeleted {
	return DocumentDeleted{BaseEvent: newBase(id.String(), TypeDocumentDeleted, 0, at), DocumentID: id, DeletedBy: deletedBy}
}
