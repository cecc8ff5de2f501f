package valueobjects

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const maxIDLength = 128

var (
	ErrEmptyID   = errors.New("identifier cannot be empty")
	ErrIDTooLong = errors.New("identifier exceeds 128 characters")
)

// NodeID identifies a node within one graph. Ids arrive from other
// participants, so any non-empty string is accepted.
type NodeID struct {
	value string
}

// NewNodeID creates a fresh NodeID of the form class-<uuid>
func NewNodeID() NodeID {
	return NodeID{value: "class-" + uuid.New().String()}
}

// NewNodeIDFromString creates a NodeID from an existing string
func NewNodeIDFromString(id string) (NodeID, error) {
	if err := checkID(id); err != nil {
		return NodeID{}, err
	}
	return NodeID{value: id}, nil
}

// MustNodeID panics on an invalid id. Intended for literals.
func MustNodeID(id string) NodeID {
	n, err := NewNodeIDFromString(id)
	if err != nil {
		panic(err)
	}
	return n
}

func (id NodeID) String() string { return id.value }

// Equals checks if two NodeIDs are equal
func (id NodeID) Equals(other NodeID) bool { return id.value == other.value }

// IsZero checks if the NodeID is the zero value
func (id NodeID) IsZero() bool { return id.value == "" }

// EdgeID identifies an edge within one graph.
type EdgeID struct {
	value string
}

// NewEdgeID creates a fresh EdgeID of the form edge-<uuid>
func NewEdgeID() EdgeID {
	return EdgeID{value: "edge-" + uuid.New().String()}
}

// NewEdgeIDFromString creates an EdgeID from an existing string
func NewEdgeIDFromString(id string) (EdgeID, error) {
	if err := checkID(id); err != nil {
		return EdgeID{}, err
	}
	return EdgeID{value: id}, nil
}

// MustEdgeID panics on an invalid id. Intended for literals.
func MustEdgeID(id string) EdgeID {
	e, err := NewEdgeIDFromString(id)
	if err != nil {
		panic(err)
	}
	return e
}

func (id EdgeID) String() string { return id.value }

func (id EdgeID) Equals(other EdgeID) bool { return id.value == other.value }

func (id EdgeID) IsZero() bool { return id.value == "" }

// DocumentID identifies a persisted diagram and its collaboration room.
type DocumentID struct {
	value string
}

// NewDocumentID creates a random DocumentID
func NewDocumentID() DocumentID {
	return DocumentID{value: uuid.New().String()}
}

// NewDocumentIDFromString creates a DocumentID from an existing string
func NewDocumentIDFromString(id string) (DocumentID, error) {
	if err := checkID(id); err != nil {
		return DocumentID{}, err
	}
	return DocumentID{value: id}, nil
}

// MustDocumentID panics on an invalid id. Intended for literals.
func MustDocumentID(id string) DocumentID {
	d, err := NewDocumentIDFromString(id)
	if err != nil {
		panic(err)
	}
	return d
}

func (id DocumentID) String() string { return id.value }

func (id DocumentID) Equals(other DocumentID) bool { return id.value == other.value }

func (id DocumentID) IsZero() bool { return id.value == "" }

// MarshalText implements encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(b []byte) error { return unmarshalID(b, &id.value) }

func (id EdgeID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

func (id *EdgeID) UnmarshalText(b []byte) error { return unmarshalID(b, &id.value) }

func (id DocumentID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

func (id *DocumentID) UnmarshalText(b []byte) error { return unmarshalID(b, &id.value) }

func unmarshalID(b []byte, dst *string) error {
	if len(b) == 0 {
		*dst = ""
		return nil
	}
	if err := checkID(string(b)); err != nil {
		return err
	}
	*dst = string(b)
	return nil
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	if len(id) > maxIDLength {
		return ErrIDTooLong
	}
	return nil
}
