// Package protocol defines the JSON messages exchanged between editing
// clients, the collaboration server and the persistence API.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Channel event names
const (
	EventJoinDiagram   = "join_diagram"
	EventLeaveDiagram  = "leave_diagram"
	EventDiagramChange = "diagram_change"
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventError         = "error"
)

// Change kinds carried by diagram_change
const (
	ChangeNodes = "nodes"
	ChangeEdges = "edges"
	ChangeFull  = "full_update"
)

var ErrMissingEvent = errors.New("frame has no event name")

// Frame is one message on the channel: an event name and its payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes payload as the data of a frame
func NewFrame(event string, payload interface{}) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame data into v
func (f Frame) Decode(v interface{}) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", f.Event, err)
	}
	return nil
}

// Marshal encodes the frame for the wire
func (f Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// ParseFrame decodes one wire message
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, ErrMissingEvent
	}
	return f, nil
}

// JoinDiagram asks to enter the room of a document
type JoinDiagram struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
}

// LeaveDiagram leaves the room of a document
type LeaveDiagram struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

// DiagramChange carries a full replacement of one or both collections
type DiagramChange struct {
	DocumentID string  `json:"documentId"`
	UserID     string  `json:"userId"`
	Changes    Changes `json:"changes"`
}

// Changes is the payload of a DiagramChange
type Changes struct {
	Kind  string `json:"kind"`
	Nodes []Node `json:"nodes,omitempty"`
	Edges []Edge `json:"edges,omitempty"`
}

// UnmarshalJSON also accepts the legacy "type" key for the kind.
func (c *Changes) UnmarshalJSON(data []byte) error {
	type plain Changes
	var aux struct {
		plain
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Changes(aux.plain)
	if c.Kind == "" {
		c.Kind = aux.Type
	}
	return nil
}

// UserJoined announces a participant to the rest of the room
type UserJoined struct {
	DocumentID string `json:"documentId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	UserName   string `json:"userName"`
}

// UserLeft announces a departure to the rest of the room
type UserLeft struct {
	DocumentID string `json:"documentId,omitempty"`
	UserID     string `json:"userId"`
}

// ErrorMessage reports a rejected frame back to its sender
type ErrorMessage struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
