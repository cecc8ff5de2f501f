package protocol

import (
	"encoding/json"
	"strings"
)

// Position on the canvas
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is the wire form of a class
type Node struct {
	ID          string      `json:"id" validate:"required,max=128"`
	Name        string      `json:"name" validate:"required,max=200"`
	Position    Position    `json:"position"`
	Attributes  []Attribute `json:"attributes" validate:"dive"`
	Methods     []Method    `json:"methods" validate:"dive"`
	Stereotypes []string    `json:"stereotypes,omitempty"`
}

// Attribute is the wire form of a class attribute
type Attribute struct {
	ID           string `json:"id"`
	Name         string `json:"name" validate:"required"`
	Type         string `json:"type"`
	Multiplicity string `json:"multiplicity,omitempty"`
	Stereotype   string `json:"stereotype,omitempty"`
	Nullable     bool   `json:"nullable"`
	Unique       bool   `json:"unique"`
}

// Method is the wire form of a class behavior
type Method struct {
	ID         string      `json:"id"`
	Name       string      `json:"name" validate:"required"`
	ReturnType string      `json:"returnType"`
	Parameters []Parameter `json:"parameters"`
	Visibility string      `json:"visibility,omitempty" validate:"omitempty,oneof=public private protected"`
}

// Parameter of a method
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Edge is the wire form of a relationship
type Edge struct {
	ID            string        `json:"id" validate:"required,max=128"`
	Type          string        `json:"type"`
	SourceClassID string        `json:"sourceClassId" validate:"required"`
	TargetClassID string        `json:"targetClassId" validate:"required"`
	SourceHandle  string        `json:"sourceHandle,omitempty"`
	TargetHandle  string        `json:"targetHandle,omitempty"`
	Name          string        `json:"name,omitempty"`
	Multiplicity  *Multiplicity `json:"multiplicity,omitempty"`
}

// Multiplicity of both edge ends
type Multiplicity struct {
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
}

// UnmarshalJSON accepts either the object form or the legacy "src:tgt" string.
func (m *Multiplicity) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		source, target, _ := strings.Cut(s, ":")
		m.Source = strings.TrimSpace(source)
		m.Target = strings.TrimSpace(target)
		return nil
	}
	type plain Multiplicity
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Multiplicity(p)
	return nil
}
