package entities

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"diagramsync/domain/config"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
)

// Visibility of a behavior
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityProtected Visibility = "protected"
)

// ParseVisibility defaults an empty value to public
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return VisibilityPublic, nil
	case VisibilityPublic, VisibilityPrivate, VisibilityProtected:
		return v, nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown visibility %q", s))
	}
}

// Attribute is a typed field of a class node.
type Attribute struct {
	ID           string
	Name         string
	Type         string
	Multiplicity string
	Stereotype   string
	Nullable     bool
	Unique       bool
}

// Parameter of a behavior
type Parameter struct {
	Name string
	Type string
}

// Behavior is an operation of a class node.
type Behavior struct {
	ID         string
	Name       string
	ReturnType string
	Parameters []Parameter
	Visibility Visibility
}

func (b Behavior) clone() Behavior {
	b.Parameters = append([]Parameter(nil), b.Parameters...)
	return b
}

// IdentityAttribute is the attribute every freshly created class starts with.
func IdentityAttribute() Attribute {
	return Attribute{
		ID:         "attr_1",
		Name:       "id",
		Type:       "Long",
		Stereotype: "id",
		Nullable:   false,
		Unique:     true,
	}
}

// Node is a class on the diagram. Its identity never changes; every other
// field is replaced in place.
type Node struct {
	id         valueobjects.NodeID
	name       string
	position   valueobjects.Position
	attributes []Attribute
	behaviors  []Behavior
	tags       []string
}

// NewNode creates a node using the default configuration
func NewNode(id valueobjects.NodeID, name string, position valueobjects.Position) (*Node, error) {
	return NewNodeWithConfig(id, name, position, config.DefaultDomainConfig())
}

// NewNodeWithConfig creates a node with validation against cfg
func NewNodeWithConfig(id valueobjects.NodeID, name string, position valueobjects.Position, cfg *config.DomainConfig) (*Node, error) {
	return ReconstructNode(id, name, position, nil, nil, nil, cfg)
}

// ReconstructNode builds a node from stored or received data
func ReconstructNode(
	id valueobjects.NodeID,
	name string,
	position valueobjects.Position,
	attributes []Attribute,
	behaviors []Behavior,
	tags []string,
	cfg *config.DomainConfig,
) (*Node, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if id.IsZero() {
		return nil, pkgerrors.NewValidationError("node id cannot be empty")
	}

	n := &Node{id: id}
	if err := n.rename(name, cfg); err != nil {
		return nil, err
	}
	if err := n.MoveTo(position); err != nil {
		return nil, err
	}
	if err := n.setMembers(attributes, behaviors, cfg); err != nil {
		return nil, err
	}
	if err := n.setTags(tags, cfg); err != nil {
		return nil, err
	}
	return n, nil
}

// ID returns the node identifier
func (n *Node) ID() valueobjects.NodeID { return n.id }

// Name returns the display name
func (n *Node) Name() string { return n.name }

// Position returns the canvas position
func (n *Node) Position() valueobjects.Position { return n.position }

// Attributes returns a copy of the ordered attributes
func (n *Node) Attributes() []Attribute {
	return append([]Attribute(nil), n.attributes...)
}

// Behaviors returns a copy of the ordered behaviors
func (n *Node) Behaviors() []Behavior {
	var out []Behavior
	for _, b := range n.behaviors {
		out = append(out, b.clone())
	}
	return out
}

// Tags returns the sorted tag set
func (n *Node) Tags() []string {
	return append([]string(nil), n.tags...)
}

// HasTag reports whether tag is in the set
func (n *Node) HasTag(tag string) bool {
	i := sort.SearchStrings(n.tags, tag)
	return i < len(n.tags) && n.tags[i] == tag
}

// Rename changes the display name
func (n *Node) Rename(name string) error {
	return n.rename(name, config.DefaultDomainConfig())
}

func (n *Node) rename(name string, cfg *config.DomainConfig) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return pkgerrors.NewValidationError("node name cannot be empty")
	}
	if utf8.RuneCountInString(name) > cfg.MaxNameLength {
		return pkgerrors.NewValidationError(fmt.Sprintf("node name exceeds maximum length of %d characters", cfg.MaxNameLength))
	}
	n.name = name
	return nil
}

// MoveTo changes the canvas position
func (n *Node) MoveTo(position valueobjects.Position) error {
	if !position.IsFinite() {
		return pkgerrors.NewValidationError("node position must be finite")
	}
	n.position = position
	return nil
}

// SetMembers replaces attributes and behaviors together
func (n *Node) SetMembers(attributes []Attribute, behaviors []Behavior) error {
	return n.setMembers(attributes, behaviors, config.DefaultDomainConfig())
}

func (n *Node) setMembers(attributes []Attribute, behaviors []Behavior, cfg *config.DomainConfig) error {
	if len(attributes)+len(behaviors) > cfg.MaxMembersPerNode {
		return pkgerrors.NewValidationError(fmt.Sprintf("node cannot have more than %d members", cfg.MaxMembersPerNode))
	}

	var attrs []Attribute
	for _, a := range attributes {
		if strings.TrimSpace(a.Name) == "" {
			return pkgerrors.NewValidationError("attribute name cannot be empty")
		}
		attrs = append(attrs, a)
	}

	var behs []Behavior
	for _, b := range behaviors {
		if strings.TrimSpace(b.Name) == "" {
			return pkgerrors.NewValidationError("behavior name cannot be empty")
		}
		v, err := ParseVisibility(string(b.Visibility))
		if err != nil {
			return err
		}
		b.Visibility = v
		behs = append(behs, b.clone())
	}

	n.attributes = attrs
	n.behaviors = behs
	return nil
}

// SetTags replaces the tag set
func (n *Node) SetTags(tags []string) error {
	return n.setTags(tags, config.DefaultDomainConfig())
}

func (n *Node) setTags(tags []string, cfg *config.DomainConfig) error {
	seen := make(map[string]struct{}, len(tags))
	var set []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		set = append(set, tag)
	}
	if len(set) > cfg.MaxTagsPerNode {
		return pkgerrors.NewValidationError(fmt.Sprintf("node cannot have more than %d tags", cfg.MaxTagsPerNode))
	}
	sort.Strings(set)
	n.tags = set
	return nil
}

// AddTag adds a tag to the set
func (n *Node) AddTag(tag string) error {
	return n.SetTags(append(n.Tags(), tag))
}

// RemoveTag removes a tag from the set
func (n *Node) RemoveTag(tag string) {
	var out []string
	for _, t := range n.tags {
		if t != tag {
			out = append(out, t)
		}
	}
	n.tags = out
}

// Clone returns a deep copy
func (n *Node) Clone() *Node {
	return &Node{
		id:         n.id,
		name:       n.name,
		position:   n.position,
		attributes: n.Attributes(),
		behaviors:  n.Behaviors(),
		tags:       n.Tags(),
	}
}
