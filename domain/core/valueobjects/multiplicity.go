package valueobjects

import "strings"

// Multiplicity annotates the two ends of an edge, e.g. "1" and "0..*".
// Either end may be empty.
type Multiplicity struct {
	Source string
	Target string
}

// ParseMultiplicity reads the legacy "source:target" form. Only the first
// colon separates the ends; a value without a colon is a source-only
// multiplicity.
func ParseMultiplicity(s string) Multiplicity {
	s = strings.TrimSpace(s)
	if s == "" {
		return Multiplicity{}
	}
	source, target, _ := strings.Cut(s, ":")
	return Multiplicity{Source: strings.TrimSpace(source), Target: strings.TrimSpace(target)}
}

// String renders the legacy "source:target" form
func (m Multiplicity) String() string {
	if m.IsZero() {
		return ""
	}
	return m.Source + ":" + m.Target
}

// IsZero reports whether neither end is set
func (m Multiplicity) IsZero() bool {
	return m.Source == "" && m.Target == ""
}

// Anchor names the connection handle an edge end attaches to.
type Anchor string

// IsZero reports whether the anchor is unset
func (a Anchor) IsZero() bool { return a == "" }
