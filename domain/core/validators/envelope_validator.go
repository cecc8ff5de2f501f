package validators

import (
	"fmt"

	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/pkg/errors"
)

// EnvelopeValidator checks the shape of inbound change envelopes before
// they reach the graph.
type EnvelopeValidator struct {
	maxNodes int
	maxEdges int
}

// NewEnvelopeValidator creates a validator bound to the domain limits
func NewEnvelopeValidator(cfg *config.DomainConfig) *EnvelopeValidator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &EnvelopeValidator{maxNodes: cfg.MaxNodesPerGraph, maxEdges: cfg.MaxEdgesPerGraph}
}

// Validate rejects envelopes that target another document, carry an unknown
// kind or exceed the graph limits.
func (v *EnvelopeValidator) Validate(env aggregates.ChangeEnvelope, document valueobjects.DocumentID) error {
	if env.DocumentID.IsZero() {
		return errors.NewValidationError("envelope has no document id").WithDetail("field", "documentId")
	}
	if !env.DocumentID.Equals(document) {
		return errors.NewValidationError("envelope targets another document").
			WithDetail("documentId", env.DocumentID.String()).
			WithDetail("expected", document.String())
	}
	if env.OriginUserID == "" {
		return errors.NewValidationError("envelope has no origin user").WithDetail("field", "userId")
	}
	if !env.Kind.IsValid() {
		return errors.NewValidationError(fmt.Sprintf("unknown envelope kind %q", env.Kind)).WithDetail("field", "kind")
	}
	if len(env.Nodes) > v.maxNodes {
		return errors.NewValidationError("envelope carries too many nodes").
			WithDetail("actual", len(env.Nodes)).
			WithDetail("max", v.maxNodes)
	}
	if len(env.Edges) > v.maxEdges {
		return errors.NewValidationError("envelope carries too many edges").
			WithDetail("actual", len(env.Edges)).
			WithDetail("max", v.maxEdges)
	}
	return nil
}
