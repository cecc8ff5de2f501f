// Package reconciler merges remote change envelopes into the local replica.
//
// Each envelope is a complete replacement of one or both collections, so
// the last envelope processed for a collection determines its state. There
// is no causal ordering and no per-field merge. Echoes of the local user's
// own broadcasts are ignored.
package reconciler

import (
	"diagramsync/application/dto"
	"diagramsync/application/replica"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/validators"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"

	"go.uber.org/zap"
)

// Outcome describes what happened to one inbound envelope
type Outcome struct {
	Origin  string
	Kind    aggregates.EnvelopeKind
	Echo    bool
	Applied bool
	Result  aggregates.ReplaceResult

	// Items that failed conversion and were left out
	Rejected []dto.ItemError
}

// Dropped counts every item that did not make it into the replica
func (o Outcome) Dropped() int {
	return len(o.Rejected) + len(o.Result.Dropped)
}

// Reconciler applies remote envelopes for one local user
type Reconciler struct {
	replica     *replica.Replica
	localUserID string
	validator   *validators.EnvelopeValidator
	config      *config.DomainConfig
	logger      *zap.Logger
}

// New creates a reconciler for the replica of localUserID
func New(r *replica.Replica, localUserID string, cfg *config.DomainConfig, logger *zap.Logger) *Reconciler {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		replica:     r,
		localUserID: localUserID,
		validator:   validators.NewEnvelopeValidator(cfg),
		config:      cfg,
		logger:      logger.With(zap.String("userId", localUserID)),
	}
}

// ApplyChange converts a diagram_change payload and applies it. Nodes and
// edges that cannot be converted are dropped; the rest still applies.
func (r *Reconciler) ApplyChange(change protocol.DiagramChange) (Outcome, error) {
	if r.isEcho(change.UserID) {
		return Outcome{Origin: change.UserID, Kind: dto.KindFromWire(change.Changes.Kind), Echo: true}, nil
	}

	env, rejected, err := dto.EnvelopeFromWire(change, r.config)
	if err != nil {
		return Outcome{Origin: change.UserID}, pkgerrors.NewValidationError(err.Error()).WithCause(err)
	}
	for _, item := range rejected {
		r.logger.Warn("Dropped invalid item from remote change",
			zap.String("originUserId", change.UserID),
			zap.String("itemId", item.ID),
			zap.Error(item.Err),
		)
	}

	outcome, err := r.Apply(env)
	outcome.Rejected = rejected
	return outcome, err
}

// Apply merges an envelope into the replica by total replacement of the
// collections it carries. Edges whose endpoints are missing after the
// replacement are dropped, never stored.
func (r *Reconciler) Apply(env aggregates.ChangeEnvelope) (Outcome, error) {
	outcome := Outcome{Origin: env.OriginUserID, Kind: env.Kind}
	if r.isEcho(env.OriginUserID) {
		outcome.Echo = true
		return outcome, nil
	}

	err := r.replica.ApplyRemote(func(doc *aggregates.Document) error {
		if err := r.validator.Validate(env, doc.ID()); err != nil {
			return err
		}
		result, err := env.ApplyTo(doc.Graph())
		if err != nil {
			return pkgerrors.NewValidationError(err.Error()).WithCause(err)
		}
		outcome.Result = result
		return nil
	})
	if err != nil {
		r.logger.Warn("Rejected remote change",
			zap.String("originUserId", env.OriginUserID),
			zap.String("kind", string(env.Kind)),
			zap.Error(err),
		)
		return outcome, err
	}

	outcome.Applied = true
	if len(outcome.Result.Dropped) > 0 || len(outcome.Result.Pruned) > 0 {
		r.logger.Warn("Dropped dangling edges from remote change",
			zap.String("originUserId", env.OriginUserID),
			zap.Int("dropped", len(outcome.Result.Dropped)),
			zap.Int("pruned", len(outcome.Result.Pruned)),
		)
	}
	r.logger.Debug("Applied remote change",
		zap.String("originUserId", env.OriginUserID),
		zap.String("kind", string(env.Kind)),
		zap.Int("nodeCount", outcome.Result.NodeCount),
		zap.Int("edgeCount", outcome.Result.EdgeCount),
	)
	return outcome, nil
}

func (r *Reconciler) isEcho(origin string) bool {
	return origin != "" && origin == r.localUserID
}
