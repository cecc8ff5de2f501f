package handlers

import (
	"context"
	"fmt"
	"time"

	"diagramsync/application/commands"
	"diagramsync/application/commands/bus"
	"diagramsync/application/ports"
	"diagramsync/application/queries"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/events"
	"diagramsync/domain/versioning"
	pkgerrors "diagramsync/pkg/errors"

	"go.uber.org/zap"
)

// DocumentHandlers executes the document lifecycle commands
type DocumentHandlers struct {
	repo      ports.DocumentRepository
	publisher ports.EventPublisher
	cache     ports.Cache
	config    *config.DomainConfig
	logger    *zap.Logger
}

// NewDocumentHandlers creates the document command handlers
func NewDocumentHandlers(
	repo ports.DocumentRepository,
	publisher ports.EventPublisher,
	cache ports.Cache,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *DocumentHandlers {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &DocumentHandlers{
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		config:    cfg,
		logger:    logger,
	}
}

// RegisterAll registers every document command on the bus
func (h *DocumentHandlers) RegisterAll(b *bus.CommandBus) error {
	registrations := []struct {
		cmd bus.Command
		fn  bus.CommandHandlerFunc
	}{
		{commands.CreateDocumentCommand{}, h.create},
		{commands.SaveDocumentCommand{}, h.save},
		{commands.DeleteDocumentCommand{}, h.delete},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *DocumentHandlers) create(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd := c.(commands.CreateDocumentCommand)

	id := valueobjects.NewDocumentID()
	if cmd.DocumentID != "" {
		var err error
		if id, err = valueobjects.NewDocumentIDFromString(cmd.DocumentID); err != nil {
			return nil, pkgerrors.NewValidationError("invalid document id").WithCause(err)
		}
	}

	doc := aggregates.NewDocument(id, cmd.Name, h.config)
	if err := h.repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	h.publish(ctx, events.NewDocumentCreated(id, doc.Name(), cmd.UserID, doc.CreatedAt()))
	h.logger.Info("Document created",
		zap.String("documentId", id.String()),
		zap.String("userId", cmd.UserID),
	)
	return commands.CreateDocumentResult{Document: doc}, nil
}

func (h *DocumentHandlers) save(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd := c.(commands.SaveDocumentCommand)

	// Rebuild the graph so stored snapshots never hold dangling edges
	graph, replaced, err := cmd.Snapshot.Graph(h.config)
	if err != nil {
		return nil, pkgerrors.NewValidationError(err.Error()).WithCause(err)
	}
	snapshot := cmd.Snapshot
	snapshot.Nodes = graph.Nodes()
	snapshot.Edges = graph.Edges()
	if snapshot.Metadata.ModifiedBy == "" {
		snapshot.Metadata.ModifiedBy = cmd.UserID
	}
	if snapshot.Metadata.LastModifiedAt.IsZero() {
		snapshot.Metadata.LastModifiedAt = time.Now().UTC()
	}

	result, err := h.repo.Save(ctx, snapshot.DocumentID, snapshot)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx, snapshot.DocumentID)

	described, err := versioning.Describe(snapshot, result)
	if err != nil {
		return nil, fmt.Errorf("failed to describe snapshot: %w", err)
	}
	h.publish(ctx, events.NewDocumentSaved(
		snapshot.DocumentID,
		int(result.Version),
		snapshot.Metadata.ModifiedBy,
		described.NodeCount,
		described.EdgeCount,
		described.Checksum,
		result.UpdatedAt,
	))

	if len(replaced.Dropped) > 0 {
		h.logger.Warn("Dropped dangling edges from saved snapshot",
			zap.String("documentId", snapshot.DocumentID.String()),
			zap.Int("dropped", len(replaced.Dropped)),
		)
	}
	h.logger.Info("Document saved",
		zap.String("documentId", snapshot.DocumentID.String()),
		zap.Uint64("version", result.Version),
		zap.Int("nodeCount", described.NodeCount),
		zap.Int("edgeCount", described.EdgeCount),
	)

	return commands.SaveDocumentResult{
		DocumentID: snapshot.DocumentID.String(),
		Result:     result,
		Checksum:   described.Checksum,
		Dropped:    len(replaced.Dropped),
	}, nil
}

func (h *DocumentHandlers) delete(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd := c.(commands.DeleteDocumentCommand)

	id, err := valueobjects.NewDocumentIDFromString(cmd.DocumentID)
	if err != nil {
		return nil, pkgerrors.NewValidationError("invalid document id").WithCause(err)
	}
	if err := h.repo.Delete(ctx, id); err != nil {
		return nil, err
	}
	h.invalidate(ctx, id)

	h.publish(ctx, events.NewDocumentDeleted(id, cmd.UserID, time.Now().UTC()))
	h.logger.Info("Document deleted",
		zap.String("documentId", id.String()),
		zap.String("userId", cmd.UserID),
	)
	return nil, nil
}

// publish is best effort: lifecycle events never fail the command
func (h *DocumentHandlers) publish(ctx context.Context, event events.DomainEvent) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Warn("Failed to publish event",
			zap.String("eventType", event.GetEventType()),
			zap.String("aggregateId", event.GetAggregateID()),
			zap.Error(err),
		)
	}
}

func (h *DocumentHandlers) invalidate(ctx context.Context, id valueobjects.DocumentID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, queries.GetDocumentQuery{DocumentID: id.String()}.CacheKey()); err != nil {
		h.logger.Warn("Failed to invalidate cached document", zap.String("documentId", id.String()), zap.Error(err))
	}
}
