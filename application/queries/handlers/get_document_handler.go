package handlers

import (
	"context"

	"diagramsync/application/dto"
	"diagramsync/application/ports"
	"diagramsync/application/queries"
	"diagramsync/application/queries/bus"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/versioning"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"

	"go.uber.org/zap"
)

// GetDocumentHandler serves GetDocumentQuery as the wire document. The
// result is immutable so it can be cached.
type GetDocumentHandler struct {
	repo   ports.DocumentStore
	logger *zap.Logger
}

// NewGetDocumentHandler creates a new handler
func NewGetDocumentHandler(repo ports.DocumentStore, logger *zap.Logger) *GetDocumentHandler {
	return &GetDocumentHandler{repo: repo, logger: logger}
}

// Handle implements bus.QueryHandler
func (h *GetDocumentHandler) Handle(ctx context.Context, q bus.Query) (interface{}, error) {
	query := q.(queries.GetDocumentQuery)

	id, err := valueobjects.NewDocumentIDFromString(query.DocumentID)
	if err != nil {
		return nil, pkgerrors.NewValidationError("invalid document id").WithCause(err)
	}

	doc, err := h.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	checksum, err := versioning.Checksum(doc.Graph().Nodes(), doc.Graph().Edges())
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to checksum document").WithCause(err)
	}

	h.logger.Debug("Loaded document",
		zap.String("documentId", id.String()),
		zap.Uint64("version", doc.Version()),
	)
	return dto.DocumentToWire(doc, checksum), nil
}

// Result asserts the handler result type
func Result(v interface{}) (protocol.DocumentResponse, bool) {
	resp, ok := v.(protocol.DocumentResponse)
	return resp, ok
}
