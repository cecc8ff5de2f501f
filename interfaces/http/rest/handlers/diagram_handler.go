package handlers

import (
	"errors"
	"net/http"

	"diagramsync/application/commands"
	"diagramsync/application/commands/bus"
	"diagramsync/application/dto"
	"diagramsync/application/queries"
	querybus "diagramsync/application/queries/bus"
	"diagramsync/domain/config"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/versioning"
	"diagramsync/pkg/auth"
	"diagramsync/pkg/common"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"
	"diagramsync/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DiagramHandler handles diagram document requests
type DiagramHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *pkgerrors.ErrorHandler
	config     *config.DomainConfig
	maxBody    int64
	logger     *zap.Logger
}

// NewDiagramHandler creates a new diagram handler
func NewDiagramHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errs *pkgerrors.ErrorHandler,
	cfg *config.DomainConfig,
	maxBody int64,
	logger *zap.Logger,
) *DiagramHandler {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &DiagramHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errs,
		config:     cfg,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// CreateDiagram handles POST /diagrams
func (h *DiagramHandler) CreateDiagram(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewUnauthorizedError("Unauthorized"))
		return
	}

	var req protocol.CreateDocumentRequest
	if err := common.ParseJSONBody(w, r, &req, h.maxBody, true); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, validationError(err))
		return
	}

	result, err := h.commandBus.Send(r.Context(), commands.CreateDocumentCommand{
		DocumentID: req.ID,
		Name:       req.Name,
		UserID:     identity.UserID,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	created := result.(commands.CreateDocumentResult)
	checksum, err := versioning.Checksum(created.Document.Graph().Nodes(), created.Document.Graph().Edges())
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewInternalError("failed to checksum document").WithCause(err))
		return
	}
	common.RespondJSON(w, http.StatusCreated, dto.DocumentToWire(created.Document, checksum))
}

// GetDiagram handles GET /diagrams/{documentID}
func (h *DiagramHandler) GetDiagram(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.GetDocumentQuery{
		DocumentID: chi.URLParam(r, "documentID"),
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

// SaveDiagram handles PUT /diagrams/{documentID}
func (h *DiagramHandler) SaveDiagram(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewUnauthorizedError("Unauthorized"))
		return
	}

	id, err := valueobjects.NewDocumentIDFromString(chi.URLParam(r, "documentID"))
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid document id").WithCause(err))
		return
	}

	var req protocol.SaveDocumentRequest
	if err := common.ParseJSONBody(w, r, &req, h.maxBody, false); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, validationError(err))
		return
	}

	snapshot, err := dto.SnapshotFromWire(id, req, h.config)
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError(err.Error()).WithCause(err))
		return
	}

	result, err := h.commandBus.Send(r.Context(), commands.SaveDocumentCommand{
		DocumentID: id.String(),
		UserID:     identity.UserID,
		Snapshot:   snapshot,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	saved := result.(commands.SaveDocumentResult)
	common.RespondJSON(w, http.StatusOK, protocol.SaveDocumentResponse{
		ID:        saved.DocumentID,
		Version:   saved.Result.Version,
		UpdatedAt: saved.Result.UpdatedAt,
	})
}

// DeleteDiagram handles DELETE /diagrams/{documentID}
func (h *DiagramHandler) DeleteDiagram(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewUnauthorizedError("Unauthorized"))
		return
	}

	_, err = h.commandBus.Send(r.Context(), commands.DeleteDocumentCommand{
		DocumentID: chi.URLParam(r, "documentID"),
		UserID:     identity.UserID,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondNoContent(w)
}

func validationError(err error) error {
	appErr := pkgerrors.NewValidationError(err.Error())
	var fields utils.ValidationErrors
	if errors.As(err, &fields) {
		appErr = appErr.WithDetails(fields.Fields())
	}
	return appErr
}
