package commands

import (
	"errors"

	"diagramsync/domain/core/aggregates"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/utils"
)

// CreateDocumentCommand creates a new empty document
type CreateDocumentCommand struct {
	DocumentID string `json:"documentId" validate:"omitempty,max=128"`
	Name       string `json:"name" validate:"max=200"`
	UserID     string `json:"userId" validate:"required"`
}

// Validate validates the CreateDocumentCommand
func (c CreateDocumentCommand) Validate() error {
	return validationError(utils.ValidateStruct(c))
}

// SaveDocumentCommand replaces the stored graph of a document
type SaveDocumentCommand struct {
	DocumentID string              `json:"documentId" validate:"required"`
	UserID     string              `json:"userId" validate:"required"`
	Snapshot   aggregates.Snapshot `json:"-"`
}

// Validate validates the SaveDocumentCommand
func (c SaveDocumentCommand) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return validationError(err)
	}
	if c.Snapshot.DocumentID.String() != c.DocumentID {
		return pkgerrors.NewValidationError("snapshot belongs to another document")
	}
	return nil
}

// DeleteDocumentCommand removes a document
type DeleteDocumentCommand struct {
	DocumentID string `json:"documentId" validate:"required"`
	UserID     string `json:"userId" validate:"required"`
}

// Validate validates the DeleteDocumentCommand
func (c DeleteDocumentCommand) Validate() error {
	return validationError(utils.ValidateStruct(c))
}

// CreateDocumentResult is returned by the create handler
type CreateDocumentResult struct {
	Document *aggregates.Document
}

// SaveDocumentResult is returned by the save handler
type SaveDocumentResult struct {
	DocumentID string
	Result     aggregates.SaveResult
	Checksum   string
	Dropped    int
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fields utils.ValidationErrors
	if errors.As(err, &fields) {
		return pkgerrors.NewValidationError(fields.Error()).WithDetails(fields.Fields())
	}
	return pkgerrors.NewValidationError(err.Error()).WithCause(err)
}
