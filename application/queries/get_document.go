package queries

import (
	pkgerrors "diagramsync/pkg/errors"
)

// GetDocumentQuery loads the canonical document
type GetDocumentQuery struct {
	DocumentID string
}

// Validate validates the GetDocumentQuery
func (q GetDocumentQuery) Validate() error {
	if q.DocumentID == "" {
		return pkgerrors.NewValidationError("document ID is required")
	}
	return nil
}

// CacheKey names the cached result of the query
func (q GetDocumentQuery) CacheKey() string {
	return "document:" + q.DocumentID
}
