package protocol

import "time"

// Metadata of a saved document
type Metadata struct {
	LastModifiedAt time.Time `json:"lastModifiedAt"`
	ModifiedBy     string    `json:"modifiedBy"`
}

// CreateDocumentRequest is the body of POST /diagrams
type CreateDocumentRequest struct {
	ID   string `json:"id,omitempty" validate:"omitempty,max=128"`
	Name string `json:"name,omitempty" validate:"max=200"`
}

// SaveDocumentRequest is the body of PUT /diagrams/{id}
type SaveDocumentRequest struct {
	Nodes    []Node   `json:"nodes" validate:"dive"`
	Edges    []Edge   `json:"edges" validate:"dive"`
	Metadata Metadata `json:"metadata"`
}

// SaveDocumentResponse is returned by a successful save
type SaveDocumentResponse struct {
	ID        string    `json:"id"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentResponse is the full document returned by GET /diagrams/{id}
type DocumentResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	Metadata  Metadata  `json:"metadata"`
	Version   uint64    `json:"version"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
