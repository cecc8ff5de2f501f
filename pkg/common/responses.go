// Package common holds the success envelope shared by REST handlers and
// their clients.
package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	pkgerrors "diagramsync/pkg/errors"
)

// APIResponse wraps every successful REST payload
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// Envelope is the decoding side of APIResponse
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	response := APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// RespondNoContent sends an empty 204
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ParseJSONBody decodes a request body of at most maxBytes into v. An empty
// body leaves v untouched when optional is set.
func ParseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}, maxBytes int64, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && optional:
			return nil
		case errors.Is(err, io.EOF):
			return pkgerrors.NewValidationError("request body is required")
		case errors.As(err, &tooLarge):
			return pkgerrors.NewValidationError("request body too large").
				WithDetail("limit", tooLarge.Limit)
		default:
			return pkgerrors.NewValidationError("invalid JSON body").WithCause(err)
		}
	}
	return nil
}
