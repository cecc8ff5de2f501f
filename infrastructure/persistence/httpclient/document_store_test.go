package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(pkgerrors.ErrorResponse{Error: pkgerrors.ErrorBody{Type: typ, Message: message}})
}

func newStore(t *testing.T, handler http.HandlerFunc, threshold uint32) *DocumentStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewDocumentStore(StoreConfig{
		BaseURL:          srv.URL,
		Token:            "secret-token",
		FailureThreshold: threshold,
		OpenTimeout:      time.Minute,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestNewDocumentStore_RejectsBadURL(t *testing.T) {
	_, err := NewDocumentStore(StoreConfig{BaseURL: "ftp://example.com"}, nil, zap.NewNop())
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestDocumentStore_Load(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v2/diagrams/doc-1", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		writeData(w, http.StatusOK, protocol.DocumentResponse{
			ID:      "doc-1",
			Name:    "Shop",
			Version: 7,
			Nodes: []protocol.Node{
				{ID: "a", Name: "Customer"},
				{ID: "b", Name: "Order"},
			},
			Edges: []protocol.Edge{
				{ID: "e1", Type: "ASSOCIATION", SourceClassID: "a", TargetClassID: "b"},
				{ID: "e2", Type: "ASSOCIATION", SourceClassID: "a", TargetClassID: "ghost"},
			},
		})
	}, 5)

	doc, err := store.Load(context.Background(), valueobjects.MustDocumentID("doc-1"))

	require.NoError(t, err)
	assert.Equal(t, "Shop", doc.Name())
	assert.Equal(t, uint64(7), doc.Version())
	assert.Equal(t, 2, doc.Graph().NodeCount())
	assert.Equal(t, 1, doc.Graph().EdgeCount(), "dangling edge is dropped")
}

func TestDocumentStore_Save(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var req protocol.SaveDocumentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice", req.Metadata.ModifiedBy)
		writeData(w, http.StatusOK, protocol.SaveDocumentResponse{ID: "doc-1", Version: 3, UpdatedAt: updated})
	}, 5)

	snap := aggregates.Snapshot{
		DocumentID: valueobjects.MustDocumentID("doc-1"),
		Metadata:   aggregates.Metadata{ModifiedBy: "alice", LastModifiedAt: time.Now()},
	}
	result, err := store.Save(context.Background(), snap.DocumentID, snap)

	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.Version)
	assert.True(t, updated.Equal(result.UpdatedAt))
}

func TestDocumentStore_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, pkgerrors.IsNotFound},
		{"validation", http.StatusBadRequest, pkgerrors.IsValidation},
		{"conflict", http.StatusConflict, pkgerrors.IsConflict},
		{"unauthorized", http.StatusUnauthorized, pkgerrors.IsUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tt.status, "ERROR", "nope")
			}, 5)

			err := store.Delete(context.Background(), valueobjects.MustDocumentID("doc-1"))

			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestDocumentStore_BreakerOpensOnServerFailures(t *testing.T) {
	var hits int32
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "boom")
	}, 2)
	ctx := context.Background()
	id := valueobjects.MustDocumentID("doc-1")

	_, err := store.Load(ctx, id)
	require.Error(t, err)
	_, err = store.Load(ctx, id)
	require.Error(t, err)

	_, err = store.Load(ctx, id)

	assert.True(t, pkgerrors.IsUnavailable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "open breaker short-circuits")
}

func TestDocumentStore_ClientErrorsKeepBreakerClosed(t *testing.T) {
	var hits int32
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeError(w, http.StatusNotFound, "NOT_FOUND", "missing")
	}, 2)

	for i := 0; i < 4; i++ {
		_, err := store.Load(context.Background(), valueobjects.MustDocumentID("doc-1"))
		assert.True(t, pkgerrors.IsNotFound(err))
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestDocumentStore_Create(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/diagrams", r.URL.Path)
		var req protocol.CreateDocumentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeData(w, http.StatusCreated, protocol.DocumentResponse{ID: "doc-9", Name: req.Name})
	}, 5)

	out, err := store.Create(context.Background(), "", "Fresh")

	require.NoError(t, err)
	assert.Equal(t, "doc-9", out.ID)
	assert.Equal(t, "Fresh", out.Name)
}
