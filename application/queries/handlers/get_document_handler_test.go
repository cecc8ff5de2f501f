package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"diagramsync/application/queries"
	"diagramsync/application/queries/bus"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load(ctx context.Context, id valueobjects.DocumentID) (*aggregates.Document, error) {
	args := m.Called(ctx, id)
	doc, _ := args.Get(0).(*aggregates.Document)
	return doc, args.Error(1)
}

func (m *mockStore) Save(ctx context.Context, id valueobjects.DocumentID, snap aggregates.Snapshot) (aggregates.SaveResult, error) {
	args := m.Called(ctx, id, snap)
	return args.Get(0).(aggregates.SaveResult), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, id valueobjects.DocumentID) error {
	return m.Called(ctx, id).Error(0)
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]interface{}
}

func (c *mapCache) Get(ctx context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func storedDocument(t *testing.T) *aggregates.Document {
	t.Helper()
	id := valueobjects.MustDocumentID("doc-1")
	n, err := entities.NewNode(valueobjects.MustNodeID("c1"), "Order", valueobjects.Position{X: 3, Y: 4})
	require.NoError(t, err)
	g := aggregates.NewGraph(id.String(), nil)
	_, err = g.ApplyFull([]*entities.Node{n}, nil)
	require.NoError(t, err)
	now := time.Now().UTC()
	return aggregates.ReconstructDocument(id, "Orders", g, 2, now, now, aggregates.Metadata{ModifiedBy: "alice"})
}

func TestGetDocument_ReturnsWireDocument(t *testing.T) {
	store := &mockStore{}
	store.On("Load", mock.Anything, valueobjects.MustDocumentID("doc-1")).Return(storedDocument(t), nil).Once()

	b := bus.NewQueryBus()
	require.NoError(t, b.Register(queries.GetDocumentQuery{}, NewGetDocumentHandler(store, zap.NewNop())))

	out, err := b.Ask(context.Background(), queries.GetDocumentQuery{DocumentID: "doc-1"})

	require.NoError(t, err)
	resp, ok := Result(out)
	require.True(t, ok)
	assert.Equal(t, "doc-1", resp.ID)
	assert.Equal(t, "Orders", resp.Name)
	assert.Equal(t, uint64(2), resp.Version)
	assert.Equal(t, "alice", resp.Metadata.ModifiedBy)
	require.Len(t, resp.Nodes, 1)
	assert.Equal(t, 3.0, resp.Nodes[0].Position.X)
	assert.NotEmpty(t, resp.Checksum)
}

func TestGetDocument_Errors(t *testing.T) {
	store := &mockStore{}
	store.On("Load", mock.Anything, valueobjects.MustDocumentID("ghost")).
		Return(nil, pkgerrors.NewNotFoundError("document")).Once()

	b := bus.NewQueryBus()
	require.NoError(t, b.Register(queries.GetDocumentQuery{}, NewGetDocumentHandler(store, zap.NewNop())))

	_, err := b.Ask(context.Background(), queries.GetDocumentQuery{DocumentID: "ghost"})
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = b.Ask(context.Background(), queries.GetDocumentQuery{})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestGetDocument_CachedUntilInvalidated(t *testing.T) {
	store := &mockStore{}
	store.On("Load", mock.Anything, mock.Anything).Return(storedDocument(t), nil).Once()
	cache := &mapCache{items: make(map[string]interface{})}

	b := bus.NewQueryBus()
	handler := bus.NewCachingMiddleware(cache, 30, zap.NewNop()).Wrap(NewGetDocumentHandler(store, zap.NewNop()))
	require.NoError(t, b.Register(queries.GetDocumentQuery{}, handler))

	for i := 0; i < 3; i++ {
		_, err := b.Ask(context.Background(), queries.GetDocumentQuery{DocumentID: "doc-1"})
		require.NoError(t, err)
	}

	store.AssertNumberOfCalls(t, "Load", 1)
	_, cached := cache.Get(context.Background(), "document:doc-1")
	assert.True(t, cached)
}
