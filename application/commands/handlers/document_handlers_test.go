package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"diagramsync/application/commands"
	"diagramsync/application/commands/bus"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/events"
	pkgerrors "diagramsync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Load(ctx context.Context, id valueobjects.DocumentID) (*aggregates.Document, error) {
	args := m.Called(ctx, id)
	doc, _ := args.Get(0).(*aggregates.Document)
	return doc, args.Error(1)
}

func (m *mockRepository) Save(ctx context.Context, id valueobjects.DocumentID, snap aggregates.Snapshot) (aggregates.SaveResult, error) {
	args := m.Called(ctx, id, snap)
	return args.Get(0).(aggregates.SaveResult), args.Error(1)
}

func (m *mockRepository) Delete(ctx context.Context, id valueobjects.DocumentID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) Create(ctx context.Context, doc *aggregates.Document) error {
	return m.Called(ctx, doc).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	return m.Called(ctx, evts).Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string) (interface{}, bool) {
	args := m.Called(ctx, key)
	return args.Get(0), args.Bool(1)
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, ttl int) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newBus(t *testing.T, repo *mockRepository, pub *mockPublisher, cache *mockCache) *bus.CommandBus {
	t.Helper()
	b := bus.NewCommandBus(bus.LoggingMiddleware(zap.NewNop()))
	require.NoError(t, NewDocumentHandlers(repo, pub, cache, nil, zap.NewNop()).RegisterAll(b))
	return b
}

func TestCreateDocument(t *testing.T) {
	repo, pub, cache := &mockRepository{}, &mockPublisher{}, &mockCache{}
	b := newBus(t, repo, pub, cache)

	repo.On("Create", mock.Anything, mock.MatchedBy(func(d *aggregates.Document) bool {
		return d.ID().String() == "doc-1" && d.Name() == "Orders" && d.Version() == 0
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.AnythingOfType("events.DocumentCreated")).Return(nil).Once()

	out, err := b.Send(context.Background(), commands.CreateDocumentCommand{DocumentID: "doc-1", Name: "Orders", UserID: "alice"})

	require.NoError(t, err)
	result := out.(commands.CreateDocumentResult)
	assert.Equal(t, "doc-1", result.Document.ID().String())
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCreateDocument_GeneratesID(t *testing.T) {
	repo, pub, cache := &mockRepository{}, &mockPublisher{}, &mockCache{}
	b := newBus(t, repo, pub, cache)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("bus down")).Once()

	out, err := b.Send(context.Background(), commands.CreateDocumentCommand{UserID: "alice"})

	require.NoError(t, err, "publish failures do not fail the command")
	doc := out.(commands.CreateDocumentResult).Document
	assert.NotEmpty(t, doc.ID().String())
	assert.Equal(t, "Untitled diagram", doc.Name())
}

func TestCreateDocument_Conflict(t *testing.T) {
	repo, pub, cache := &mockRepository{}, &mockPublisher{}, &mockCache{}
	b := newBus(t, repo, pub, cache)

	repo.On("Create", mock.Anything, mock.Anything).Return(pkgerrors.NewConflictError("document already exists")).Once()

	_, err := b.Send(context.Background(), commands.CreateDocumentCommand{DocumentID: "doc-1", UserID: "alice"})

	assert.True(t, pkgerrors.IsConflict(err))
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestSaveDocument_DropsDanglingEdges(t *testing.T) {
	repo, pub, cache := &mockRepository{}, &mockPublisher{}, &mockCache{}
	b := newBus(t, repo, pub, cache)
	id := valueobjects.MustDocumentID("doc-1")

	n1, _ := entities.NewNode(valueobjects.MustNodeID("c1"), "Order", valueobjects.Position{})
	good, _ := entities.NewEdge(valueobjects.MustEdgeID("e1"), entities.KindAssociation, n1.ID(), n1.ID())
	dangling, _ := entities.NewEdge(valueobjects.MustEdgeID("e2"), entities.KindAssociation, n1.ID(), valueobjects.MustNodeID("ghost"))

	now := time.Now().UTC()
	repo.On("Save", mock.Anything, id, mock.MatchedBy(func(s aggregates.Snapshot) bool {
		return len(s.Nodes) == 1 && len(s.Edges) == 1 && s.Metadata.ModifiedBy == "alice"
	})).Return(aggregates.SaveResult{Version: 4, UpdatedAt: now}, nil).Once()
	cache.On("Delete", mock.Anything, "document:doc-1").Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.DomainEvent) bool {
		saved, ok := e.(events.DocumentSaved)
		return ok && saved.Version == 4 && saved.EdgeCount == 1
	})).Return(nil).Once()

	out, err := b.Send(context.Background(), commands.SaveDocumentCommand{
		DocumentID: "doc-1",
		UserID:     "alice",
		Snapshot: aggregates.Snapshot{
			DocumentID: id,
			Nodes:      []*entities.Node{n1},
			Edges:      []*entities.Edge{good, dangling},
		},
	})

	require.NoError(t, err)
	result := out.(commands.SaveDocumentResult)
	assert.Equal(t, uint64(4), result.Result.Version)
	assert.Equal(t, 1, result.Dropped)
	assert.NotEmpty(t, result.Checksum)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestSaveDocument_Validation(t *testing.T) {
	tests := []struct {
		name string
		cmd  commands.SaveDocumentCommand
	}{
		{"missing document", commands.SaveDocumentCommand{UserID: "alice"}},
		{"missing user", commands.SaveDocumentCommand{DocumentID: "doc-1", Snapshot: aggregates.Snapshot{DocumentID: valueobjects.MustDocumentID("doc-1")}}},
		{"foreign snapshot", commands.SaveDocumentCommand{DocumentID: "doc-1", UserID: "alice", Snapshot: aggregates.Snapshot{DocumentID: valueobjects.MustDocumentID("doc-2")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepository{}
			b := newBus(t, repo, &mockPublisher{}, &mockCache{})

			_, err := b.Send(context.Background(), tt.cmd)

			assert.True(t, pkgerrors.IsValidation(err))
			repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDeleteDocument(t *testing.T) {
	repo, pub, cache := &mockRepository{}, &mockPublisher{}, &mockCache{}
	b := newBus(t, repo, pub, cache)
	id := valueobjects.MustDocumentID("doc-1")

	repo.On("Delete", mock.Anything, id).Return(nil).Once()
	cache.On("Delete", mock.Anything, "document:doc-1").Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.AnythingOfType("events.DocumentDeleted")).Return(nil).Once()

	_, err := b.Send(context.Background(), commands.DeleteDocumentCommand{DocumentID: "doc-1", UserID: "alice"})

	require.NoError(t, err)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestSend_UnregisteredCommand(t *testing.T) {
	b := bus.NewCommandBus()

	_, err := b.Send(context.Background(), commands.DeleteDocumentCommand{DocumentID: "doc-1", UserID: "alice"})

	assert.ErrorIs(t, err, bus.ErrHandlerNotFound)
}
