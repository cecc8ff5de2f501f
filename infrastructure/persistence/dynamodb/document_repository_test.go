package dynamodb

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/observability"
	"diagramsync/pkg/protocol"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDynamo keeps items by partition key and enforces the existence
// conditions the repository relies on.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	updates []*dynamodb.UpdateItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func pk(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[pk(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pk(in.Item)
	if _, ok := f.items[key]; ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

// UpdateItem only tracks the version, which is all the repository reads back
func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	key := pk(in.Key)
	item, ok := f.items[key]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	version, _ := strconv.ParseUint(item["Version"].(*types.AttributeValueMemberN).Value, 10, 64)
	next := &types.AttributeValueMemberN{Value: strconv.FormatUint(version+1, 10)}
	item["Version"] = next
	return &dynamodb.UpdateItemOutput{
		Attributes: map[string]types.AttributeValue{"Version": next},
	}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pk(in.Key)
	if _, ok := f.items[key]; !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newRepo(t *testing.T) (*DocumentRepository, *fakeDynamo) {
	t.Helper()
	client := newFakeDynamo()
	repo, err := NewDocumentRepository(client, "diagrams", nil, observability.NewTracer("test", false), zap.NewNop())
	require.NoError(t, err)
	return repo, client
}

func documentWithGraph(t *testing.T, id string) *aggregates.Document {
	t.Helper()
	docID := valueobjects.MustDocumentID(id)
	a, err := entities.NewNode(valueobjects.MustNodeID("a"), "Customer", valueobjects.Position{X: 10, Y: 20})
	require.NoError(t, err)
	b, err := entities.NewNode(valueobjects.MustNodeID("b"), "Order", valueobjects.Position{X: 200, Y: 20})
	require.NoError(t, err)
	e, err := entities.NewEdge(valueobjects.MustEdgeID("e"), entities.KindAssociation, a.ID(), b.ID())
	require.NoError(t, err)

	g := aggregates.NewGraph(id, nil)
	_, err = g.ApplyFull([]*entities.Node{a, b}, []*entities.Edge{e})
	require.NoError(t, err)
	now := time.Now().UTC()
	return aggregates.ReconstructDocument(docID, "Shop", g, 0, now, now, aggregates.Metadata{})
}

func TestPayloadCodec_RoundTrip(t *testing.T) {
	codec, err := newPayloadCodec()
	require.NoError(t, err)

	nodes := []protocol.Node{{ID: "a", Name: "Customer", Position: protocol.Position{X: 1, Y: 2}}}
	edges := []protocol.Edge{{ID: "e", Type: "association", SourceClassID: "a", TargetClassID: "a"}}

	data, err := codec.encode(nodes, edges)
	require.NoError(t, err)

	out, err := codec.decode(data)
	require.NoError(t, err)
	assert.Equal(t, payloadVersion, out.Version)
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, "Customer", out.Nodes[0].Name)
	require.Len(t, out.Edges, 1)
	assert.Equal(t, "a", out.Edges[0].TargetClassID)

	_, err = codec.decode([]byte("not zstd"))
	assert.Error(t, err)

	empty, err := codec.decode(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Nodes)
}

func TestDocumentRepository_CreateAndLoad(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	doc := documentWithGraph(t, "doc-1")

	require.NoError(t, repo.Create(ctx, doc))

	err := repo.Create(ctx, doc)
	assert.True(t, pkgerrors.IsConflict(err))

	loaded, err := repo.Load(ctx, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, "Shop", loaded.Name())
	assert.Equal(t, uint64(0), loaded.Version())
	assert.Equal(t, 2, loaded.Graph().NodeCount())
	assert.Equal(t, 1, loaded.Graph().EdgeCount())

	node, ok := loaded.Graph().Node(valueobjects.MustNodeID("b"))
	require.True(t, ok)
	assert.Equal(t, 200.0, node.Position().X)
}

func TestDocumentRepository_LoadMissing(t *testing.T) {
	repo, _ := newRepo(t)

	_, err := repo.Load(context.Background(), valueobjects.MustDocumentID("ghost"))

	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDocumentRepository_SaveBumpsVersion(t *testing.T) {
	repo, client := newRepo(t)
	ctx := context.Background()
	doc := documentWithGraph(t, "doc-1")
	require.NoError(t, repo.Create(ctx, doc))

	snap := doc.Snapshot("alice", time.Now())
	first, err := repo.Save(ctx, doc.ID(), snap)
	require.NoError(t, err)
	second, err := repo.Save(ctx, doc.ID(), snap)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Version)
	assert.Equal(t, uint64(2), second.Version)
	assert.False(t, second.UpdatedAt.IsZero())

	require.Len(t, client.updates, 2)
	update := client.updates[0]
	assert.Equal(t, "diagrams", aws.ToString(update.TableName))
	assert.Equal(t, types.ReturnValueUpdatedNew, update.ReturnValues)
	assert.Contains(t, aws.ToString(update.UpdateExpression), "ADD")
	assert.Contains(t, aws.ToString(update.ConditionExpression), "attribute_exists")
}

func TestDocumentRepository_SaveUnknownDocument(t *testing.T) {
	repo, _ := newRepo(t)
	doc := documentWithGraph(t, "doc-1")

	_, err := repo.Save(context.Background(), doc.ID(), doc.Snapshot("alice", time.Now()))

	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDocumentRepository_Delete(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	doc := documentWithGraph(t, "doc-1")
	require.NoError(t, repo.Create(ctx, doc))

	require.NoError(t, repo.Delete(ctx, doc.ID()))

	_, err := repo.Load(ctx, doc.ID())
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.True(t, pkgerrors.IsNotFound(repo.Delete(ctx, doc.ID())))
}
