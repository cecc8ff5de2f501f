// Package dynamodb stores documents in a single DynamoDB table. Each
// document is one item whose graph is a zstd compressed JSON payload.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"diagramsync/application/dto"
	"diagramsync/application/ports"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const (
	entityType  = "DIAGRAM"
	metadataKey = "METADATA"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the repository
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// documentItem is the DynamoDB item of one document
type documentItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	EntityType     string `dynamodbav:"EntityType"`
	DocumentID     string `dynamodbav:"DocumentID"`
	Name           string `dynamodbav:"Name"`
	Payload        []byte `dynamodbav:"Payload"`
	NodeCount      int    `dynamodbav:"NodeCount"`
	EdgeCount      int    `dynamodbav:"EdgeCount"`
	ModifiedBy     string `dynamodbav:"ModifiedBy"`
	LastModifiedAt string `dynamodbav:"LastModifiedAt"`
	CreatedAt      string `dynamodbav:"CreatedAt"`
	UpdatedAt      string `dynamodbav:"UpdatedAt"`
	Version        uint64 `dynamodbav:"Version"`
}

// DocumentRepository implements ports.DocumentRepository on DynamoDB
type DocumentRepository struct {
	client    DynamoDBAPI
	tableName string
	codec     *payloadCodec
	config    *config.DomainConfig
	tracer    *observability.Tracer
	logger    *zap.Logger
}

var _ ports.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository
func NewDocumentRepository(
	client DynamoDBAPI,
	tableName string,
	cfg *config.DomainConfig,
	tracer *observability.Tracer,
	logger *zap.Logger,
) (*DocumentRepository, error) {
	codec, err := newPayloadCodec()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &DocumentRepository{
		client:    client,
		tableName: tableName,
		codec:     codec,
		config:    cfg,
		tracer:    tracer,
		logger:    logger,
	}, nil
}

func documentKey(id valueobjects.DocumentID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("DIAGRAM#%s", id.String())},
		"SK": &types.AttributeValueMemberS{Value: metadataKey},
	}
}

// Create stores a new empty document. It fails if the id is taken.
func (r *DocumentRepository) Create(ctx context.Context, doc *aggregates.Document) error {
	return r.tracer.Trace(ctx, "DocumentRepository.Create", func(ctx context.Context) error {
		payload, err := r.codec.encode(dto.NodesToWire(doc.Graph().Nodes()), dto.EdgesToWire(doc.Graph().Edges()))
		if err != nil {
			return pkgerrors.NewStorageError("create document", err)
		}

		item := documentItem{
			PK:         fmt.Sprintf("DIAGRAM#%s", doc.ID().String()),
			SK:         metadataKey,
			EntityType: entityType,
			DocumentID: doc.ID().String(),
			Name:       doc.Name(),
			Payload:    payload,
			NodeCount:  doc.Graph().NodeCount(),
			EdgeCount:  doc.Graph().EdgeCount(),
			CreatedAt:  doc.CreatedAt().Format(time.RFC3339Nano),
			UpdatedAt:  doc.UpdatedAt().Format(time.RFC3339Nano),
			Version:    doc.Version(),
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return pkgerrors.NewStorageError("create document", fmt.Errorf("failed to marshal document: %w", err))
		}

		expr, err := expression.NewBuilder().
			WithCondition(expression.AttributeNotExists(expression.Name("PK"))).
			Build()
		if err != nil {
			return pkgerrors.NewStorageError("create document", err)
		}

		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(r.tableName),
			Item:                     av,
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		})
		if isConditionFailed(err) {
			return pkgerrors.NewConflictError("document already exists").WithDetail("documentId", doc.ID().String())
		}
		if err != nil {
			r.logger.Error("Failed to create document", zap.String("documentId", doc.ID().String()), zap.Error(err))
			return pkgerrors.NewStorageError("create document", err)
		}

		r.logger.Info("Created document", zap.String("documentId", doc.ID().String()))
		return nil
	})
}

// Load reads the document. Items that no longer decode are dropped.
func (r *DocumentRepository) Load(ctx context.Context, id valueobjects.DocumentID) (*aggregates.Document, error) {
	var doc *aggregates.Document
	err := r.tracer.Trace(ctx, "DocumentRepository.Load", func(ctx context.Context) error {
		out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(r.tableName),
			Key:            documentKey(id),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return pkgerrors.NewStorageError("load document", err)
		}
		if len(out.Item) == 0 {
			return pkgerrors.NewNotFoundError("document").WithDetail("documentId", id.String())
		}

		var item documentItem
		if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
			return pkgerrors.NewStorageError("load document", fmt.Errorf("failed to unmarshal document: %w", err))
		}
		doc, err = r.toDocument(id, item)
		return err
	})
	return doc, err
}

// Save replaces the stored graph and bumps the version atomically. Saving
// an unknown document is a not found error.
func (r *DocumentRepository) Save(ctx context.Context, id valueobjects.DocumentID, snapshot aggregates.Snapshot) (aggregates.SaveResult, error) {
	var result aggregates.SaveResult
	err := r.tracer.Trace(ctx, "DocumentRepository.Save", func(ctx context.Context) error {
		payload, err := r.codec.encode(dto.NodesToWire(snapshot.Nodes), dto.EdgesToWire(snapshot.Edges))
		if err != nil {
			return pkgerrors.NewStorageError("save document", err)
		}
		now := time.Now().UTC()

		update := expression.
			Set(expression.Name("Payload"), expression.Value(payload)).
			Set(expression.Name("NodeCount"), expression.Value(len(snapshot.Nodes))).
			Set(expression.Name("EdgeCount"), expression.Value(len(snapshot.Edges))).
			Set(expression.Name("ModifiedBy"), expression.Value(snapshot.Metadata.ModifiedBy)).
			Set(expression.Name("LastModifiedAt"), expression.Value(snapshot.Metadata.LastModifiedAt.UTC().Format(time.RFC3339Nano))).
			Set(expression.Name("UpdatedAt"), expression.Value(now.Format(time.RFC3339Nano))).
			Add(expression.Name("Version"), expression.Value(1))
		expr, err := expression.NewBuilder().
			WithUpdate(update).
			WithCondition(expression.AttributeExists(expression.Name("PK"))).
			Build()
		if err != nil {
			return pkgerrors.NewStorageError("save document", err)
		}

		out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(r.tableName),
			Key:                       documentKey(id),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              types.ReturnValueUpdatedNew,
		})
		if isConditionFailed(err) {
			return pkgerrors.NewNotFoundError("document").WithDetail("documentId", id.String())
		}
		if err != nil {
			r.logger.Error("Failed to save document", zap.String("documentId", id.String()), zap.Error(err))
			return pkgerrors.NewStorageError("save document", err)
		}

		var updated struct {
			Version uint64 `dynamodbav:"Version"`
		}
		if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
			return pkgerrors.NewStorageError("save document", fmt.Errorf("failed to unmarshal version: %w", err))
		}
		result = aggregates.SaveResult{Version: updated.Version, UpdatedAt: now}

		r.logger.Debug("Saved document",
			zap.String("documentId", id.String()),
			zap.Uint64("version", updated.Version),
			zap.Int("payloadBytes", len(payload)),
		)
		return nil
	})
	return result, err
}

// Delete removes the document
func (r *DocumentRepository) Delete(ctx context.Context, id valueobjects.DocumentID) error {
	return r.tracer.Trace(ctx, "DocumentRepository.Delete", func(ctx context.Context) error {
		expr, err := expression.NewBuilder().
			WithCondition(expression.AttributeExists(expression.Name("PK"))).
			Build()
		if err != nil {
			return pkgerrors.NewStorageError("delete document", err)
		}

		_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                aws.String(r.tableName),
			Key:                      documentKey(id),
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		})
		if isConditionFailed(err) {
			return pkgerrors.NewNotFoundError("document").WithDetail("documentId", id.String())
		}
		if err != nil {
			return pkgerrors.NewStorageError("delete document", err)
		}
		return nil
	})
}

func (r *DocumentRepository) toDocument(id valueobjects.DocumentID, item documentItem) (*aggregates.Document, error) {
	payload, err := r.codec.decode(item.Payload)
	if err != nil {
		return nil, pkgerrors.NewStorageError("load document", err)
	}

	nodes, badNodes := dto.NodesFromWire(payload.Nodes, r.config)
	edges, badEdges := dto.EdgesFromWire(payload.Edges)
	if bad := len(badNodes) + len(badEdges); bad > 0 {
		r.logger.Warn("Dropped undecodable items from stored document",
			zap.String("documentId", id.String()),
			zap.Int("dropped", bad),
		)
	}

	graph := aggregates.NewGraph(id.String(), r.config)
	if _, err := graph.ApplyFull(nodes, edges); err != nil {
		return nil, pkgerrors.NewStorageError("load document", err)
	}
	graph.MarkEventsAsCommitted()

	return aggregates.ReconstructDocument(
		id,
		item.Name,
		graph,
		item.Version,
		parseTime(item.CreatedAt),
		parseTime(item.UpdatedAt),
		aggregates.Metadata{
			LastModifiedAt: parseTime(item.LastModifiedAt),
			ModifiedBy:     item.ModifiedBy,
		},
	), nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return err != nil && errors.As(err, &ccf)
}
