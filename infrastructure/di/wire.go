//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"diagramsync/infrastructure/config"

	"github.com/google/wire"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideDomainConfig,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideTracer,
	ProvideDocumentRepository,
	ProvideEventPublisher,
	ProvideInMemoryCache,
	ProvideCollector,
	ProvideCommandMetrics,
	ProvideCommandBus,
	ProvideQueryBus,
	ProvideRoomRelay,
	ProvideJWTValidator,
	ProvideHub,
	ProvideWebSocketServer,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
