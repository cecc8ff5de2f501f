package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"diagramsync/application/commands/bus"
	commandhandlers "diagramsync/application/commands/handlers"
	"diagramsync/application/ports"
	"diagramsync/application/queries"
	querybus "diagramsync/application/queries/bus"
	queryhandlers "diagramsync/application/queries/handlers"
	domainconfig "diagramsync/domain/config"
	"diagramsync/infrastructure/config"
	"diagramsync/infrastructure/messaging/eventbridge"
	"diagramsync/infrastructure/messaging/local"
	redisrelay "diagramsync/infrastructure/messaging/redis"
	"diagramsync/infrastructure/persistence/dynamodb"
	"diagramsync/infrastructure/persistence/memory"
	"diagramsync/interfaces/http/rest"
	"diagramsync/interfaces/http/rest/middleware"
	"diagramsync/interfaces/websocket"
	"diagramsync/pkg/auth"
	"diagramsync/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}

// ProvideDomainConfig selects the domain limits for the environment
func ProvideDomainConfig(cfg *config.Config) (*domainconfig.DomainConfig, error) {
	domain := domainconfig.LoadDomainConfig(cfg.Environment)
	if err := domain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid domain config: %w", err)
	}
	return domain, nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer("diagramsync", cfg.EnableTracing)
}

// ProvideDocumentRepository selects the storage backend
func ProvideDocumentRepository(
	cfg *config.Config,
	client *awsdynamodb.Client,
	domain *domainconfig.DomainConfig,
	tracer *observability.Tracer,
	logger *zap.Logger,
) (ports.DocumentRepository, error) {
	switch cfg.StorageBackend {
	case config.StorageDynamoDB:
		return dynamodb.NewDocumentRepository(client, cfg.TableName, domain, tracer, logger)
	case config.StorageMemory:
		logger.Warn("Using in-memory document storage; documents are lost on restart")
		return memory.NewDocumentRepository(domain), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// ProvideEventPublisher publishes to EventBridge when a bus is configured
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBusName == "" {
		return eventbridge.NewLogPublisher(logger)
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideInMemoryCache creates the query cache and its cleanup
func ProvideInMemoryCache() (*InMemoryCache, func()) {
	cache := NewInMemoryCache(time.Minute)
	return cache, cache.Stop
}

// ProvideCollector creates the prometheus collector
func ProvideCollector(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.MetricsNamespace)
}

// ProvideCommandMetrics records command metrics to CloudWatch on Lambda.
// Elsewhere it returns nil and commands are only logged.
func ProvideCommandMetrics(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) *observability.CommandMetrics {
	if !cfg.EnableMetrics || !cfg.IsLambda {
		return nil
	}
	namespace := fmt.Sprintf("DiagramSync/%s", cfg.Environment)
	return observability.NewCommandMetrics(namespace, client, logger)
}

// ProvideCommandBus creates a command bus with the document handlers
func ProvideCommandBus(
	repo ports.DocumentRepository,
	publisher ports.EventPublisher,
	cache *InMemoryCache,
	domain *domainconfig.DomainConfig,
	metrics *observability.CommandMetrics,
	collector *observability.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	middleware := []bus.Middleware{bus.LoggingMiddleware(logger)}
	if metrics != nil {
		middleware = append(middleware, bus.MetricsMiddleware(metrics))
	}
	if cfg.EnableMetrics {
		middleware = append(middleware, bus.MetricsMiddleware(collector))
	}
	commandBus := bus.NewCommandBus(middleware...)

	handlers := commandhandlers.NewDocumentHandlers(repo, publisher, cache, domain, logger)
	if err := handlers.RegisterAll(commandBus); err != nil {
		return nil, fmt.Errorf("failed to register command handlers: %w", err)
	}
	return commandBus, nil
}

// ProvideQueryBus creates a query bus with a cached document query
func ProvideQueryBus(
	repo ports.DocumentRepository,
	cache *InMemoryCache,
	cfg *config.Config,
	logger *zap.Logger,
) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus()

	var handler querybus.QueryHandler = queryhandlers.NewGetDocumentHandler(repo, logger)
	if cfg.DocumentCacheTTLSecs > 0 {
		handler = querybus.NewCachingMiddleware(cache, cfg.DocumentCacheTTLSecs, logger).Wrap(handler)
	}
	if err := queryBus.Register(queries.GetDocumentQuery{}, handler); err != nil {
		return nil, fmt.Errorf("failed to register query handlers: %w", err)
	}
	return queryBus, nil
}

// ProvideRoomRelay shares rooms through Redis when REDIS_ADDR is set.
// Otherwise rooms are local to this instance.
func ProvideRoomRelay(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.RoomRelay, func(), error) {
	if cfg.RedisAddr == "" {
		return local.NewRelay(), func() {}, nil
	}
	relay, err := redisrelay.Dial(ctx, cfg.RedisAddr, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := relay.Close(); err != nil {
			logger.Warn("Failed to close redis relay", zap.Error(err))
		}
	}
	return relay, cleanup, nil
}

// ProvideJWTValidator returns nil when no secret is configured
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
	})
}

// ProvideHub creates the websocket room hub
func ProvideHub(relay ports.RoomRelay, collector *observability.Collector, logger *zap.Logger) *websocket.Hub {
	return websocket.NewHub(relay, collector, logger)
}

// ProvideWebSocketServer creates the upgrade handler and its cleanup
func ProvideWebSocketServer(
	hub *websocket.Hub,
	validator *auth.JWTValidator,
	cfg *config.Config,
	logger *zap.Logger,
) (*websocket.Server, func()) {
	server := websocket.NewServer(hub, validator, websocket.ServerConfig{
		MaxMessageBytes:   cfg.WSMaxMessageBytes,
		SendBuffer:        cfg.WSSendBuffer,
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		AllowedOrigins:    cfg.AllowedOrigins,
		DevIdentity:       cfg.DevIdentityAllowed(),
	}, logger)
	return server, server.Close
}

// ProvideRouter builds the HTTP handler for REST and websocket traffic
func ProvideRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	ws *websocket.Server,
	collector *observability.Collector,
	validator *auth.JWTValidator,
	domain *domainconfig.DomainConfig,
	cfg *config.Config,
	logger *zap.Logger,
) http.Handler {
	var metrics *observability.Collector
	if cfg.EnableMetrics {
		metrics = collector
	}
	router := rest.NewRouter(
		commandBus,
		queryBus,
		http.HandlerFunc(ws.HandleWebSocket),
		metrics,
		nil,
		domain,
		rest.RouterConfig{
			AllowedOrigins:    cfg.AllowedOrigins,
			RequestsPerMinute: cfg.RequestsPerMinute,
			MaxBodyBytes:      cfg.MaxRequestBodyBytes,
			Debug:             cfg.IsDevelopment(),
			Auth: middleware.AuthConfig{
				Validator:   validator,
				DevIdentity: cfg.DevIdentityAllowed(),
			},
		},
		logger,
	)
	return router.Setup()
}
