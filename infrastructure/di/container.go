// Package di assembles the server from configuration.
package di

import (
	"net/http"

	"diagramsync/application/commands/bus"
	"diagramsync/application/ports"
	querybus "diagramsync/application/queries/bus"
	"diagramsync/infrastructure/config"
	"diagramsync/interfaces/websocket"
	"diagramsync/pkg/observability"

	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Repository ports.DocumentRepository
	CommandBus *bus.CommandBus
	QueryBus   *querybus.QueryBus
	Cache      *InMemoryCache
	Metrics    *observability.Collector
	Hub        *websocket.Hub
	WebSocket  *websocket.Server
	Router     http.Handler
}
