// Package rest exposes the document persistence API and mounts the
// collaboration websocket.
package rest

import (
	"net/http"
	"strings"

	"diagramsync/application/commands/bus"
	querybus "diagramsync/application/queries/bus"
	"diagramsync/domain/config"
	"diagramsync/interfaces/http/rest/handlers"
	"diagramsync/interfaces/http/rest/middleware"
	"diagramsync/pkg/auth"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(r *http.Request) error

// RouterConfig holds the router's tunables
type RouterConfig struct {
	AllowedOrigins    []string
	RequestsPerMinute int
	MaxBodyBytes      int64
	Debug             bool
	Auth              middleware.AuthConfig
}

// Router creates and configures the HTTP router
type Router struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	websocket  http.Handler
	metrics    *observability.Collector
	ready      ReadinessCheck
	domain     *config.DomainConfig
	config     RouterConfig
	logger     *zap.Logger
}

// NewRouter creates a new router instance. websocket, metrics and ready may
// be nil; the Lambda build serves the REST API alone.
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	websocket http.Handler,
	metrics *observability.Collector,
	ready ReadinessCheck,
	domain *config.DomainConfig,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		commandBus: commandBus,
		queryBus:   queryBus,
		websocket:  websocket,
		metrics:    metrics,
		ready:      ready,
		domain:     domain,
		config:     cfg,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	errs := pkgerrors.NewErrorHandler(rt.logger, rt.config.Debug)
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}
	router.Use(versionMiddleware)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Name"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}
	if rt.websocket != nil {
		router.Method(http.MethodGet, "/ws", rt.websocket)
	}

	// v1 was the whole-document save API; it now lives under v2
	router.Route("/api/v1", func(r chi.Router) {
		r.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, strings.Replace(req.URL.Path, "/api/v1", "/api/v2", 1), http.StatusPermanentRedirect)
		})
	})

	router.Route("/api/v2", func(r chi.Router) {
		if rt.config.RequestsPerMinute > 0 {
			limiter := auth.NewIPRateLimiter(rt.config.RequestsPerMinute)
			r.Use(middleware.RateLimit(limiter, rt.config.RequestsPerMinute, errs))
		}
		r.Use(middleware.Authenticate(rt.config.Auth, errs))

		diagrams := handlers.NewDiagramHandler(rt.commandBus, rt.queryBus, errs, rt.domain, rt.maxBody(), rt.logger)
		r.Route("/diagrams", func(r chi.Router) {
			r.Post("/", diagrams.CreateDiagram)
			r.Get("/{documentID}", diagrams.GetDiagram)
			r.Put("/{documentID}", diagrams.SaveDiagram)
			r.Delete("/{documentID}", diagrams.DeleteDiagram)
		})
	})

	return router
}

func (rt *Router) maxBody() int64 {
	if rt.config.MaxBodyBytes > 0 {
		return rt.config.MaxBodyBytes
	}
	return 8 << 20
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if rt.ready != nil {
		if err := rt.ready(req); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// versionMiddleware adds API version headers to all responses
func versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := "v2"
		if strings.Contains(r.URL.Path, "/api/v1") {
			version = "v1"
		}
		w.Header().Set("X-API-Version", version)
		w.Header().Set("X-API-Latest", "v2")
		next.ServeHTTP(w, r)
	})
}
