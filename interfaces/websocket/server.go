package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"diagramsync/pkg/auth"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServerConfig holds websocket server configuration
type ServerConfig struct {
	MaxMessageBytes   int64
	SendBuffer        int
	MessagesPerSecond int
	AllowedOrigins    []string
	WriteWait         time.Duration
	PongWait          time.Duration

	// DevIdentity accepts userId/userName query params when no token is sent
	DevIdentity bool
}

// DefaultServerConfig returns default websocket server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxMessageBytes:   4 << 20,
		SendBuffer:        256,
		MessagesPerSecond: 50,
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
	}
}

func (c *ServerConfig) withDefaults() {
	d := DefaultServerConfig()
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = d.MessagesPerSecond
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
}

// pingPeriod must be shorter than PongWait
func (c ServerConfig) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Server upgrades authenticated requests to channel connections
type Server struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	validator *auth.JWTValidator
	limiter   *auth.TokenBucketLimiter
	config    ServerConfig
	logger    *zap.Logger
}

// NewServer creates a websocket server. validator may be nil when only
// development identities are accepted.
func NewServer(hub *Hub, validator *auth.JWTValidator, config ServerConfig, logger *zap.Logger) *Server {
	config.withDefaults()
	s := &Server{
		hub:       hub,
		validator: validator,
		limiter:   auth.NewTokenBucketLimiter(config.MessagesPerSecond, config.MessagesPerSecond*2),
		config:    config,
		logger:    logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Hub returns the server's hub
func (s *Server) Hub() *Hub { return s.hub }

// Close stops the frame limiter
func (s *Server) Close() {
	s.limiter.Stop()
}

// HandleWebSocket handles websocket upgrade requests
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		s.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.logger.Warn("Failed to upgrade connection", zap.Error(err), zap.String("remoteAddr", r.RemoteAddr))
		return
	}

	client := newClient(identity, s.hub, conn, s.limiter, s.config, s.logger)
	if err := client.start(); err != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	s.logger.Info("New WebSocket connection established",
		zap.String("userId", identity.UserID),
		zap.String("connectionId", client.ID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}

// authenticate resolves the identity from the token query param, a Bearer
// header or the auth_token cookie, in that order.
func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		if cookie, err := r.Cookie("auth_token"); err == nil {
			token = cookie.Value
		}
	}

	if token == "" {
		if s.config.DevIdentity {
			return devIdentity(r)
		}
		return auth.Identity{}, auth.ErrMissingToken
	}
	if s.validator == nil {
		return auth.Identity{}, errors.New("token authentication is not configured")
	}

	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	return claims.Identity(), nil
}

func devIdentity(r *http.Request) (auth.Identity, error) {
	q := r.URL.Query()
	identity := auth.Identity{UserID: q.Get("userId"), DisplayName: q.Get("userName")}
	if identity.IsZero() {
		return auth.Identity{}, auth.ErrMissingToken
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.UserID
	}
	return identity, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
