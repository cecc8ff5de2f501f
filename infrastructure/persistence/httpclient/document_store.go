// Package httpclient is the editing session's view of the persistence
// service: the REST document API called through a circuit breaker.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"diagramsync/application/dto"
	"diagramsync/application/ports"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/pkg/common"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const documentsPath = "/api/v2/diagrams"

// StoreConfig configures the REST document store
type StoreConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// Consecutive server failures that open the breaker
	FailureThreshold uint32
	// How long the breaker stays open before probing
	OpenTimeout time.Duration
}

// DocumentStore implements ports.DocumentStore over the REST API
type DocumentStore struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	config  *config.DomainConfig
	logger  *zap.Logger
}

var _ ports.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates a store for the API at cfg.BaseURL
func NewDocumentStore(cfg StoreConfig, domain *config.DomainConfig, logger *zap.Logger) (*DocumentStore, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, pkgerrors.NewValidationError("persistence URL must be http or https").WithDetail("url", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if domain == nil {
		domain = config.DefaultDomainConfig()
	}

	s := &DocumentStore{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		config:  domain,
		logger:  logger,
	}

	threshold := cfg.FailureThreshold
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "persistence",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors are answers, not outages
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return s, nil
}

// Create asks the service for a new empty document. An empty id lets the
// service choose one.
func (s *DocumentStore) Create(ctx context.Context, id, name string) (protocol.DocumentResponse, error) {
	var out protocol.DocumentResponse
	err := s.call(ctx, http.MethodPost, documentsPath, protocol.CreateDocumentRequest{ID: id, Name: name}, &out)
	return out, err
}

// Load fetches the canonical document. Items that do not decode are
// dropped and logged.
func (s *DocumentStore) Load(ctx context.Context, id valueobjects.DocumentID) (*aggregates.Document, error) {
	var out protocol.DocumentResponse
	if err := s.call(ctx, http.MethodGet, documentPath(id), nil, &out); err != nil {
		return nil, err
	}

	doc, bad, err := dto.DocumentFromWire(out, s.config)
	if err != nil {
		return nil, pkgerrors.NewExternalError("persistence", err)
	}
	if len(bad) > 0 {
		s.logger.Warn("Dropped invalid items from loaded document",
			zap.String("documentId", id.String()),
			zap.Int("dropped", len(bad)),
		)
	}
	return doc, nil
}

// Save replaces the stored graph with the snapshot
func (s *DocumentStore) Save(ctx context.Context, id valueobjects.DocumentID, snapshot aggregates.Snapshot) (aggregates.SaveResult, error) {
	var out protocol.SaveDocumentResponse
	if err := s.call(ctx, http.MethodPut, documentPath(id), dto.SnapshotToWire(snapshot), &out); err != nil {
		return aggregates.SaveResult{}, err
	}
	return aggregates.SaveResult{Version: out.Version, UpdatedAt: out.UpdatedAt}, nil
}

// Delete removes the document
func (s *DocumentStore) Delete(ctx context.Context, id valueobjects.DocumentID) error {
	return s.call(ctx, http.MethodDelete, documentPath(id), nil, nil)
}

func documentPath(id valueobjects.DocumentID) string {
	return documentsPath + "/" + url.PathEscape(id.String())
}

// call runs one request through the breaker and decodes the data field of
// the response into out.
func (s *DocumentStore) call(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.do(ctx, method, path, body, out)
	})
	switch err {
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
		return pkgerrors.NewUnavailableError("persistence").WithCause(err)
	}
	return err
}

func (s *DocumentStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.NewInternalError("failed to encode request").WithCause(err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return pkgerrors.NewInternalError("failed to build request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return pkgerrors.NewTimeoutError(method + " " + path).WithCause(err)
		}
		return pkgerrors.NewUnavailableError("persistence").WithCause(err)
	}
	defer resp.Body.Close()

	s.logger.Debug("Persistence call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var envelope common.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return pkgerrors.NewExternalError("persistence", fmt.Errorf("failed to decode response: %w", err))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return pkgerrors.NewExternalError("persistence", fmt.Errorf("failed to decode response data: %w", err))
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body pkgerrors.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		message = body.Error.Message
	}
	appErr := pkgerrors.FromHTTPStatus(resp.StatusCode, message)
	if body.Error.Code != "" {
		appErr = appErr.WithCode(body.Error.Code)
	}
	if len(body.Error.Details) > 0 {
		appErr = appErr.WithDetails(body.Error.Details)
	}
	return appErr
}

func isServerFault(err error) bool {
	appErr := pkgerrors.GetAppError(err)
	if appErr == nil {
		return true
	}
	return appErr.HTTPStatus == 0 || appErr.HTTPStatus >= http.StatusInternalServerError || pkgerrors.IsUnavailable(err)
}
