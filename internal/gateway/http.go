package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/logging"
	"github.com/sisbm/fleetsync/internal/models"
)

// overridable in tests
var nowFunc = time.Now

const (
	defaultTimeout     = 10 * time.Second
	defaultListRetries = 3
	listBackoffBase    = 250 * time.Millisecond
)

// HTTPGateway talks JSON to the server's /api/admin resource tree.
type HTTPGateway struct {
	baseURL     string
	client      *http.Client
	tokens      TokenProvider
	log         logging.Logger
	listRetries uint64
}

type Option func(*HTTPGateway)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) { g.client = c }
}

// WithLogger sets the logger; default is silent.
func WithLogger(l logging.Logger) Option {
	return func(g *HTTPGateway) { g.log = l }
}

// WithListRetries bounds the transient-retry budget of ListAll.
func WithListRetries(n uint64) Option {
	return func(g *HTTPGateway) { g.listRetries = n }
}

func NewHTTPGateway(baseURL string, tokens TokenProvider, opts ...Option) *HTTPGateway {
	g := &HTTPGateway{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: defaultTimeout},
		tokens:      tokens,
		log:         logging.NewNopLogger(),
		listRetries: defaultListRetries,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *HTTPGateway) Create(ctx context.Context, c models.Collection, body json.RawMessage, idempotencyKey string) (models.Record, error) {
	data, err := g.do(ctx, http.MethodPost, c.Path(), body, idempotencyKey, http.StatusCreated, http.StatusOK)
	if err != nil {
		return models.Record{}, err
	}
	return decodeServerRecord(data)
}

func (g *HTTPGateway) Update(ctx context.Context, c models.Collection, id int64, body json.RawMessage, idempotencyKey string) (models.Record, error) {
	data, err := g.do(ctx, http.MethodPut, c.ItemPath(id), body, idempotencyKey, http.StatusOK)
	if err != nil {
		return models.Record{}, err
	}
	return decodeServerRecord(data)
}

func (g *HTTPGateway) Delete(ctx context.Context, c models.Collection, id int64, idempotencyKey string) error {
	_, err := g.do(ctx, http.MethodDelete, c.ItemPath(id), nil, idempotencyKey, http.StatusNoContent, http.StatusOK)
	return err
}

// ListAll fetches the collection snapshot, retrying transient failures with
// fibonacci backoff. GET is idempotent, so retrying here is safe.
func (g *HTTPGateway) ListAll(ctx context.Context, c models.Collection) ([]models.Record, error) {
	var result []models.Record

	backoff := retry.WithMaxRetries(g.listRetries, retry.NewFibonacci(listBackoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		data, err := g.do(ctx, http.MethodGet, c.Path(), nil, "", http.StatusOK)
		if err != nil {
			if Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		var envelope struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("malformed list response: %w", err)
		}

		result = result[:0]
		for _, raw := range envelope.Data {
			rec, err := decodeServerRecord(raw)
			if err != nil {
				return err
			}
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Ping probes the health endpoint once. No retry: the connectivity monitor
// calls it on every tick and failures are its signal, not an error.
func (g *HTTPGateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+common.HealthPath, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health returned %d: %w", resp.StatusCode, common.ErrTransient)
	}
	return nil
}

// do executes one request and returns the raw response body on any of the
// accepted statuses. All error-taxonomy mapping happens here.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body json.RawMessage, idempotencyKey string, acceptStatuses ...int) ([]byte, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(common.AuthorizationHeader, "Bearer "+token)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(common.IdempotencyKeyHeader, idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", common.ErrTransient)
	}

	for _, status := range acceptStatuses {
		if resp.StatusCode == status {
			return data, nil
		}
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		rej := &RejectedError{Status: resp.StatusCode, Message: serverMessage(data)}
		g.log.Warn(ctx, "request rejected", "method", method, "path", path, "status", resp.StatusCode)
		return nil, rej
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server returned %d: %w", resp.StatusCode, common.ErrTransient)
	default:
		return nil, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, common.ErrTransient)
	}
}

// transportError classifies a client.Do failure: timeouts are transient
// (the server may just be slow), anything else means no network path.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", common.ErrTransient)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timed out: %w", common.ErrTransient)
	}
	return fmt.Errorf("%v: %w", err, common.ErrUnreachable)
}

// decodeServerRecord parses a server record object, pulling the assigned id
// out of the body.
func decodeServerRecord(data []byte) (models.Record, error) {
	id, body, err := models.ExtractID(data)
	if err != nil {
		return models.Record{}, fmt.Errorf("malformed server record: %w", err)
	}
	if id == 0 {
		return models.Record{}, fmt.Errorf("server record missing id")
	}
	return models.Record{ID: id, Body: body, Synced: true}, nil
}

func serverMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	const max = 200
	if len(data) > max {
		data = data[:max]
	}
	return string(data)
}
