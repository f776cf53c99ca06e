// Package qdrant implements index.Backend on Qdrant's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
)

// DefaultEndpoint is Qdrant's default REST address.
const DefaultEndpoint = "http://localhost:6333"

// Backend talks to a Qdrant server over HTTP.
type Backend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *slog.Logger
}

var _ index.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend) error

// WithAPIKey sets the api-key header sent with every request.
func WithAPIKey(key string) Option {
	return func(b *Backend) error {
		b.apiKey = key
		return nil
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(b *Backend) error {
		if timeout <= 0 {
			return errors.New("timeout must be positive")
		}
		b.client.Timeout = timeout
		return nil
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) error {
		if client == nil {
			return errors.New("http client is required")
		}
		b.client = client
		return nil
	}
}

// New creates a backend for the server at endpoint. A bare host gets an http:// scheme.
func New(endpoint string, opts ...Option) (*Backend, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	b := &Backend{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: strings.TrimSuffix(endpoint, "/"),
		logger:   slog.Default().With("component", "qdrant"),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// statusError is a non-2xx response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant returned %d: %s", e.status, e.body)
}

// do sends a JSON request and decodes the "result" field of the response into out.
func (b *Backend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("api-key", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		b.logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode)
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	envelope := struct {
		Result any `json:"result"`
	}{Result: out}
	return json.NewDecoder(resp.Body).Decode(&envelope)
}

// classify maps Qdrant responses onto index errors.
func classify(err error) error {
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", index.ErrCollectionNotFound, se.body)
	case se.status == http.StatusConflict,
		se.status == http.StatusBadRequest && strings.Contains(se.body, "already exists"):
		return fmt.Errorf("%w: %s", index.ErrCollectionExists, se.body)
	}
	return err
}

func collectionPath(name string, parts ...string) string {
	return "/collections/" + url.PathEscape(name) + strings.Join(parts, "")
}

// Ping checks the server's health endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	return b.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

type collectionResult struct {
	PointsCount int `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

// DescribeCollection reads a collection's vector size and point count.
func (b *Backend) DescribeCollection(ctx context.Context, name string) (*index.CollectionInfo, error) {
	var result collectionResult
	if err := b.do(ctx, http.MethodGet, collectionPath(name), nil, &result); err != nil {
		return nil, classify(err)
	}
	return &index.CollectionInfo{
		Name:       name,
		Dimensions: result.Config.Params.Vectors.Size,
		Points:     result.PointsCount,
	}, nil
}

// CreateCollection creates a cosine-distance collection.
func (b *Backend) CreateCollection(ctx context.Context, name string, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	return classify(b.do(ctx, http.MethodPut, collectionPath(name), body, nil))
}

// CreateKeywordIndex creates a keyword payload index on field.
func (b *Backend) CreateKeywordIndex(ctx context.Context, name, field string) error {
	body := map[string]any{
		"field_name":   field,
		"field_schema": "keyword",
	}
	return classify(b.do(ctx, http.MethodPut, collectionPath(name, "/index?wait=true"), body, nil))
}

type point struct {
	ID      uint64       `json:"id"`
	Vector  []float32    `json:"vector,omitempty"`
	Payload core.Payload `json:"payload"`
}

// Upsert writes points and waits for them to be applied.
func (b *Backend) Upsert(ctx context.Context, name string, points []core.VectorPoint) error {
	out := make([]point, len(points))
	for i, p := range points {
		out[i] = point{ID: uint64(p.ID), Vector: p.Vector, Payload: p.Payload}
	}
	body := map[string]any{"points": out}
	return classify(b.do(ctx, http.MethodPut, collectionPath(name, "/points?wait=true"), body, nil))
}

type scoredPoint struct {
	ID      uint64       `json:"id"`
	Score   float32      `json:"score"`
	Payload core.Payload `json:"payload"`
}

// Search returns the nearest points with their payloads.
func (b *Backend) Search(ctx context.Context, name string, vector []float32, limit int) ([]core.ScoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	var result []scoredPoint
	if err := b.do(ctx, http.MethodPost, collectionPath(name, "/points/search"), body, &result); err != nil {
		return nil, classify(err)
	}
	points := make([]core.ScoredPoint, len(result))
	for i, r := range result {
		points[i] = core.ScoredPoint{ID: core.ID(r.ID), Score: r.Score, Payload: r.Payload}
	}
	return points, nil
}

// DeleteByField removes points whose payload field matches value exactly.
func (b *Backend) DeleteByField(ctx context.Context, name, field, value string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": field, "match": map[string]any{"value": value}},
			},
		},
	}
	return classify(b.do(ctx, http.MethodPost, collectionPath(name, "/points/delete?wait=true"), body, nil))
}

// DeletePoints removes points by id.
func (b *Backend) DeletePoints(ctx context.Context, name string, ids []core.ID) error {
	raw := make([]uint64, len(ids))
	for i, id := range ids {
		raw[i] = uint64(id)
	}
	body := map[string]any{"points": raw}
	return classify(b.do(ctx, http.MethodPost, collectionPath(name, "/points/delete?wait=true"), body, nil))
}

// Close releases idle connections.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
