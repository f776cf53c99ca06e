// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/retry"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBatchSize is the number of points written per upsert call.
	DefaultBatchSize = 100
	// DefaultConnectAttempts is the number of pings made by Connect.
	DefaultConnectAttempts = 3
	// DefaultConnectInterval is the pause between Connect pings.
	DefaultConnectInterval = 5 * time.Second
)

// Manager maps tenants onto collections and batches writes to a Backend.
type Manager struct {
	backend         Backend
	prefix          string
	batchSize       int
	contentHashIDs  bool
	connectAttempts int
	connectInterval time.Duration
	logger          *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	known map[string]int // collection name -> dimensions
}

// Option configures a Manager.
type Option func(*Manager) error

// WithCollectionPrefix sets the prefix of every collection name.
func WithCollectionPrefix(prefix string) Option {
	return func(m *Manager) error {
		m.prefix = prefix
		return nil
	}
}

// WithBatchSize sets the number of points per upsert call.
func WithBatchSize(size int) Option {
	return func(m *Manager) error {
		if size <= 0 {
			return ErrInvalidBatchSize
		}
		m.batchSize = size
		return nil
	}
}

// WithContentHashIDs derives missing point ids from the point text.
// Two points with identical text then share an id and the later write wins.
func WithContentHashIDs(enabled bool) Option {
	return func(m *Manager) error {
		m.contentHashIDs = enabled
		return nil
	}
}

// WithConnectRetry sets how Connect retries an unreachable backend.
func WithConnectRetry(attempts int, interval time.Duration) Option {
	return func(m *Manager) error {
		if attempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		m.connectAttempts = attempts
		m.connectInterval = interval
		return nil
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			return errors.New("logger is required")
		}
		m.logger = logger
		return nil
	}
}

// NewManager creates a Manager on backend.
func NewManager(backend Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	m := &Manager{
		backend:         backend,
		batchSize:       DefaultBatchSize,
		connectAttempts: DefaultConnectAttempts,
		connectInterval: DefaultConnectInterval,
		logger:          slog.Default().With("component", "index-manager"),
		known:           make(map[string]int),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// unavailable tags a backend failure as an index availability error,
// leaving domain errors untouched.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrIndexUnavailable) ||
		errors.Is(err, core.ErrDimensionMismatch) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", core.ErrIndexUnavailable, op, err)
}

// Connect pings the backend until it answers or the attempt budget runs out.
func (m *Manager) Connect(ctx context.Context) error {
	err := retry.Fixed(ctx, func() error {
		return m.backend.Ping(ctx)
	}, m.connectAttempts, m.connectInterval)
	if err != nil {
		m.logger.Error("vector index unreachable", "attempts", m.connectAttempts, "err", err)
		return fmt.Errorf("%w: after %d attempts: %w", core.ErrIndexUnavailable, m.connectAttempts, err)
	}
	return nil
}

// CollectionName returns the tenant's collection name.
func (m *Manager) CollectionName(tenant core.Tenant) string {
	return tenant.CollectionName(m.prefix)
}

// EnsureCollection makes sure the tenant's collection exists with dim-sized
// vectors and a keyword index on the file name. Concurrent calls for the same
// tenant share one backend round trip.
func (m *Manager) EnsureCollection(ctx context.Context, tenant core.Tenant, dim int) (string, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return "", err
	}
	if dim <= 0 {
		return "", ErrInvalidDimensions
	}
	name := m.CollectionName(tenant)

	m.mu.RLock()
	knownDim, ok := m.known[name]
	m.mu.RUnlock()
	if ok {
		return name, checkDimensions(name, knownDim, dim)
	}

	v, err, _ := m.group.Do(name+"/"+strconv.Itoa(dim), func() (any, error) {
		return m.ensure(ctx, name, dim)
	})
	if err != nil {
		return "", err
	}
	return name, checkDimensions(name, v.(int), dim)
}

func (m *Manager) ensure(ctx context.Context, name string, dim int) (int, error) {
	info, err := m.backend.DescribeCollection(ctx, name)
	switch {
	case err == nil:
		// a creator that died before indexing left the collection without its keyword index
		if err := m.backend.CreateKeywordIndex(ctx, name, FileNameField); err != nil {
			return 0, unavailable("create keyword index", err)
		}
		m.remember(name, info.Dimensions)
		return info.Dimensions, nil
	case !errors.Is(err, ErrCollectionNotFound):
		return 0, unavailable("describe collection", err)
	}

	err = m.backend.CreateCollection(ctx, name, dim)
	switch {
	case err == nil:
		m.logger.Info("created collection", "collection", name, "dimensions", dim)
	case errors.Is(err, ErrCollectionExists):
		// Another process won the race; read back what it created.
		info, err := m.backend.DescribeCollection(ctx, name)
		if err != nil {
			return 0, unavailable("describe collection", err)
		}
		dim = info.Dimensions
	default:
		return 0, unavailable("create collection", err)
	}

	if err := m.backend.CreateKeywordIndex(ctx, name, FileNameField); err != nil {
		return 0, unavailable("create keyword index", err)
	}
	m.remember(name, dim)
	return dim, nil
}

// attach prepares an existing collection for this process once, without
// creating it. It returns ErrCollectionNotFound for a missing collection.
func (m *Manager) attach(ctx context.Context, name string) error {
	m.mu.RLock()
	_, ok := m.known[name]
	m.mu.RUnlock()
	if ok {
		return nil
	}
	_, err, _ := m.group.Do(name+"/attach", func() (any, error) {
		info, err := m.backend.DescribeCollection(ctx, name)
		if err != nil {
			if errors.Is(err, ErrCollectionNotFound) {
				return nil, err
			}
			return nil, unavailable("describe collection", err)
		}
		if err := m.backend.CreateKeywordIndex(ctx, name, FileNameField); err != nil {
			return nil, unavailable("create keyword index", err)
		}
		m.remember(name, info.Dimensions)
		return nil, nil
	})
	return err
}

func (m *Manager) remember(name string, dim int) {
	m.mu.Lock()
	m.known[name] = dim
	m.mu.Unlock()
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	delete(m.known, name)
	m.mu.Unlock()
}

func checkDimensions(name string, have, want int) error {
	if have != want {
		return fmt.Errorf("%w: collection %s holds %d-dimensional vectors, got %d",
			core.ErrDimensionMismatch, name, have, want)
	}
	return nil
}

// Upsert writes points to the tenant's collection in batches and returns the
// point ids in input order. The collection must already exist. Ids derived
// from content are set on a copy; the caller's points are not modified.
func (m *Manager) Upsert(ctx context.Context, tenant core.Tenant, points []core.VectorPoint) ([]core.ID, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if m.contentHashIDs {
		points = slices.Clone(points)
	}
	ids := make([]core.ID, len(points))
	for i := range points {
		if points[i].ID == 0 {
			if !m.contentHashIDs {
				return nil, fmt.Errorf("%w: point %d", ErrMissingPointID, i)
			}
			points[i].ID = core.PointIDFromContent(points[i].Payload.Text)
		}
		ids[i] = points[i].ID
	}

	name := m.CollectionName(tenant)
	for start := 0; start < len(points); start += m.batchSize {
		end := min(start+m.batchSize, len(points))
		if err := m.backend.Upsert(ctx, name, points[start:end]); err != nil {
			if errors.Is(err, ErrCollectionNotFound) {
				m.forget(name)
			}
			m.logger.Error("upsert failed", "collection", name, "start", start, "end", end, "err", err)
			return nil, unavailable(fmt.Sprintf("upsert points %d-%d", start, end), err)
		}
	}
	m.logger.Debug("upserted points", "collection", name, "points", len(points))
	return ids, nil
}

// Search returns the limit points most similar to vector. A tenant without a
// collection has no results; the collection is not created.
func (m *Manager) Search(ctx context.Context, tenant core.Tenant, vector []float32, limit int) ([]core.ScoredPoint, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	name := m.CollectionName(tenant)
	if err := m.attach(ctx, name); err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return []core.ScoredPoint{}, nil
		}
		return nil, err
	}
	points, err := m.backend.Search(ctx, name, vector, limit)
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			m.forget(name)
			return []core.ScoredPoint{}, nil
		}
		return nil, unavailable("search", err)
	}
	if points == nil {
		points = []core.ScoredPoint{}
	}
	return points, nil
}

// DeleteByFileName removes every point of the tenant that came from fileName.
func (m *Manager) DeleteByFileName(ctx context.Context, tenant core.Tenant, fileName string) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	name := m.CollectionName(tenant)
	err := m.backend.DeleteByField(ctx, name, FileNameField, fileName)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	return unavailable("delete by file name", err)
}

// DeletePoints removes points by id from the named collection.
func (m *Manager) DeletePoints(ctx context.Context, collection string, ids []core.ID) error {
	if len(ids) == 0 {
		return nil
	}
	err := m.backend.DeletePoints(ctx, collection, ids)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	return unavailable("delete points", err)
}

// Close closes the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
