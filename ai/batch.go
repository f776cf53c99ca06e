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

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragify/core"
)

const (
	// DefaultBatchSize is the number of texts sent per backend call.
	DefaultBatchSize = 100

	// DefaultConcurrency is the number of batches in flight at once.
	DefaultConcurrency = 4
)

// EmbedResult is delivered by EmbedAsync.
type EmbedResult struct {
	Vectors [][]float32
	Err     error
}

// BatchEmbedder splits large inputs into fixed-size batches, embeds them
// concurrently on a bounded pool and reassembles the vectors in input order.
// It does not retry: a failed batch is reported in a *core.EmbeddingError
// together with the vectors of the batches that succeeded, so callers can
// Resume without re-embedding them.
type BatchEmbedder struct {
	embedder   Embedder
	batchSize  int
	dimensions int
	pool       *ants.Pool
	logger     *slog.Logger
}

// BatchOption configures a BatchEmbedder.
type BatchOption func(*BatchEmbedder) error

// WithBatchSize sets the number of texts per backend call.
// Default is DefaultBatchSize.
func WithBatchSize(size int) BatchOption {
	return func(b *BatchEmbedder) error {
		if size < 1 {
			return ErrInvalidBatchSize
		}
		b.batchSize = size
		return nil
	}
}

// WithConcurrency sets the number of batches in flight.
// Default is DefaultConcurrency.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchEmbedder) error {
		if n < 1 {
			return ErrInvalidConcurrency
		}
		if b.pool != nil {
			b.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		b.pool = pool
		return nil
	}
}

// WithVectorDimensions enables the dimension check. Zero disables it.
func WithVectorDimensions(dims int) BatchOption {
	return func(b *BatchEmbedder) error {
		b.dimensions = dims
		return nil
	}
}

// WithBatchLogger sets a custom logger.
// Default is slog.Default().
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchEmbedder) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// NewBatchEmbedder wraps embedder with batching and bounded concurrency.
func NewBatchEmbedder(embedder Embedder, opts ...BatchOption) (*BatchEmbedder, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	pool, err := ants.NewPool(DefaultConcurrency)
	if err != nil {
		return nil, err
	}

	b := &BatchEmbedder{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		pool:      pool,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(b); optErr != nil {
			b.Release()
			return nil, optErr
		}
	}
	b.logger = b.logger.With("component", "batch-embedder")
	return b, nil
}

// Dimensions returns the enforced vector dimension, or zero when unchecked.
func (b *BatchEmbedder) Dimensions() int {
	return b.dimensions
}

// EmbedText embeds a single text, enforcing the configured dimension.
func (b *BatchEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := b.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, &core.EmbeddingError{Failures: []core.BatchFailure{{Start: 0, End: 1, Detail: err.Error(), Err: err}}}
	}
	if err := b.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Embed blocks until every batch has been embedded.
// The result has the same length and order as texts.
func (b *BatchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return b.Resume(ctx, texts, nil)
}

// EmbedAsync runs Embed on a separate goroutine and delivers the result on
// the returned channel, which receives exactly one value.
func (b *BatchEmbedder) EmbedAsync(ctx context.Context, texts []string) <-chan EmbedResult {
	ch := make(chan EmbedResult, 1)
	go func() {
		vecs, err := b.Embed(ctx, texts)
		ch <- EmbedResult{Vectors: vecs, Err: err}
	}()
	return ch
}

// Resume embeds only the batches of texts whose vectors are missing from
// partial, typically the Partial field of a previous *core.EmbeddingError.
// A nil partial embeds everything.
func (b *BatchEmbedder) Resume(ctx context.Context, texts []string, partial [][]float32) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	result := make([][]float32, len(texts))
	if partial != nil {
		if len(partial) != len(texts) {
			return nil, fmt.Errorf("%w: partial result has %d vectors for %d texts",
				ErrLengthMismatch, len(partial), len(texts))
		}
		copy(result, partial)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []core.BatchFailure
		fatal    error
	)

	for batch, start := 0, 0; start < len(texts); batch, start = batch+1, start+b.batchSize {
		end := min(start+b.batchSize, len(texts))
		if complete(result[start:end]) {
			continue
		}

		wg.Add(1)
		submitErr := b.pool.Submit(func() {
			defer wg.Done()
			vecs, err := b.embedBatch(ctx, texts[start:end])

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				copy(result[start:end], vecs)
			case isFatal(err):
				fatal = err
			default:
				b.logger.Warn("embedding batch failed", "batch", batch, "start", start, "end", end, "err", err)
				failures = append(failures, core.BatchFailure{
					Batch: batch, Start: start, End: end, Detail: err.Error(), Err: err,
				})
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			failures = append(failures, core.BatchFailure{
				Batch: batch, Start: start, End: end, Detail: submitErr.Error(), Err: submitErr,
			})
			mu.Unlock()
		}
	}
	wg.Wait()

	if fatal != nil {
		return nil, fatal
	}
	if len(failures) > 0 {
		slices.SortFunc(failures, func(a, b core.BatchFailure) int { return a.Batch - b.Batch })
		return nil, &core.EmbeddingError{Failures: failures, Partial: result}
	}
	return result, nil
}

func (b *BatchEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrLengthMismatch, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if err := b.checkDimension(v); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (b *BatchEmbedder) checkDimension(vec []float32) error {
	if b.dimensions > 0 && len(vec) != b.dimensions {
		return fmt.Errorf("%w: got %d, want %d", core.ErrDimensionMismatch, len(vec), b.dimensions)
	}
	return nil
}

// Release releases the worker pool.
func (b *BatchEmbedder) Release() {
	if b.pool != nil {
		b.pool.Release()
	}
}

func complete(vecs [][]float32) bool {
	for _, v := range vecs {
		if v == nil {
			return false
		}
	}
	return true
}

func isFatal(err error) bool {
	return errors.Is(err, core.ErrDimensionMismatch)
}
