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

// Package ai provides abstractions for the AI services used by ragify.
//
// This package defines the embedding and generation ports the pipeline
// depends on, so that chunk ingestion and retrieval can be tested and run
// against any backend.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - Generator: Produces structured JSON output from instructions and context
//   - AIProvider: Aggregates AI services for convenient initialization
//
// BatchEmbedder wraps any Embedder with fixed-size batching, a bounded worker
// pool and a dimension check. It offers a blocking Embed, a channel-based
// EmbedAsync, and Resume for re-embedding only the batches that failed.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// INTERFACE types. Test constructors (mock.NewMockEmbedder,
// mock.NewMockGenerator) return CONCRETE types so tests can inspect call
// counts and inject behavior.
//
// # Usage Example
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	batcher, err := ai.NewBatchEmbedder(provider.Embedder(),
//	    ai.WithVectorDimensions(provider.Dimensions()))
//	if err != nil {
//	    return err
//	}
//	defer batcher.Release()
//
//	vectors, err := batcher.Embed(ctx, texts)
package ai
