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

// Package storage provides the metadata store abstraction for ragify.
//
// This package defines repository interfaces that decouple persistence of
// documents, chunks, index intents and ingestion jobs from the pipeline.
// Two implementations exist: storage/badger (embedded) and storage/postgres.
//
// # Constructor Return Type Pattern
//
// Public constructors return the storage.Store interface:
//
//	store, err := badger.NewStore(path)     // returns storage.Store
//	store, err := postgres.Open(ctx, dsn)   // returns storage.Store
//
// # Consistency
//
// CreateDocument is the only multi-record write the pipeline depends on. It
// commits the document, all of its chunks and the removal of the document's
// index intent in one transaction, so readers never observe a document
// without its chunks.
package storage
