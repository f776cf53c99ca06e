// Package index manages per-tenant vector collections.
//
// A Manager derives one collection name per tenant, creates the collection on
// first use, writes points in batches and searches by cosine similarity. The
// vector database itself sits behind the Backend interface with three
// implementations:
//
//   - index/qdrant talks to Qdrant over its REST API
//   - index/milvus uses the Milvus Go SDK
//   - index/badger is an embedded brute-force index for single-node use and tests
//
// Every backend failure surfaces as core.ErrIndexUnavailable.
package index
