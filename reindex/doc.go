// Package reindex rebuilds a tenant's vector collection from the chunks held
// in the metadata store.
//
// Every chunk is re-embedded with the current embedder, written back to the
// vector index under its existing point id, and its stored vector is replaced.
// Running it twice is harmless since point ids never change.
//
// Typical uses are an embedding model change or restoring a collection that
// was lost on the index side:
//
//	r := reindex.New(store, embedder, manager, reindex.DefaultConfig(), os.Stderr)
//	report, err := r.Run(ctx, core.Tenant{ID: "acme"})
//
// A model change that alters the vector dimension needs the old collection
// removed first; Run fails with core.ErrDimensionMismatch otherwise.
package reindex
