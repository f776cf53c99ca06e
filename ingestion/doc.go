// Package ingestion turns raw document text into indexed, persisted chunks.
//
// An Orchestrator runs one ingestion request through its states:
//
//	received -> chunked -> embedded -> indexed -> persisted -> done
//
// Any stage may end the request in the failed state. Vector points are
// written before the metadata commit, so an IndexIntent is saved first and
// removed atomically with the commit. A Reconciler deletes the points of
// intents whose documents never committed.
//
// A Queue runs requests in the background on a bounded worker pool and keeps
// each request's status as a stored IngestionJob.
package ingestion
