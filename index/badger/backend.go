// Package badger implements index.Backend as a brute-force cosine index on
// BadgerDB. It suits single-node deployments and tests; every search scans
// the tenant's whole collection.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
	"github.com/poiesic/ragify/storage"
	sb "github.com/poiesic/ragify/storage/badger"
)

const (
	collectionPrefix = "vcoll"
	pointPrefix      = "vpt"
	fieldPrefix      = "vfld"
)

type collectionMeta struct {
	Dimensions    int      `json:"dimensions"`
	KeywordFields []string `json:"keyword_fields,omitempty"`
}

type storedPoint struct {
	Vector  []byte       `json:"vector"`
	Payload core.Payload `json:"payload"`
}

// Backend keeps vectors next to other data in a shared BadgerDB.
type Backend struct {
	db     *sb.Backend
	owned  bool
	logger *slog.Logger
}

var _ index.Backend = (*Backend)(nil)

// New creates an index on a shared storage backend. Close leaves the backend open.
func New(db *sb.Backend) (*Backend, error) {
	if db == nil {
		return nil, index.ErrBackendRequired
	}
	return &Backend{db: db, logger: slog.Default().With("component", "badger-index")}, nil
}

// Open opens a dedicated database for the index.
func Open(path string, inMemory bool) (*Backend, error) {
	db, err := sb.OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	b, _ := New(db)
	b.owned = true
	return b, nil
}

func collectionKey(name string) []byte {
	return sb.MakeKey(collectionPrefix, name)
}

func pointKey(name string, id core.ID) []byte {
	return binary.BigEndian.AppendUint64(sb.MakeKey(pointPrefix, name), uint64(id))
}

func fieldKey(name, field, value string, id core.ID) []byte {
	return binary.BigEndian.AppendUint64(sb.MakeKey(fieldPrefix, name, field, value), uint64(id))
}

// keywordValue returns the payload value for a keyword field.
func keywordValue(p core.Payload, field string) (string, bool) {
	switch field {
	case index.FileNameField:
		return p.FileName, true
	case "document_id":
		return p.DocumentID, true
	}
	return "", false
}

func (b *Backend) meta(tx *badger.Txn, name string) (*collectionMeta, error) {
	var meta collectionMeta
	if err := sb.GetJSON(tx, collectionKey(name), &meta); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", index.ErrCollectionNotFound, name)
		}
		return nil, err
	}
	return &meta, nil
}

// Ping checks that the database is open.
func (b *Backend) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

// DescribeCollection reports the collection's dimension and point count.
func (b *Backend) DescribeCollection(ctx context.Context, name string) (*index.CollectionInfo, error) {
	info := &index.CollectionInfo{Name: name}
	err := b.db.WithTx(func(tx *badger.Txn) error {
		meta, err := b.meta(tx, name)
		if err != nil {
			return err
		}
		keys, err := sb.ScanKeys(tx, sb.MakeKey(pointPrefix, name))
		if err != nil {
			return err
		}
		info.Dimensions = meta.Dimensions
		info.Points = len(keys)
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// CreateCollection records a new collection. Conflicting concurrent creates
// fail the transaction, and the loser sees ErrCollectionExists.
func (b *Backend) CreateCollection(ctx context.Context, name string, dim int) error {
	err := b.db.WithTx(func(tx *badger.Txn) error {
		if _, err := b.meta(tx, name); err == nil {
			return fmt.Errorf("%w: %s", index.ErrCollectionExists, name)
		} else if !errors.Is(err, index.ErrCollectionNotFound) {
			return err
		}
		return sb.SetJSON(tx, collectionKey(name), collectionMeta{Dimensions: dim})
	}, true)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %s", index.ErrCollectionExists, name)
	}
	return err
}

// CreateKeywordIndex maintains a value-to-id index for field from now on
// and backfills it for existing points.
func (b *Backend) CreateKeywordIndex(ctx context.Context, name, field string) error {
	return b.db.WithTx(func(tx *badger.Txn) error {
		meta, err := b.meta(tx, name)
		if err != nil {
			return err
		}
		if slices.Contains(meta.KeywordFields, field) {
			return nil
		}
		meta.KeywordFields = append(meta.KeywordFields, field)
		if err := sb.SetJSON(tx, collectionKey(name), meta); err != nil {
			return err
		}
		return b.scanPoints(tx, name, func(id core.ID, sp storedPoint) error {
			if value, ok := keywordValue(sp.Payload, field); ok {
				return tx.Set(fieldKey(name, field, value, id), nil)
			}
			return nil
		})
	}, true)
}

func (b *Backend) scanPoints(tx *badger.Txn, name string, fn func(core.ID, storedPoint) error) error {
	prefix := sb.MakeKey(pointPrefix, name)
	return sb.ScanPrefix(tx, prefix, func(key, value []byte) error {
		var sp storedPoint
		if err := sb.GetJSONValue(value, &sp); err != nil {
			return err
		}
		return fn(core.ID(binary.BigEndian.Uint64(key[len(prefix):])), sp)
	})
}

// Upsert writes points, keeping keyword indexes in step with replaced payloads.
func (b *Backend) Upsert(ctx context.Context, name string, points []core.VectorPoint) error {
	return b.db.WithTx(func(tx *badger.Txn) error {
		meta, err := b.meta(tx, name)
		if err != nil {
			return err
		}
		for _, p := range points {
			if len(p.Vector) != meta.Dimensions {
				return fmt.Errorf("%w: point %d has %d dimensions, collection %s has %d",
					core.ErrDimensionMismatch, p.ID, len(p.Vector), name, meta.Dimensions)
			}
			key := pointKey(name, p.ID)
			var old storedPoint
			switch err := sb.GetJSON(tx, key, &old); {
			case err == nil:
				if err := b.unindex(tx, name, meta, p.ID, old.Payload); err != nil {
					return err
				}
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}
			if err := sb.SetJSON(tx, key, storedPoint{Vector: core.EncodeVector(p.Vector), Payload: p.Payload}); err != nil {
				return err
			}
			for _, field := range meta.KeywordFields {
				if value, ok := keywordValue(p.Payload, field); ok {
					if err := tx.Set(fieldKey(name, field, value, p.ID), nil); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}, true)
}

func (b *Backend) unindex(tx *badger.Txn, name string, meta *collectionMeta, id core.ID, payload core.Payload) error {
	for _, field := range meta.KeywordFields {
		if value, ok := keywordValue(payload, field); ok {
			if err := tx.Delete(fieldKey(name, field, value, id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Search scores every point in the collection and keeps the best limit.
func (b *Backend) Search(ctx context.Context, name string, vector []float32, limit int) ([]core.ScoredPoint, error) {
	var results []core.ScoredPoint
	err := b.db.WithTx(func(tx *badger.Txn) error {
		if _, err := b.meta(tx, name); err != nil {
			return err
		}
		return b.scanPoints(tx, name, func(id core.ID, sp storedPoint) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := core.DecodeVector(sp.Vector)
			if err != nil {
				return err
			}
			results = append(results, core.ScoredPoint{
				ID:      id,
				Payload: sp.Payload,
				Score:   core.CosineSimilarity(vector, v),
			})
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b core.ScoredPoint) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []core.ScoredPoint{}
	}
	return results, nil
}

// DeleteByField removes points whose keyword field equals value. Indexed
// fields are looked up directly; others fall back to a scan.
func (b *Backend) DeleteByField(ctx context.Context, name, field, value string) error {
	return b.db.WithTx(func(tx *badger.Txn) error {
		meta, err := b.meta(tx, name)
		if err != nil {
			return err
		}
		var ids []core.ID
		if slices.Contains(meta.KeywordFields, field) {
			prefix := sb.MakeKey(fieldPrefix, name, field, value)
			keys, err := sb.ScanKeys(tx, prefix)
			if err != nil {
				return err
			}
			for _, k := range keys {
				ids = append(ids, core.ID(binary.BigEndian.Uint64(k[len(prefix):])))
			}
		} else {
			err := b.scanPoints(tx, name, func(id core.ID, sp storedPoint) error {
				if v, ok := keywordValue(sp.Payload, field); ok && v == value {
					ids = append(ids, id)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return b.deletePoints(tx, name, meta, ids)
	}, true)
}

// DeletePoints removes points by id.
func (b *Backend) DeletePoints(ctx context.Context, name string, ids []core.ID) error {
	return b.db.WithTx(func(tx *badger.Txn) error {
		meta, err := b.meta(tx, name)
		if err != nil {
			return err
		}
		return b.deletePoints(tx, name, meta, ids)
	}, true)
}

func (b *Backend) deletePoints(tx *badger.Txn, name string, meta *collectionMeta, ids []core.ID) error {
	for _, id := range ids {
		key := pointKey(name, id)
		var sp storedPoint
		if err := sb.GetJSON(tx, key, &sp); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		if err := b.unindex(tx, name, meta, id, sp.Payload); err != nil {
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database if the index opened it.
func (b *Backend) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}
