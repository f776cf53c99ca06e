package core

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for chunks and vector points.
type ID uint64

// MaxPointID bounds point ids so they fit every backend's integer id space.
const MaxPointID = 1_000_000_000_000_000_000

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// PointIDFromContent derives a point id from chunk text. Identical texts
// yield identical ids, so re-ingesting the same text overwrites the earlier point.
func PointIDFromContent(text string) ID {
	id := IDFromContent(text) % MaxPointID
	if id == 0 {
		// zero means "unassigned"
		id = 1
	}
	return id
}

// ChunkID derives the id of the chunk at position within a document.
func ChunkID(documentID string, position int) ID {
	return PointIDFromContent(documentID + "/" + strconv.Itoa(position))
}

// CollectionName derives a tenant's collection name from its identity.
func CollectionName(prefix, tenantID string) string {
	if prefix == "" {
		prefix = "tenant"
	}
	return fmt.Sprintf("%s_%016x", prefix, uint64(IDFromContent(tenantID)))
}
