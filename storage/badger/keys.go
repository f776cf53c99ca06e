package badger

import (
	"bytes"
	"encoding/binary"
)

const (
	documentPrefix     = "doc"
	documentNamePrefix = "docname"
	chunkPrefix        = "chk"
	intentPrefix       = "intent"
	jobPrefix          = "job"
)

// keySep cannot appear in tenant ids, document ids or file names supplied over
// text protocols, so joined keys never collide.
const keySep = 0x00

// MakeKey joins parts into a key terminated by a separator, so a key made from
// a subset of parts is a scan prefix for keys made from all of them.
func MakeKey(parts ...string) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.WriteString(p)
		buf.WriteByte(keySep)
	}
	return buf.Bytes()
}

func makeDocumentKey(tenantID, documentID string) []byte {
	return MakeKey(documentPrefix, tenantID, documentID)
}

func makeDocumentNameKey(tenantID, fileName string) []byte {
	return MakeKey(documentNamePrefix, tenantID, fileName)
}

func makeChunkKey(tenantID, documentID string, position int) []byte {
	key := MakeKey(chunkPrefix, tenantID, documentID)
	// BigEndian keeps positions in lexicographic order
	return binary.BigEndian.AppendUint64(key, uint64(position))
}

func makeIntentKey(documentID string) []byte {
	return MakeKey(intentPrefix, documentID)
}

func makeJobKey(id string) []byte {
	return MakeKey(jobPrefix, id)
}
