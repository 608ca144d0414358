// Package symstream decodes the Public and Global symbol streams: flat
// hash-record arrays that index into a module-independent symbol record
// stream by byte offset. Neither stream exposes name lookups here — only
// the mechanical offset → CodeView record translation the original PDB
// hash table format provides for free once its bucket-compressed layout
// is skipped over.
package symstream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chrisnovak/pdbcore/internal/codeview"
)

// HashTableHeader precedes the flat HashRecord array in both the Public
// and Global symbol streams.
type HashTableHeader struct {
	Signature   uint32
	Version     uint32
	Size        uint32 // byte size of the hash record array that follows
	BucketCount uint32
}

const hashTableHeaderSize = 16

// Signature and Version are the two constants that make a HashTableHeader
// recognizable; they have no relationship to the MSF superblock's magic.
const (
	Signature = 0xFFFFFFFF
	Version   = 0xEFFE0000 + 19990810
)

// PublicStreamHeader precedes the HashTableHeader in the Public stream
// only; the Global stream has no equivalent and starts directly with the
// hash table header. Its fields (thunk map bookkeeping) are not
// interpreted here — the layout only needs its size to locate what
// follows.
type PublicStreamHeader struct {
	SymHash         uint32
	AddrMap         uint32
	ThunkCount      uint32
	SizeOfThunk     uint32
	ISectThunkTable uint16
	Padding         uint16
	OffThunkTable   uint32
	SectionCount    uint16
	Padding2        uint16
}

const publicStreamHeaderSize = 28

// HashRecord is one entry of the flat hash-record array: a 1-based byte
// offset into the symbol record stream, plus a reference count the core
// does not interpret.
type HashRecord struct {
	Offset uint32 // 1-based offset into the symbol record stream; 0 is never valid
	CRef   uint32
}

const hashRecordSize = 8

var (
	// ErrInvalidSignature is returned when a hash table header's
	// signature does not equal Signature.
	ErrInvalidSignature = errors.New("symstream: invalid hash table signature")
	// ErrUnknownVersion is returned when a hash table header's version
	// does not equal Version.
	ErrUnknownVersion = errors.New("symstream: unknown hash table version")
	// ErrTruncated is returned when a stream is too short to hold the
	// header or record array its own size field promises.
	ErrTruncated = errors.New("symstream: truncated hash stream")
)

func readHashTableHeader(data []byte, offset int) (HashTableHeader, error) {
	if offset+hashTableHeaderSize > len(data) {
		return HashTableHeader{}, ErrTruncated
	}
	h := HashTableHeader{
		Signature:   binary.LittleEndian.Uint32(data[offset:]),
		Version:     binary.LittleEndian.Uint32(data[offset+4:]),
		Size:        binary.LittleEndian.Uint32(data[offset+8:]),
		BucketCount: binary.LittleEndian.Uint32(data[offset+12:]),
	}
	return h, nil
}

// validateHashTableHeader checks the two constants every hash table
// header must carry, independent of which stream it came from.
func validateHashTableHeader(h HashTableHeader) error {
	if h.Signature != Signature {
		return ErrInvalidSignature
	}
	if h.Version != Version {
		return ErrUnknownVersion
	}
	return nil
}

func readHashRecords(data []byte, offset int, size uint32) ([]HashRecord, error) {
	if size%hashRecordSize != 0 {
		return nil, fmt.Errorf("%w: hash record array size %d is not a multiple of %d", ErrTruncated, size, hashRecordSize)
	}
	count := int(size / hashRecordSize)
	if offset+int(size) > len(data) {
		return nil, ErrTruncated
	}

	records := make([]HashRecord, count)
	for i := 0; i < count; i++ {
		base := offset + i*hashRecordSize
		records[i] = HashRecord{
			Offset: binary.LittleEndian.Uint32(data[base:]),
			CRef:   binary.LittleEndian.Uint32(data[base+4:]),
		}
	}
	return records, nil
}

// getRecord turns a hash record into the CodeView symbol record it
// points at within the symbol record stream, applying the format's
// 1-based offset indirection. A zero Offset or a record lying outside
// symbolRecordData is reported as an error rather than silently
// returning nothing, since it only occurs for malformed input.
func getRecord(symbolRecordData []byte, hr HashRecord) (*codeview.SymbolRecord, error) {
	if hr.Offset == 0 {
		return nil, fmt.Errorf("%w: hash record offset is 0", ErrTruncated)
	}
	return codeview.RecordAt(symbolRecordData, hr.Offset-1)
}
