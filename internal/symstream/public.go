package symstream

import (
	"fmt"

	"github.com/chrisnovak/pdbcore/internal/codeview"
)

// PublicStream decodes the Public symbol stream (hashed by address): a
// PublicStreamHeader, a HashTableHeader, then a flat HashRecord array.
// Record lookups resolve through a caller-supplied symbol record stream
// since the hash records only carry offsets into it.
type PublicStream struct {
	header  PublicStreamHeader
	hash    HashTableHeader
	records []HashRecord
}

// ParsePublicStream decodes data as a Public symbol stream.
func ParsePublicStream(data []byte) (*PublicStream, error) {
	if len(data) < publicStreamHeaderSize+hashTableHeaderSize {
		return nil, ErrTruncated
	}

	header := PublicStreamHeader{
		SymHash:         leU32(data, 0),
		AddrMap:         leU32(data, 4),
		ThunkCount:      leU32(data, 8),
		SizeOfThunk:     leU32(data, 12),
		ISectThunkTable: leU16(data, 16),
		Padding:         leU16(data, 18),
		OffThunkTable:   leU32(data, 20),
		SectionCount:    leU16(data, 24),
		Padding2:        leU16(data, 26),
	}

	hash, err := readHashTableHeader(data, publicStreamHeaderSize)
	if err != nil {
		return nil, err
	}
	if err := validateHashTableHeader(hash); err != nil {
		return nil, err
	}

	records, err := readHashRecords(data, publicStreamHeaderSize+hashTableHeaderSize, hash.Size)
	if err != nil {
		return nil, err
	}

	return &PublicStream{header: header, hash: hash, records: records}, nil
}

// HasValidPublicSymbolStream checks only the hash table header — the
// same pre-use validation endpoint the original PDB library exposes
// before anything else is trusted to parse the stream.
func HasValidPublicSymbolStream(data []byte) error {
	hash, err := readHashTableHeader(data, publicStreamHeaderSize)
	if err != nil {
		return err
	}
	return validateHashTableHeader(hash)
}

// Records returns the flat hash-record array.
func (p *PublicStream) Records() []HashRecord { return p.records }

// Count returns the number of hash records (and thus, the number of
// public symbols referenced by this stream).
func (p *PublicStream) Count() int { return len(p.records) }

// GetRecord resolves a hash record to its CodeView symbol record within
// symbolRecordData, rejecting anything that isn't S_PUB32 — the format's
// contract for the public stream specifically (the global stream allows
// several kinds; see GlobalStream.GetRecord).
func (p *PublicStream) GetRecord(symbolRecordData []byte, hr HashRecord) (*codeview.PublicSym32, error) {
	rec, err := getRecord(symbolRecordData, hr)
	if err != nil {
		return nil, err
	}
	if rec.Kind != codeview.S_PUB32 {
		return nil, fmt.Errorf("symstream: hash record at offset %d resolved to kind %#x, want S_PUB32", hr.Offset, uint16(rec.Kind))
	}
	return codeview.ParsePublicSym32(rec.Data)
}

func leU16(b []byte, off int) uint16 { return uint16(b[off]) | uint16(b[off+1])<<8 }
func leU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
