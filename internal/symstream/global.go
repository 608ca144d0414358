package symstream

import (
	"fmt"

	"github.com/chrisnovak/pdbcore/internal/codeview"
)

// GlobalStream decodes the Global symbol stream: identical to the Public
// stream except it has no PublicStreamHeader — the HashTableHeader
// starts at offset 0 — and its records may be any of S_GDATA32,
// S_GTHREAD32, S_LDATA32, S_LTHREAD32.
type GlobalStream struct {
	hash    HashTableHeader
	records []HashRecord
}

// ParseGlobalStream decodes data as a Global symbol stream.
func ParseGlobalStream(data []byte) (*GlobalStream, error) {
	hash, err := readHashTableHeader(data, 0)
	if err != nil {
		return nil, err
	}
	if err := validateHashTableHeader(hash); err != nil {
		return nil, err
	}

	records, err := readHashRecords(data, hashTableHeaderSize, hash.Size)
	if err != nil {
		return nil, err
	}

	return &GlobalStream{hash: hash, records: records}, nil
}

// HasValidGlobalSymbolStream checks only the hash table header, which
// for the Global stream sits at offset 0.
func HasValidGlobalSymbolStream(data []byte) error {
	hash, err := readHashTableHeader(data, 0)
	if err != nil {
		return err
	}
	return validateHashTableHeader(hash)
}

// Records returns the flat hash-record array.
func (g *GlobalStream) Records() []HashRecord { return g.records }

// Count returns the number of hash records.
func (g *GlobalStream) Count() int { return len(g.records) }

func isGlobalDataKind(k codeview.SymbolRecordKind) bool {
	switch k {
	case codeview.S_GDATA32, codeview.S_GTHREAD32, codeview.S_LDATA32, codeview.S_LTHREAD32:
		return true
	}
	return false
}

// GetRecord resolves a hash record to its CodeView symbol record within
// symbolRecordData. Unlike the Public stream, the original format does
// not reject mismatched kinds outright for globals, but a caller that
// only wants data symbols still needs to filter, so this returns an
// error for anything that isn't one of the four global-data kinds.
func (g *GlobalStream) GetRecord(symbolRecordData []byte, hr HashRecord) (*codeview.DataSym, error) {
	rec, err := getRecord(symbolRecordData, hr)
	if err != nil {
		return nil, err
	}
	if !isGlobalDataKind(rec.Kind) {
		return nil, fmt.Errorf("symstream: hash record at offset %d resolved to kind %#x, not a global data symbol", hr.Offset, uint16(rec.Kind))
	}
	return codeview.ParseDataSym(rec.Data)
}
