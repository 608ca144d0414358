package symstream

import (
	"encoding/binary"
	"testing"

	"github.com/chrisnovak/pdbcore/internal/codeview"
)

// encodeSymbolRecord builds a raw CodeView record {size, kind, body...},
// padded to a 4-byte boundary the way the real format requires, and
// returns its bytes. A hash record pointing at it uses the record's start
// offset plus one (the format's 1-based indirection convention).
func encodeSymbolRecord(kind codeview.SymbolRecordKind, body []byte) []byte {
	unpadded := 2 + len(body) // kind + body
	length := uint16(unpadded)

	total := 2 + unpadded // size field + kind + body
	padded := (total + 3) &^ 3

	buf := make([]byte, padded)
	binary.LittleEndian.PutUint16(buf[0:], length)
	binary.LittleEndian.PutUint16(buf[2:], uint16(kind))
	copy(buf[4:], body)
	return buf
}

func encodePublicSym(offset uint32, segment uint16, name string) []byte {
	body := make([]byte, 4+4+2+len(name)+1)
	binary.LittleEndian.PutUint32(body[0:], 0) // flags
	binary.LittleEndian.PutUint32(body[4:], offset)
	binary.LittleEndian.PutUint16(body[8:], segment)
	copy(body[10:], name)
	return encodeSymbolRecord(codeview.S_PUB32, body)
}

func TestPublicStream_RoundTripsHashRecordToSymbol(t *testing.T) {
	symRec := encodePublicSym(0x1000, 1, "main")

	// Construct the Public stream: header, hash table header, one hash
	// record pointing (1-based) at symRec's start within symbolRecordData.
	var buf []byte
	buf = append(buf, make([]byte, publicStreamHeaderSize)...)

	hashHeader := make([]byte, hashTableHeaderSize)
	binary.LittleEndian.PutUint32(hashHeader[0:], Signature)
	binary.LittleEndian.PutUint32(hashHeader[4:], Version)
	binary.LittleEndian.PutUint32(hashHeader[8:], hashRecordSize) // one record
	binary.LittleEndian.PutUint32(hashHeader[12:], 1)
	buf = append(buf, hashHeader...)

	hashRec := make([]byte, hashRecordSize)
	binary.LittleEndian.PutUint32(hashRec[0:], 1) // offset+1 == 1 means symRec starts at byte 0
	binary.LittleEndian.PutUint32(hashRec[4:], 0)
	buf = append(buf, hashRec...)

	ps, err := ParsePublicStream(buf)
	if err != nil {
		t.Fatalf("ParsePublicStream: %v", err)
	}
	if ps.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", ps.Count())
	}

	sym, err := ps.GetRecord(symRec, ps.Records()[0])
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if sym.Name != "main" {
		t.Errorf("Name = %q, want %q", sym.Name, "main")
	}
	if sym.Offset != 0x1000 {
		t.Errorf("Offset = %#x, want %#x", sym.Offset, 0x1000)
	}
}

func TestPublicStream_RejectsBadSignature(t *testing.T) {
	buf := make([]byte, publicStreamHeaderSize+hashTableHeaderSize)
	binary.LittleEndian.PutUint32(buf[publicStreamHeaderSize:], 0xDEADBEEF)
	binary.LittleEndian.PutUint32(buf[publicStreamHeaderSize+4:], Version)

	_, err := ParsePublicStream(buf)
	if err != ErrInvalidSignature {
		t.Fatalf("ParsePublicStream error = %v, want ErrInvalidSignature", err)
	}
}

func TestPublicStream_RejectsUnknownVersion(t *testing.T) {
	buf := make([]byte, publicStreamHeaderSize+hashTableHeaderSize)
	binary.LittleEndian.PutUint32(buf[publicStreamHeaderSize:], Signature)
	binary.LittleEndian.PutUint32(buf[publicStreamHeaderSize+4:], 0x12345678)

	_, err := ParsePublicStream(buf)
	if err != ErrUnknownVersion {
		t.Fatalf("ParsePublicStream error = %v, want ErrUnknownVersion", err)
	}
}

func TestPublicStream_GetRecord_RejectsNonPublicKind(t *testing.T) {
	// A record that is NOT S_PUB32 — the malformed-PDB case the original
	// format explicitly guards against for the public stream.
	body := make([]byte, 4+4+2+1)
	symRec := encodeSymbolRecord(codeview.S_GDATA32, body)

	var buf []byte
	buf = append(buf, make([]byte, publicStreamHeaderSize)...)
	hashHeader := make([]byte, hashTableHeaderSize)
	binary.LittleEndian.PutUint32(hashHeader[0:], Signature)
	binary.LittleEndian.PutUint32(hashHeader[4:], Version)
	binary.LittleEndian.PutUint32(hashHeader[8:], hashRecordSize)
	buf = append(buf, hashHeader...)
	hashRec := make([]byte, hashRecordSize)
	binary.LittleEndian.PutUint32(hashRec[0:], 1)
	buf = append(buf, hashRec...)

	ps, err := ParsePublicStream(buf)
	if err != nil {
		t.Fatalf("ParsePublicStream: %v", err)
	}

	_, err = ps.GetRecord(symRec, ps.Records()[0])
	if err == nil {
		t.Fatal("expected error for non-S_PUB32 record")
	}
}

func TestGlobalStream_NoLeadingHeader(t *testing.T) {
	body := make([]byte, 4+4+2+1) // type, offset, segment, empty name
	symRec := encodeSymbolRecord(codeview.S_GDATA32, body)

	var buf []byte
	hashHeader := make([]byte, hashTableHeaderSize)
	binary.LittleEndian.PutUint32(hashHeader[0:], Signature)
	binary.LittleEndian.PutUint32(hashHeader[4:], Version)
	binary.LittleEndian.PutUint32(hashHeader[8:], hashRecordSize)
	buf = append(buf, hashHeader...)
	hashRec := make([]byte, hashRecordSize)
	binary.LittleEndian.PutUint32(hashRec[0:], 1)
	buf = append(buf, hashRec...)

	gs, err := ParseGlobalStream(buf)
	if err != nil {
		t.Fatalf("ParseGlobalStream: %v", err)
	}
	if gs.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", gs.Count())
	}

	sym, err := gs.GetRecord(symRec, gs.Records()[0])
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	_ = sym
}

func TestGlobalStream_GetRecord_RejectsNonDataKind(t *testing.T) {
	symRec := encodeSymbolRecord(codeview.S_PUB32, make([]byte, 4+4+2+1))

	var buf []byte
	hashHeader := make([]byte, hashTableHeaderSize)
	binary.LittleEndian.PutUint32(hashHeader[0:], Signature)
	binary.LittleEndian.PutUint32(hashHeader[4:], Version)
	binary.LittleEndian.PutUint32(hashHeader[8:], hashRecordSize)
	buf = append(buf, hashHeader...)
	hashRec := make([]byte, hashRecordSize)
	binary.LittleEndian.PutUint32(hashRec[0:], 1)
	buf = append(buf, hashRec...)

	gs, err := ParseGlobalStream(buf)
	if err != nil {
		t.Fatalf("ParseGlobalStream: %v", err)
	}

	_, err = gs.GetRecord(symRec, gs.Records()[0])
	if err == nil {
		t.Fatal("expected error for non-data-symbol kind")
	}
}
