package msf

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// buildMSF assembles a minimal, valid in-memory MSF image with a single
// stream whose payload is exactly payload. blockSize must be a power of
// two >= BlockSizeMin. It returns the full file image.
func buildMSF(t *testing.T, blockSize uint32, payload []byte) []byte {
	t.Helper()

	numPayloadBlocks := (uint32(len(payload)) + blockSize - 1) / blockSize
	if numPayloadBlocks == 0 {
		numPayloadBlocks = 0
	}

	// Block layout: 0 = superblock, 1 = FPM1, 2 = FPM2, 3 = directory
	// block map, 4 = directory, 5.. = stream 0's payload blocks.
	dirBlock := uint32(4)
	streamBlocks := make([]uint32, numPayloadBlocks)
	for i := range streamBlocks {
		streamBlocks[i] = 5 + uint32(i)
	}

	totalBlocks := 5 + numPayloadBlocks

	// Directory contents: numStreams(1), streamSizes[0], blockIndices...
	var dirBuf bytes.Buffer
	binary.Write(&dirBuf, binary.LittleEndian, uint32(1))
	binary.Write(&dirBuf, binary.LittleEndian, uint32(len(payload)))
	for _, b := range streamBlocks {
		binary.Write(&dirBuf, binary.LittleEndian, b)
	}
	dirBytes := dirBuf.Bytes()

	buf := make([]byte, totalBlocks*blockSize)

	var sb bytes.Buffer
	sb.WriteString(Magic)
	binary.Write(&sb, binary.LittleEndian, blockSize)
	binary.Write(&sb, binary.LittleEndian, uint32(1)) // FreeBlockMapBlock
	binary.Write(&sb, binary.LittleEndian, totalBlocks)
	binary.Write(&sb, binary.LittleEndian, uint32(len(dirBytes)))
	binary.Write(&sb, binary.LittleEndian, uint32(0)) // Unknown
	binary.Write(&sb, binary.LittleEndian, uint32(3)) // BlockMapAddr: the directory block map
	copy(buf[0:], sb.Bytes())

	// directory block map: a single entry pointing at dirBlock.
	blockMapOffset := uint32(3) * blockSize
	binary.LittleEndian.PutUint32(buf[blockMapOffset:], dirBlock)

	copy(buf[dirBlock*blockSize:], dirBytes)

	for i, b := range streamBlocks {
		start := int(b) * int(blockSize)
		chunkStart := uint32(i) * blockSize
		chunkEnd := chunkStart + blockSize
		if chunkEnd > uint32(len(payload)) {
			chunkEnd = uint32(len(payload))
		}
		copy(buf[start:], payload[chunkStart:chunkEnd])
	}

	return buf
}

func TestValidate_RejectsTruncatedFile(t *testing.T) {
	r := bytes.NewReader(make([]byte, 10))
	err := Validate(r, 10)
	if err == nil {
		t.Fatal("expected error for truncated file")
	}
	if CodeOf(err) != OutOfBounds {
		t.Fatalf("expected OutOfBounds, got %v", CodeOf(err))
	}
}

func TestValidate_RejectsBadMagic(t *testing.T) {
	data := make([]byte, SuperBlockSize)
	r := bytes.NewReader(data)
	err := Validate(r, int64(len(data)))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
	if CodeOf(err) != InvalidSuperBlock {
		t.Fatalf("expected InvalidSuperBlock, got %v", CodeOf(err))
	}
}

func TestValidate_RejectsBadFreeBlockMap(t *testing.T) {
	img := buildMSF(t, BlockSize4096, []byte("hello world"))
	// FreeBlockMapBlock lives right after magic+blockSize: offset 32+4 = 36.
	binary.LittleEndian.PutUint32(img[36:], 7)
	r := bytes.NewReader(img)
	err := Validate(r, int64(len(img)))
	if err == nil {
		t.Fatal("expected error for invalid FPM block")
	}
	if CodeOf(err) != InvalidFreeBlockMap {
		t.Fatalf("expected InvalidFreeBlockMap, got %v", CodeOf(err))
	}
}

func TestNewFile_RoundTripsSingleBlockStream(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	img := buildMSF(t, BlockSize4096, payload)

	f, err := NewFile(bytes.NewReader(img), int64(len(img)))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	n, err := f.NumStreams()
	if err != nil {
		t.Fatalf("NumStreams: %v", err)
	}
	if n != 1 {
		t.Fatalf("NumStreams = %d, want 1", n)
	}

	got, err := f.ReadStream(0)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadStream = %q, want %q", got, payload)
	}
}

func TestNewFile_RoundTripsMultiBlockStream(t *testing.T) {
	blockSize := BlockSize512
	payload := bytes.Repeat([]byte("ABCDEFGH"), 300) // spans several 512-byte blocks
	img := buildMSF(t, blockSize, payload)

	f, err := NewFile(bytes.NewReader(img), int64(len(img)))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	got, err := f.ReadStream(0)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("multi-block round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestOpenStream_InvalidIndexIsTagged(t *testing.T) {
	img := buildMSF(t, BlockSize4096, []byte("x"))
	f, err := NewFile(bytes.NewReader(img), int64(len(img)))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	_, err = f.OpenStream(99)
	if err == nil {
		t.Fatal("expected error for out-of-range stream index")
	}
	if CodeOf(err) != InvalidStreamIndex {
		t.Fatalf("expected InvalidStreamIndex, got %v", CodeOf(err))
	}
}

func TestDirectStream_ReadAtAcrossBlocks(t *testing.T) {
	blockSize := uint32(16)
	payload := []byte("0123456789abcdef0123456789ABCDEF") // 32 bytes, 2 full blocks
	blocks := []uint32{10, 20, 30}                        // deliberately scattered
	backing := make([]byte, 64*blockSize)
	for i, b := range blocks {
		start := int(b) * int(blockSize)
		chunkStart := i * int(blockSize)
		chunkEnd := chunkStart + int(blockSize)
		if chunkEnd > len(payload) {
			chunkEnd = len(payload)
		}
		copy(backing[start:], payload[chunkStart:chunkEnd])
	}

	ds := NewDirectStream(bytes.NewReader(backing), blocks, blockSize, uint32(len(payload)))

	got := make([]byte, len(payload))
	n, err := ds.ReadAt(got, 0)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("ReadAt returned %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadAt mismatch: got %q, want %q", got, payload)
	}

	// A read that straddles exactly one block boundary.
	mid := make([]byte, 4)
	if _, err := ds.ReadAt(mid, 14); err != nil {
		t.Fatalf("straddling ReadAt: %v", err)
	}
	if !bytes.Equal(mid, payload[14:18]) {
		t.Fatalf("straddling ReadAt = %q, want %q", mid, payload[14:18])
	}
}

// fakeMmap implements BytesReaderAt over an in-memory buffer, standing
// in for mmapfile.File in tests that exercise CoalescedStream's
// zero-copy path without touching the filesystem.
type fakeMmap struct {
	buf []byte
}

func (m *fakeMmap) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *fakeMmap) Bytes() []byte { return m.buf }

func TestCoalescedStream_ContiguousBlocksBorrowZeroCopy(t *testing.T) {
	blockSize := uint32(16)
	backing := make([]byte, 10*blockSize)
	payload := []byte("abcdefghijklmnopqrstuvwxyz012345") // 32 bytes, 2 contiguous blocks
	copy(backing[3*blockSize:], payload)

	src := &fakeMmap{buf: backing}
	cs, err := NewCoalescedStream(src, []uint32{3, 4}, blockSize, uint32(len(payload)))
	if err != nil {
		t.Fatalf("NewCoalescedStream: %v", err)
	}

	if cs.Owned() {
		t.Fatal("expected zero-copy path for contiguous blocks over a BytesReaderAt")
	}
	if !bytes.Equal(cs.Bytes(), payload) {
		t.Fatalf("Bytes() = %q, want %q", cs.Bytes(), payload)
	}

	// Mutating the backing store should be visible through the borrowed
	// slice — proof it's genuinely a view, not a copy.
	backing[3*blockSize] = 'Z'
	if cs.Bytes()[0] != 'Z' {
		t.Fatal("expected borrowed slice to alias the backing buffer")
	}
}

func TestCoalescedStream_ScatteredBlocksCopy(t *testing.T) {
	blockSize := uint32(16)
	backing := make([]byte, 10*blockSize)
	payload := []byte("abcdefghijklmnopqrstuvwxyz012345")
	copy(backing[1*blockSize:], payload[:16])
	copy(backing[5*blockSize:], payload[16:])

	src := &fakeMmap{buf: backing}
	cs, err := NewCoalescedStream(src, []uint32{1, 5}, blockSize, uint32(len(payload)))
	if err != nil {
		t.Fatalf("NewCoalescedStream: %v", err)
	}

	if !cs.Owned() {
		t.Fatal("expected heap-copy path for scattered blocks")
	}
	if !bytes.Equal(cs.Bytes(), payload) {
		t.Fatalf("Bytes() = %q, want %q", cs.Bytes(), payload)
	}

	backing[1*blockSize] = 'Z'
	if cs.Bytes()[0] == 'Z' {
		t.Fatal("expected copied bytes to be independent of the backing buffer")
	}
}

func TestCoalescedStream_WithoutBytesReaderAtAlwaysCopies(t *testing.T) {
	blockSize := uint32(16)
	backing := make([]byte, 10*blockSize)
	payload := []byte("abcdefghijklmnop")
	copy(backing[2*blockSize:], payload)

	cs, err := NewCoalescedStream(bytes.NewReader(backing), []uint32{2}, blockSize, uint32(len(payload)))
	if err != nil {
		t.Fatalf("NewCoalescedStream: %v", err)
	}
	if !cs.Owned() {
		t.Fatal("expected copy path when the source has no Bytes() escape hatch")
	}
	if !bytes.Equal(cs.Bytes(), payload) {
		t.Fatalf("Bytes() = %q, want %q", cs.Bytes(), payload)
	}
}

func TestErrorCode_String(t *testing.T) {
	cases := map[ErrorCode]string{
		Success:             "success",
		OutOfBounds:         "out of bounds",
		InvalidSuperBlock:   "invalid superblock",
		InvalidFreeBlockMap: "invalid free block map",
		InvalidSignature:    "invalid signature",
		InvalidStreamIndex:  "invalid stream index",
		UnknownVersion:      "unknown version",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", code, got, want)
		}
	}
}

func TestCodeOf_NilIsSuccess(t *testing.T) {
	if CodeOf(nil) != Success {
		t.Fatal("CodeOf(nil) should be Success")
	}
}
