package msf

import (
	"fmt"
	"io"
)

// BytesReaderAt is implemented by readers that can additionally hand out
// their entire backing region as a byte slice (an mmap-backed reader,
// for instance). CoalescedStream uses it to borrow a contiguous stream's
// bytes directly instead of copying them.
type BytesReaderAt interface {
	io.ReaderAt
	Bytes() []byte
}

// CoalescedStream is a contiguous, read-only view over a stream's bytes.
// Unlike DirectStream, which walks the block-index vector on every read,
// CoalescedStream resolves contiguity once at construction time:
//
//   - if the stream's blocks are physically contiguous AND the backing
//     reader exposes BytesReaderAt, the view borrows a subslice of the
//     caller's memory-mapped region directly — no allocation, no copy;
//   - otherwise (blocks scattered, or no zero-copy source available) its
//     bytes are read block-by-block into one heap-allocated buffer.
//
// Owned reports which path was taken; it exists mainly so tests can
// assert the fast path was actually exercised for a contiguous fixture.
type CoalescedStream struct {
	data  []byte
	owned bool
}

// NewCoalescedStream builds a CoalescedStream over the given blocks,
// taking the zero-copy path when possible.
func NewCoalescedStream(data io.ReaderAt, blocks []uint32, blockSize, streamSize uint32) (*CoalescedStream, error) {
	if streamSize == 0 {
		return &CoalescedStream{data: nil, owned: false}, nil
	}

	if braw, ok := data.(BytesReaderAt); ok && isContiguous(blocks) {
		base := int64(blocks[0]) * int64(blockSize)
		full := braw.Bytes()
		end := base + int64(streamSize)
		if base >= 0 && end <= int64(len(full)) {
			return &CoalescedStream{data: full[base:end], owned: false}, nil
		}
		return nil, WithCode(OutOfBounds, fmt.Errorf("msf: coalesced stream [%d:%d] exceeds mapped region of %d bytes", base, end, len(full)))
	}

	ds := NewDirectStream(data, blocks, blockSize, streamSize)
	buf, err := ds.Bytes()
	if err != nil {
		return nil, err
	}
	return &CoalescedStream{data: buf, owned: true}, nil
}

// isContiguous reports whether blocks form a single ascending run, i.e.
// blocks[i] == blocks[0]+i for every i. An empty or single-element slice
// is trivially contiguous.
func isContiguous(blocks []uint32) bool {
	for i := 1; i < len(blocks); i++ {
		if blocks[i] != blocks[i-1]+1 {
			return false
		}
	}
	return true
}

// Bytes returns the stream's contents. For the zero-copy path this is a
// borrowed slice into the caller's backing region and must not be
// retained past the backing reader's lifetime; for the copy path it is
// an owned, independent buffer.
func (c *CoalescedStream) Bytes() []byte { return c.data }

// Len returns the number of bytes in the stream.
func (c *CoalescedStream) Len() int { return len(c.data) }

// Owned reports whether Bytes returns a heap-allocated copy (true) or a
// borrowed slice of the backing reader's memory (false).
func (c *CoalescedStream) Owned() bool { return c.owned }

// ReadAt implements io.ReaderAt over the coalesced bytes.
func (c *CoalescedStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("msf: negative offset: %d", off)
	}
	if off >= int64(len(c.data)) {
		return 0, io.EOF
	}
	n := copy(p, c.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
