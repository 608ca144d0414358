package msf

import (
	"fmt"
	"io"
)

// DirectStream provides random-access reads across a stream's scattered
// blocks without materializing the stream into a contiguous buffer. It
// owns no bytes of its own: it holds a borrowed reader, the stream's
// block-index vector (a slice owned by the parsed StreamDirectory — see
// StreamDirectory.GetStreamBlocks), the block size, and the stream size.
//
// It implements io.Reader, io.Seeker and io.ReaderAt so callers that just
// want to stream through a stream sequentially can do so, but the
// defining operation is ReadAt, which translates a logical offset into
// one or more physical reads by walking the block-index vector.
type DirectStream struct {
	data       io.ReaderAt
	blocks     []uint32
	blockSize  uint32
	streamSize uint32

	pos uint32
}

// NewDirectStream creates a DirectStream over the given blocks.
func NewDirectStream(data io.ReaderAt, blocks []uint32, blockSize, streamSize uint32) *DirectStream {
	return &DirectStream{
		data:       data,
		blocks:     blocks,
		blockSize:  blockSize,
		streamSize: streamSize,
	}
}

// Read implements io.Reader. It reads across block boundaries transparently.
func (s *DirectStream) Read(p []byte) (n int, err error) {
	if s.pos >= s.streamSize {
		return 0, io.EOF
	}

	remaining := s.streamSize - s.pos
	if uint32(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err = s.ReadAt(p, int64(s.pos))
	s.pos += uint32(n)
	return n, err
}

// ReadAt implements io.ReaderAt: offset+len(p) must be <= stream size.
// It locates blockIndex = offset >> log2(blockSize) and offsetInBlock =
// offset & (blockSize-1), copies min(len(p), blockSize-offsetInBlock)
// bytes from that block, then continues from the start of each
// subsequent block (blocks are contiguous only in logical, not physical,
// coordinates) until p is exhausted.
func (s *DirectStream) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("msf: negative offset: %d", off)
	}

	if off >= int64(s.streamSize) {
		return 0, io.EOF
	}

	pos := uint32(off)
	totalRead := 0

	for len(p) > 0 && pos < s.streamSize {
		blockIndex := pos / s.blockSize
		blockOffset := pos % s.blockSize

		if int(blockIndex) >= len(s.blocks) {
			return totalRead, io.EOF
		}

		fileOffset := int64(s.blocks[blockIndex])*int64(s.blockSize) + int64(blockOffset)

		blockRemaining := s.blockSize - blockOffset
		streamRemaining := s.streamSize - pos
		toRead := uint32(len(p))

		if toRead > blockRemaining {
			toRead = blockRemaining
		}
		if toRead > streamRemaining {
			toRead = streamRemaining
		}

		bytesRead, err := s.data.ReadAt(p[:toRead], fileOffset)
		totalRead += bytesRead
		p = p[bytesRead:]
		pos += uint32(bytesRead)

		if err != nil {
			if err == io.EOF && totalRead > 0 {
				break
			}
			return totalRead, err
		}
	}

	return totalRead, nil
}

// ReadStruct reads exactly len(dst) bytes at offset, returning
// ErrorCode-tagged OutOfBounds if the read would exceed the stream.
func (s *DirectStream) ReadStruct(dst []byte, offset uint32) error {
	if uint64(offset)+uint64(len(dst)) > uint64(s.streamSize) {
		return WithCode(OutOfBounds, fmt.Errorf("msf: read of %d bytes at offset %d exceeds stream size %d", len(dst), offset, s.streamSize))
	}
	_, err := s.ReadAt(dst, int64(offset))
	return err
}

// Seek implements io.Seeker.
func (s *DirectStream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64

	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.pos) + offset
	case io.SeekEnd:
		newPos = int64(s.streamSize) + offset
	default:
		return 0, fmt.Errorf("msf: invalid seek whence: %d", whence)
	}

	if newPos < 0 {
		return 0, fmt.Errorf("msf: negative seek position: %d", newPos)
	}
	if newPos > int64(s.streamSize) {
		newPos = int64(s.streamSize)
	}

	s.pos = uint32(newPos)
	return newPos, nil
}

// Size returns the total size of the stream in bytes.
func (s *DirectStream) Size() uint32 { return s.streamSize }

// BlockCount returns the number of blocks backing this stream.
func (s *DirectStream) BlockCount() int { return len(s.blocks) }

// BlockIndicesForOffset returns the block-index slice starting at the
// block containing offset, through the end of the stream's block
// vector. CoalescedStream uses it to test contiguity of the remainder of
// a stream from an arbitrary starting offset.
func (s *DirectStream) BlockIndicesForOffset(offset uint32) []uint32 {
	blockIndex := offset / s.blockSize
	if int(blockIndex) >= len(s.blocks) {
		return nil
	}
	return s.blocks[blockIndex:]
}

// DataOffsetForOffset returns the physical file offset corresponding to
// the start of the block containing the given logical offset.
func (s *DirectStream) DataOffsetForOffset(offset uint32) int64 {
	blockIndex := offset / s.blockSize
	if int(blockIndex) >= len(s.blocks) {
		return -1
	}
	return int64(s.blocks[blockIndex]) * int64(s.blockSize)
}

// Bytes reads the entire stream into a byte slice.
func (s *DirectStream) Bytes() ([]byte, error) {
	data := make([]byte, s.streamSize)
	n, err := s.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return data[:n], nil
}
