// Package mmapfile opens a PDB file by memory-mapping it instead of issuing
// ReadAt calls through the os.File buffer cache. It exists so msf.File can
// take the zero-copy CoalescedStream path (see msf.BytesReaderAt) for every
// contiguous stream, not just ones assembled from an in-memory []byte.
package mmapfile

import (
	"errors"
	"fmt"
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

// File is a memory-mapped, read-only view of a file on disk. It implements
// io.ReaderAt and msf.BytesReaderAt.
type File struct {
	f    *os.File
	data mmap.MMap

	mu     sync.Mutex
	closed bool
}

// Open memory-maps the file at path for reading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfile: failed to map %s: %w", path, err)
	}

	return &File{f: f, data: data}, nil
}

// ReadAt implements io.ReaderAt over the mapped region.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.New("mmapfile: read from closed file")
	}

	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("mmapfile: offset %d out of range", off)
	}

	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("mmapfile: short read at offset %d", off)
	}
	return n, nil
}

// Bytes returns the entire mapped region. Callers must not retain it past
// Close. This is the hook msf.CoalescedStream uses to borrow contiguous
// stream data without copying.
func (m *File) Bytes() []byte {
	return m.data
}

// Size returns the size of the mapped file in bytes.
func (m *File) Size() int64 {
	return int64(len(m.data))
}

// Close unmaps the file and closes the underlying descriptor.
func (m *File) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	unmapErr := m.data.Unmap()
	closeErr := m.f.Close()
	if unmapErr != nil {
		return fmt.Errorf("mmapfile: unmap: %w", unmapErr)
	}
	if closeErr != nil {
		return fmt.Errorf("mmapfile: close: %w", closeErr)
	}
	return nil
}
