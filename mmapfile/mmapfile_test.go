package mmapfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenAndReadAt(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	path := writeTempFile(t, content)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", f.Size(), len(content))
	}

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 4)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 || string(buf) != "quick" {
		t.Fatalf("ReadAt got %q, want %q", buf, "quick")
	}
}

func TestBytesIsZeroCopyView(t *testing.T) {
	content := []byte("coalesced stream backing bytes")
	path := writeTempFile(t, content)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	b := f.Bytes()
	if string(b) != string(content) {
		t.Fatalf("Bytes() = %q, want %q", b, content)
	}
}

func TestReadAtOutOfRange(t *testing.T) {
	path := writeTempFile(t, []byte("short"))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 4)
	if _, err := f.ReadAt(buf, 1000); err == nil {
		t.Fatal("expected error reading past end of mapped file")
	}
}

func TestCloseThenReadAtFails(t *testing.T) {
	path := writeTempFile(t, []byte("data"))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, 0); err == nil {
		t.Fatal("expected error reading from closed file")
	}

	// Close should be idempotent.
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
