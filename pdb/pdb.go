package pdb

import (
	"fmt"
	"io"
	"sync"

	"github.com/chrisnovak/pdbcore/internal/dbi"
	"github.com/chrisnovak/pdbcore/internal/tpi"
	"github.com/chrisnovak/pdbcore/msf"
)

// File represents an opened PDB file.
// It is safe for concurrent read access after opening.
type File struct {
	msf    *msf.File
	opts   *options
	closed bool
	mu     sync.RWMutex

	// Lazy-loaded streams
	pdbInfo     *PDBInfo
	pdbInfoOnce sync.Once
	pdbInfoErr  error

	tpiStream     *tpi.Stream
	tpiStreamOnce sync.Once
	tpiStreamErr  error

	ipiStream     *tpi.Stream
	ipiStreamOnce sync.Once
	ipiStreamErr  error

	dbiStream     *dbi.Stream
	dbiStreamOnce sync.Once
	dbiStreamErr  error

	// Cached data
	symbolTable     *SymbolTable
	symbolTableOnce sync.Once
	symbolTableErr  error

	typeTable     *TypeTable
	typeTableOnce sync.Once
	typeTableErr  error

	sectionHeaders     *SectionHeaders
	sectionHeadersOnce sync.Once
	sectionHeadersErr  error
}

// Open opens a PDB file from the given path.
func Open(path string, opts ...Option) (*File, error) {
	msfFile, err := msf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to open file: %w", err)
	}

	return &File{msf: msfFile, opts: buildOptions(opts)}, nil
}

// OpenReader opens a PDB from an io.ReaderAt.
// This allows reading from arbitrary sources (embedded, network, mmap, etc.)
func OpenReader(r io.ReaderAt, size int64, opts ...Option) (*File, error) {
	msfFile, err := msf.NewFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to open file: %w", err)
	}

	return &File{msf: msfFile, opts: buildOptions(opts)}, nil
}

// Close releases resources associated with the PDB file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true
	return f.msf.Close()
}

// Info returns metadata about the PDB file.
func (f *File) Info() (*PDBInfo, error) {
	f.pdbInfoOnce.Do(func() {
		f.pdbInfo, f.pdbInfoErr = f.loadPDBInfo()
	})

	if f.pdbInfoErr != nil {
		return nil, f.pdbInfoErr
	}
	return f.pdbInfo, nil
}

// Symbols returns a symbol table for querying symbols.
func (f *File) Symbols() (*SymbolTable, error) {
	f.symbolTableOnce.Do(func() {
		f.symbolTable, f.symbolTableErr = f.loadSymbolTable()
	})

	if f.symbolTableErr != nil {
		return nil, f.symbolTableErr
	}
	return f.symbolTable, nil
}

func (f *File) loadSymbolTable() (*SymbolTable, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}

	st := newSymbolTable(f, dbiStream)
	return st, nil
}

// Types returns a type table for querying type information.
func (f *File) Types() (*TypeTable, error) {
	f.typeTableOnce.Do(func() {
		f.typeTable, f.typeTableErr = f.loadTypeTable()
	})

	if f.typeTableErr != nil {
		return nil, f.typeTableErr
	}
	return f.typeTable, nil
}

func (f *File) loadTypeTable() (*TypeTable, error) {
	tpiStream, err := f.getTPI()
	if err != nil {
		return nil, err
	}

	return newTypeTable(tpiStream), nil
}

// IDStream returns the parsed IPI (ID) stream, the TPI-shaped sibling
// stream used for LF_FUNC_ID/LF_STRING_ID records that back inline site
// symbol names. It is absent from PDBs built without /Zi+ inlining
// metadata, in which case the error reflects a missing stream rather
// than a parse failure.
func (f *File) IDStream() (*tpi.Stream, error) {
	return f.getIPI()
}

// Modules returns all modules (compilands) in the PDB.
func (f *File) Modules() ([]*Module, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}

	modules := make([]*Module, len(dbiStream.Modules))
	for i := range dbiStream.Modules {
		modules[i] = &Module{
			pdb:   f,
			index: i,
			info:  &dbiStream.Modules[i],
		}
	}

	return modules, nil
}

// ModuleCount returns the number of modules in the PDB.
func (f *File) ModuleCount() (int, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return 0, err
	}
	return len(dbiStream.Modules), nil
}

// BlockSize returns the block size used by this PDB file.
func (f *File) BlockSize() uint32 {
	return f.msf.BlockSize()
}

// NumStreams returns the number of streams in the PDB.
func (f *File) NumStreams() (uint32, error) {
	return f.msf.NumStreams()
}

// Internal helpers

func (f *File) getTPI() (*tpi.Stream, error) {
	f.tpiStreamOnce.Do(func() {
		data, err := f.msf.ReadStream(msf.StreamTPI)
		if err != nil {
			f.tpiStreamErr = fmt.Errorf("pdb: failed to read TPI stream: %w", err)
			return
		}

		f.tpiStream, f.tpiStreamErr = tpi.ParseStream(data)
	})

	if f.tpiStreamErr != nil {
		return nil, f.tpiStreamErr
	}
	return f.tpiStream, nil
}

func (f *File) getIPI() (*tpi.Stream, error) {
	f.ipiStreamOnce.Do(func() {
		exists, err := f.msf.StreamExists(msf.StreamIPI)
		if err != nil || !exists {
			f.log().Debug("pdb: no IPI stream present (PDB built without /Zi+ inline metadata)")
			f.ipiStreamErr = fmt.Errorf("pdb: IPI stream not found")
			return
		}

		data, err := f.msf.ReadStream(msf.StreamIPI)
		if err != nil {
			f.ipiStreamErr = fmt.Errorf("pdb: failed to read IPI stream: %w", err)
			return
		}

		f.ipiStream, f.ipiStreamErr = tpi.ParseStream(data)
	})

	if f.ipiStreamErr != nil {
		return nil, f.ipiStreamErr
	}
	return f.ipiStream, nil
}

func (f *File) getDBI() (*dbi.Stream, error) {
	f.dbiStreamOnce.Do(func() {
		data, err := f.msf.ReadStream(msf.StreamDBI)
		if err != nil {
			f.dbiStreamErr = fmt.Errorf("pdb: failed to read DBI stream: %w", err)
			return
		}

		if err := dbi.HasValidDBIStream(data); err != nil {
			f.dbiStreamErr = fmt.Errorf("pdb: %w", err)
			return
		}

		f.dbiStream, f.dbiStreamErr = dbi.ParseStream(data)
	})

	if f.dbiStreamErr != nil {
		return nil, f.dbiStreamErr
	}
	return f.dbiStream, nil
}

func (f *File) readModuleSymbols(streamIndex uint16) ([]byte, error) {
	if streamIndex == dbi.InvalidStreamIndex {
		return nil, nil
	}

	return f.msf.ReadStream(uint32(streamIndex))
}
