package pdb

import (
	"fmt"

	"github.com/chrisnovak/pdbcore/internal/dbi"
)

// SourceFiles provides access to the cross-indexed module → source file
// table carried in the DBI stream's source info substream.
type SourceFiles struct {
	stream *dbi.SourceFileStream
}

// SourceFiles returns the source info substream, cross-indexing each
// module's source files against the shared string table. Returns an
// error if the PDB carries no source info substream at all.
func (f *File) SourceFiles() (*SourceFiles, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}
	if dbiStream.SourceFileStream == nil {
		return nil, fmt.Errorf("pdb: no source info substream")
	}
	return &SourceFiles{stream: dbiStream.SourceFileStream}, nil
}

// ModuleCount returns the number of modules named in the source info
// substream (not necessarily the DBI module-info substream's count).
func (sf *SourceFiles) ModuleCount() int {
	return sf.stream.ModuleCount()
}

// Filenames returns the source file names belonging to the
// moduleIndex'th module named by the source info substream.
func (sf *SourceFiles) Filenames(moduleIndex int) ([]string, error) {
	offsets := sf.stream.ModuleFilenameOffsets(moduleIndex)
	if offsets == nil && (moduleIndex < 0 || moduleIndex >= sf.stream.ModuleCount()) {
		return nil, fmt.Errorf("pdb: source file module index out of range: %d", moduleIndex)
	}

	names := make([]string, len(offsets))
	for i, off := range offsets {
		name, err := sf.stream.Filename(off)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}

// SectionContributions returns the flat section contribution array
// decoded from the DBI stream, after checking that its version tag is
// the only one this library understands.
func (f *File) SectionContributions() ([]dbi.SectionContribution, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}
	if err := dbiStream.HasValidSectionContributionStream(); err != nil {
		f.log().Debug("pdb: section contribution substream: ", err)
		return nil, fmt.Errorf("pdb: %w", err)
	}
	return dbiStream.SectionContributions, nil
}

// LinkerModule returns the synthesized "* Linker *" module, if the PDB
// carries one. See dbi.Stream.FindLinkerModule for the search-order note.
func (f *File) LinkerModule() (*Module, bool, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, false, err
	}

	info, ok := dbiStream.FindLinkerModule()
	if !ok {
		return nil, false, nil
	}

	for i := range dbiStream.Modules {
		if &dbiStream.Modules[i] == info {
			return &Module{pdb: f, index: i, info: info}, true, nil
		}
	}
	return nil, false, nil
}
