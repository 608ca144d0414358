package dbi

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// cString returns s followed by a single NUL terminator.
func cString(s string) []byte {
	return append([]byte(s), 0)
}

// buildModuleInfo assembles one DBI::ModuleInfo record: the fixed
// header, a module name, an object name, and 4-byte alignment padding.
func buildModuleInfo(t *testing.T, name, objName string) []byte {
	t.Helper()
	var buf bytes.Buffer

	binary.Write(&buf, binary.LittleEndian, uint32(0)) // Opened
	binary.Write(&buf, binary.LittleEndian, SectionContribution{})
	binary.Write(&buf, binary.LittleEndian, uint16(0))                   // Flags
	binary.Write(&buf, binary.LittleEndian, InvalidStreamIndex)          // ModuleSymStreamIndex
	binary.Write(&buf, binary.LittleEndian, uint32(0))                   // SymByteSize
	binary.Write(&buf, binary.LittleEndian, uint32(0))                   // C11ByteSize
	binary.Write(&buf, binary.LittleEndian, uint32(0))                   // C13ByteSize
	binary.Write(&buf, binary.LittleEndian, uint16(0))                   // SourceFileCount
	binary.Write(&buf, binary.LittleEndian, uint16(0))                   // padding
	binary.Write(&buf, binary.LittleEndian, uint32(0))                   // unused
	binary.Write(&buf, binary.LittleEndian, uint32(0))                   // SourceFileNameIndex
	binary.Write(&buf, binary.LittleEndian, uint32(0))                   // PDBFilePathNameIndex
	buf.Write(cString(name))
	buf.Write(cString(objName))

	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// buildDBIStream assembles a minimal, valid in-memory DBI stream whose
// module info substream holds the given modules (in order) and whose
// section contribution substream carries the V60 version tag with zero
// entries.
func buildDBIStream(t *testing.T, modules [][2]string) []byte {
	t.Helper()

	var modBuf bytes.Buffer
	for _, m := range modules {
		modBuf.Write(buildModuleInfo(t, m[0], m[1]))
	}

	var secContribBuf bytes.Buffer
	binary.Write(&secContribBuf, binary.LittleEndian, SectionContribVer60)

	var header bytes.Buffer
	binary.Write(&header, binary.LittleEndian, int32(-1))         // VersionSignature
	binary.Write(&header, binary.LittleEndian, DBIVersionV70)      // VersionHeader
	binary.Write(&header, binary.LittleEndian, uint32(1))          // Age
	binary.Write(&header, binary.LittleEndian, InvalidStreamIndex) // GlobalStreamIndex
	binary.Write(&header, binary.LittleEndian, uint16(0))          // BuildNumber
	binary.Write(&header, binary.LittleEndian, InvalidStreamIndex) // PublicStreamIndex
	binary.Write(&header, binary.LittleEndian, uint16(0))          // PDBDllVersion
	binary.Write(&header, binary.LittleEndian, InvalidStreamIndex) // SymRecordStreamIndex
	binary.Write(&header, binary.LittleEndian, uint16(0))          // PDBDllRbld
	binary.Write(&header, binary.LittleEndian, uint32(modBuf.Len()))
	binary.Write(&header, binary.LittleEndian, uint32(secContribBuf.Len()))
	binary.Write(&header, binary.LittleEndian, uint32(0)) // SectionMapSize
	binary.Write(&header, binary.LittleEndian, uint32(0)) // SourceInfoSize
	binary.Write(&header, binary.LittleEndian, uint32(0)) // TypeServerMapSize
	binary.Write(&header, binary.LittleEndian, uint32(0)) // MFCTypeServerIndex
	binary.Write(&header, binary.LittleEndian, uint32(0)) // OptionalDbgHeaderSize
	binary.Write(&header, binary.LittleEndian, uint32(0)) // ECSubstreamSize
	binary.Write(&header, binary.LittleEndian, uint16(0)) // Flags
	binary.Write(&header, binary.LittleEndian, uint16(0)) // Machine
	binary.Write(&header, binary.LittleEndian, uint32(0)) // Padding

	if header.Len() != DBIHeaderSize {
		t.Fatalf("assembled DBI header is %d bytes, want %d", header.Len(), DBIHeaderSize)
	}

	var out bytes.Buffer
	out.Write(header.Bytes())
	out.Write(modBuf.Bytes())
	out.Write(secContribBuf.Bytes())
	return out.Bytes()
}

func TestParseStream_ModuleInfoAndLinkerSearch(t *testing.T) {
	data := buildDBIStream(t, [][2]string{
		{"* Linker *", "* Linker *"},
		{"a.obj", "a.obj"},
		{"b.obj", "b.obj"},
	})

	s, err := ParseStream(data)
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}

	if got := s.ModuleCount(); got != 3 {
		t.Fatalf("ModuleCount = %d, want 3", got)
	}
	if s.Modules[0].ModuleName != "* Linker *" {
		t.Fatalf("Modules[0].ModuleName = %q, want linker module", s.Modules[0].ModuleName)
	}

	linker, ok := s.FindLinkerModule()
	if !ok {
		t.Fatal("FindLinkerModule: not found")
	}
	if linker.ModuleName != "* Linker *" {
		t.Fatalf("FindLinkerModule = %q, want linker module", linker.ModuleName)
	}
}

func TestParseStream_FindLinkerModuleNotAssumedLast(t *testing.T) {
	// The linker module appears first here; a forward search must still
	// find it without assuming it's the last entry (spec.md §9).
	data := buildDBIStream(t, [][2]string{
		{"* Linker *", "* Linker *"},
		{"z.obj", "z.obj"},
	})

	s, err := ParseStream(data)
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}

	linker, ok := s.FindLinkerModule()
	if !ok || linker.ModuleName != "* Linker *" {
		t.Fatalf("FindLinkerModule did not find the leading linker module: %+v, %v", linker, ok)
	}
}

func TestParseStream_NoLinkerModule(t *testing.T) {
	data := buildDBIStream(t, [][2]string{{"a.obj", "a.obj"}})

	s, err := ParseStream(data)
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}

	if _, ok := s.FindLinkerModule(); ok {
		t.Fatal("FindLinkerModule: expected not found")
	}
}

func TestHasValidDBIStream_RejectsBadSignature(t *testing.T) {
	data := buildDBIStream(t, nil)
	binary.LittleEndian.PutUint32(data[0:], 0x12345678)

	if err := HasValidDBIStream(data); err == nil {
		t.Fatal("expected error for bad DBI signature")
	}
}

func TestHasValidDBIStream_AcceptsV70(t *testing.T) {
	data := buildDBIStream(t, nil)
	if err := HasValidDBIStream(data); err != nil {
		t.Fatalf("HasValidDBIStream: %v", err)
	}
}

func TestSectionContributions_V60Parses(t *testing.T) {
	data := buildDBIStream(t, nil)

	s, err := ParseStream(data)
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	if err := s.HasValidSectionContributionStream(); err != nil {
		t.Fatalf("HasValidSectionContributionStream: %v", err)
	}
	if len(s.SectionContributions) != 0 {
		t.Fatalf("expected zero section contributions, got %d", len(s.SectionContributions))
	}
}

func TestSectionContributions_UnknownVersionIsBenign(t *testing.T) {
	data := buildDBIStream(t, nil)

	// Corrupt the section contribution substream's version tag to an
	// unrecognized value. It immediately follows the module info
	// substream, which is empty here, so it starts right after the header.
	binary.LittleEndian.PutUint32(data[DBIHeaderSize:], 0xDEADBEEF)

	s, err := ParseStream(data)
	if err != nil {
		t.Fatalf("ParseStream should not fail on an unknown section contribution version: %v", err)
	}
	if err := s.HasValidSectionContributionStream(); err == nil {
		t.Fatal("expected HasValidSectionContributionStream to report the version mismatch")
	}
	if len(s.SectionContributions) != 0 {
		t.Fatalf("expected section contributions left empty, got %d", len(s.SectionContributions))
	}
}

func TestHasValidImageSectionStream_MissingStream(t *testing.T) {
	data := buildDBIStream(t, nil)
	s, err := ParseStream(data)
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}

	if err := s.HasValidImageSectionStream(); err == nil {
		t.Fatal("expected error: no optional debug header substream present")
	}
}

func TestParseSourceFileStream(t *testing.T) {
	// Two modules: module 0 has one file, module 1 has two.
	strings := "a.c\x00sub/b.c\x00sub/c.h\x00"
	offB := uint32(len("a.c\x00"))
	offC := offB + uint32(len("sub/b.c\x00"))

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint16(2)) // moduleCount
	binary.Write(&buf, binary.LittleEndian, uint16(3)) // sourceFileCount
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // moduleIndices[0]
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // moduleIndices[1]
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // moduleFileCounts[0]
	binary.Write(&buf, binary.LittleEndian, uint16(2)) // moduleFileCounts[1]
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // fileNameOffsets[0] -> "a.c"
	binary.Write(&buf, binary.LittleEndian, offB)       // fileNameOffsets[1] -> "sub/b.c"
	binary.Write(&buf, binary.LittleEndian, offC)       // fileNameOffsets[2] -> "sub/c.h"
	buf.WriteString(strings)

	sfs, err := parseSourceFileStream(buf.Bytes())
	if err != nil {
		t.Fatalf("parseSourceFileStream: %v", err)
	}

	if sfs.ModuleCount() != 2 {
		t.Fatalf("ModuleCount = %d, want 2", sfs.ModuleCount())
	}

	off0 := sfs.ModuleFilenameOffsets(0)
	if len(off0) != 1 {
		t.Fatalf("module 0 offsets = %v, want 1 entry", off0)
	}
	name, err := sfs.Filename(off0[0])
	if err != nil || name != "a.c" {
		t.Fatalf("module 0 filename = %q, %v, want a.c", name, err)
	}

	off1 := sfs.ModuleFilenameOffsets(1)
	if len(off1) != 2 {
		t.Fatalf("module 1 offsets = %v, want 2 entries", off1)
	}
	name0, err := sfs.Filename(off1[0])
	if err != nil || name0 != "sub/b.c" {
		t.Fatalf("module 1 filename[0] = %q, %v, want sub/b.c", name0, err)
	}
	name1, err := sfs.Filename(off1[1])
	if err != nil || name1 != "sub/c.h" {
		t.Fatalf("module 1 filename[1] = %q, %v, want sub/c.h", name1, err)
	}
}

func TestParseStream_SourceInfoSubstream(t *testing.T) {
	data := buildDBIStream(t, [][2]string{{"a.obj", "a.obj"}})

	var sourceInfo bytes.Buffer
	binary.Write(&sourceInfo, binary.LittleEndian, uint16(1)) // moduleCount
	binary.Write(&sourceInfo, binary.LittleEndian, uint16(1)) // sourceFileCount
	binary.Write(&sourceInfo, binary.LittleEndian, uint16(0)) // moduleIndices[0]
	binary.Write(&sourceInfo, binary.LittleEndian, uint16(1)) // moduleFileCounts[0]
	binary.Write(&sourceInfo, binary.LittleEndian, uint32(0)) // fileNameOffsets[0]
	sourceInfo.Write(cString("main.c"))

	// Patch SourceInfoSize (right after SectionMapSize in the header) and
	// splice the substream in after the (empty) section map.
	binary.LittleEndian.PutUint32(data[36:], uint32(sourceInfo.Len()))
	out := append(append([]byte{}, data...), sourceInfo.Bytes()...)

	s, err := ParseStream(out)
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	if s.SourceFileStream == nil {
		t.Fatal("expected a non-nil SourceFileStream")
	}
	names, err := s.SourceFileStream.Filename(s.SourceFileStream.ModuleFilenameOffsets(0)[0])
	if err != nil || names != "main.c" {
		t.Fatalf("source file name = %q, %v, want main.c", names, err)
	}
}
