package pdb

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"

	"github.com/chrisnovak/pdbcore/msf"
)

// InfoStreamVersion identifies the PDB implementation version that wrote
// the Info stream header.
type InfoStreamVersion uint32

const (
	InfoStreamVC2    InfoStreamVersion = 19941610
	InfoStreamVC4    InfoStreamVersion = 19950623
	InfoStreamVC41   InfoStreamVersion = 19950814
	InfoStreamVC50   InfoStreamVersion = 19960307
	InfoStreamVC98   InfoStreamVersion = 19970604
	InfoStreamVC70Dep InfoStreamVersion = 19990604
	InfoStreamVC70   InfoStreamVersion = 20000404
	InfoStreamVC80   InfoStreamVersion = 20030901
	InfoStreamVC110  InfoStreamVersion = 20091201
	InfoStreamVC140  InfoStreamVersion = 20140508
)

// FeatureCode is a marker value found at the tail of the Info stream,
// one per compilation/linking feature the PDB records.
type FeatureCode uint32

const (
	FeatureCodeVC110         FeatureCode = 20091201
	FeatureCodeVC140         FeatureCode = 20140508
	FeatureCodeNoTypeMerge   FeatureCode = 0x4D544F4E // "NOTM"
	FeatureCodeMinimalDebugInfo FeatureCode = 0x494E494D // "MINI", linked with /DEBUG:FASTLINK
)

const pdbInfoHeaderSize = 28 // version(4) + signature(4) + age(4) + GUID(16)

// PDBInfo contains metadata about the PDB file: the header every Info
// stream starts with, plus derived facts from the feature code list that
// follows the named-stream map.
type PDBInfo struct {
	Version            InfoStreamVersion
	Signature          uint32
	Age                uint32
	GUID               uuid.UUID
	UsesDebugFastLink  bool
}

// loadPDBInfo parses the Info stream: header, then a named-stream map
// (skipped — nothing in this library looks streams up by name), then a
// list of FeatureCode values consumed to the end of the stream.
func (f *File) loadPDBInfo() (*PDBInfo, error) {
	data, err := f.msf.ReadStream(msf.StreamPDBInfo)
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to read PDB info stream: %w", err)
	}

	info, err := parsePDBInfo(data)
	if err != nil {
		return nil, err
	}
	if info.UsesDebugFastLink {
		f.log().Debug("pdb: PDB linked with /DEBUG:FASTLINK, module symbol streams may be absent")
	}
	return info, nil
}

func parsePDBInfo(data []byte) (*PDBInfo, error) {
	if len(data) < pdbInfoHeaderSize {
		return nil, fmt.Errorf("pdb: PDB info stream too short: %d bytes", len(data))
	}

	info := &PDBInfo{
		Version:   InfoStreamVersion(binary.LittleEndian.Uint32(data[0:])),
		Signature: binary.LittleEndian.Uint32(data[4:]),
		Age:       binary.LittleEndian.Uint32(data[8:]),
		GUID:      guidFromMixedEndian(data[12:28]),
	}

	offset := pdbInfoHeaderSize

	// NamedStreamMap: a length-prefixed string table, immediately
	// followed by a serialized hash table mapping names to stream
	// indices. Neither half is interesting here, so both are walked only
	// far enough to compute their size and skip past them.
	mapLength, err := readU32At(data, offset)
	if err != nil {
		return nil, fmt.Errorf("pdb: named stream map: %w", err)
	}
	offset += 4 + int(mapLength)

	hashSize, err := readU32At(data, offset)
	if err != nil {
		return nil, fmt.Errorf("pdb: named stream hash table header: %w", err)
	}
	// hashCapacity immediately follows hashSize but is unused.
	offset += 8

	presentWords, next, err := readBitVectorWords(data, offset)
	if err != nil {
		return nil, fmt.Errorf("pdb: named stream present bit vector: %w", err)
	}
	_ = buildBitset(presentWords)
	offset = next

	deletedWords, next, err := readBitVectorWords(data, offset)
	if err != nil {
		return nil, fmt.Errorf("pdb: named stream deleted bit vector: %w", err)
	}
	_ = buildBitset(deletedWords)
	offset = next

	// hashSize entries of (nameOffset uint32, streamIndex uint32).
	offset += 8 * int(hashSize)
	if offset > len(data) {
		return nil, fmt.Errorf("pdb: named stream hash table entries run past end of stream")
	}

	remaining := data[offset:]
	count := len(remaining) / 4
	for i := 0; i < count; i++ {
		code := FeatureCode(binary.LittleEndian.Uint32(remaining[i*4:]))
		if code == FeatureCodeMinimalDebugInfo {
			info.UsesDebugFastLink = true
		}
	}

	return info, nil
}

func readU32At(data []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(data) {
		return 0, fmt.Errorf("offset %d out of bounds (stream size %d)", offset, len(data))
	}
	return binary.LittleEndian.Uint32(data[offset:]), nil
}

// readBitVectorWords reads a SerializedHashTable bit vector: a word
// count, then that many little-endian uint32 words. It returns the
// decoded words and the offset immediately following the vector.
func readBitVectorWords(data []byte, offset int) ([]uint32, int, error) {
	wordCount, err := readU32At(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset += 4

	end := offset + 4*int(wordCount)
	if end > len(data) {
		return nil, 0, fmt.Errorf("bit vector of %d words runs past end of stream", wordCount)
	}

	words := make([]uint32, wordCount)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[offset+i*4:])
	}
	return words, end, nil
}

// buildBitset renders a PDB bit vector's raw words as a bitset.BitSet so
// that present/deleted slot membership can be queried the way the
// format's own wordCount-then-words layout implies, even though this
// library never needs to look a named stream up.
func buildBitset(words []uint32) *bitset.BitSet {
	bs := bitset.New(uint(len(words)) * 32)
	for wordIndex, word := range words {
		for bit := 0; bit < 32; bit++ {
			if word&(1<<uint(bit)) != 0 {
				bs.Set(uint(wordIndex*32 + bit))
			}
		}
	}
	return bs
}

// guidFromMixedEndian decodes a 16-byte Windows GUID (Data1/Data2/Data3
// little-endian, Data4 verbatim) into the big-endian byte layout
// uuid.UUID expects for its canonical string form.
func guidFromMixedEndian(data []byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], binary.LittleEndian.Uint32(data[0:4]))
	binary.BigEndian.PutUint16(u[4:6], binary.LittleEndian.Uint16(data[4:6]))
	binary.BigEndian.PutUint16(u[6:8], binary.LittleEndian.Uint16(data[6:8]))
	copy(u[8:16], data[8:16])
	return u
}
