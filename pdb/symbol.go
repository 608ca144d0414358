package pdb

import (
	"iter"
	"sort"
	"sync"

	"github.com/chrisnovak/pdbcore/internal/codeview"
	"github.com/chrisnovak/pdbcore/internal/dbi"
	"github.com/chrisnovak/pdbcore/internal/demangle"
	"github.com/chrisnovak/pdbcore/internal/symstream"
)

// SymbolKind identifies the type of symbol.
type SymbolKind uint16

const (
	SymbolKindUnknown SymbolKind = iota
	SymbolKindPublic
	SymbolKindFunction
	SymbolKindData
	SymbolKindLocal
	SymbolKindParameter
	SymbolKindUDT
	SymbolKindConstant
	SymbolKindLabel
	SymbolKindBlock
	SymbolKindThunk
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolKindPublic:
		return "public"
	case SymbolKindFunction:
		return "function"
	case SymbolKindData:
		return "data"
	case SymbolKindLocal:
		return "local"
	case SymbolKindParameter:
		return "parameter"
	case SymbolKindUDT:
		return "udt"
	case SymbolKindConstant:
		return "constant"
	case SymbolKindLabel:
		return "label"
	case SymbolKindBlock:
		return "block"
	case SymbolKindThunk:
		return "thunk"
	default:
		return "unknown"
	}
}

// Symbol is the interface implemented by all symbol types.
type Symbol interface {
	// Name returns the raw (possibly mangled) symbol name.
	Name() string

	// DemangledName returns the demangled name, or the raw name if not mangled.
	DemangledName() string

	// Kind returns the symbol kind.
	Kind() SymbolKind

	// Section returns the section number (1-based, 0 = no section).
	Section() uint16

	// Offset returns the offset within the section.
	Offset() uint32
}

// baseSymbol provides common symbol functionality including lazy demangling.
type baseSymbol struct {
	name          string
	demangledName string
	demangledOnce sync.Once
}

func (s *baseSymbol) Name() string { return s.name }

func (s *baseSymbol) DemangledName() string {
	s.demangledOnce.Do(func() {
		s.demangledName = demangle.DemangleSimple(s.name)
	})
	return s.demangledName
}

// PublicSymbol represents a public symbol export.
type PublicSymbol struct {
	baseSymbol
	section uint16
	offset  uint32
	flags   codeview.PublicSymFlags
}

func (s *PublicSymbol) Kind() SymbolKind { return SymbolKindPublic }
func (s *PublicSymbol) Section() uint16  { return s.section }
func (s *PublicSymbol) Offset() uint32   { return s.offset }
func (s *PublicSymbol) IsCode() bool     { return s.flags.IsCode() }
func (s *PublicSymbol) IsFunction() bool { return s.flags.IsFunction() }

// FunctionSymbol represents a function with full debug info.
type FunctionSymbol struct {
	baseSymbol
	section   uint16
	offset    uint32
	length    uint32
	typeIndex uint32
}

func (s *FunctionSymbol) Kind() SymbolKind  { return SymbolKindFunction }
func (s *FunctionSymbol) Section() uint16   { return s.section }
func (s *FunctionSymbol) Offset() uint32    { return s.offset }
func (s *FunctionSymbol) Length() uint32    { return s.length }
func (s *FunctionSymbol) TypeIndex() uint32 { return s.typeIndex }

// DataSymbol represents a global or static data symbol.
type DataSymbol struct {
	baseSymbol
	section   uint16
	offset    uint32
	typeIndex uint32
}

func (s *DataSymbol) Kind() SymbolKind  { return SymbolKindData }
func (s *DataSymbol) Section() uint16   { return s.section }
func (s *DataSymbol) Offset() uint32    { return s.offset }
func (s *DataSymbol) TypeIndex() uint32 { return s.typeIndex }

// UDTSymbol represents a user-defined type reference.
type UDTSymbol struct {
	baseSymbol
	typeIndex uint32
}

func (s *UDTSymbol) Kind() SymbolKind  { return SymbolKindUDT }
func (s *UDTSymbol) Section() uint16   { return 0 }
func (s *UDTSymbol) Offset() uint32    { return 0 }
func (s *UDTSymbol) TypeIndex() uint32 { return s.typeIndex }

// ConstantSymbol represents a constant.
type ConstantSymbol struct {
	baseSymbol
	value     uint64
	typeIndex uint32
}

func (s *ConstantSymbol) Kind() SymbolKind  { return SymbolKindConstant }
func (s *ConstantSymbol) Section() uint16   { return 0 }
func (s *ConstantSymbol) Offset() uint32    { return 0 }
func (s *ConstantSymbol) Value() uint64     { return s.value }
func (s *ConstantSymbol) TypeIndex() uint32 { return s.typeIndex }

// SymbolTable provides access to symbols in the PDB. Name and address
// lookups are built over the Public stream's hash records, the same
// index the linker itself maintains — module symbols are reachable
// only by walking a Module's own CodeView stream (see Module.Symbols),
// since neither the Public nor the Global stream indexes them.
type SymbolTable struct {
	pdb       *File
	dbiStream *dbi.Stream

	// Raw symbol record stream data (lazy-loaded, shared by both hash streams)
	symRecordData     []byte
	symRecordDataOnce sync.Once
	symRecordDataErr  error

	publicStream     *symstream.PublicStream
	publicStreamOnce sync.Once
	publicStreamErr  error

	globalStream     *symstream.GlobalStream
	globalStreamOnce sync.Once
	globalStreamErr  error

	// Lazy-loaded, cached public symbols (only populated when iterating all)
	publicSymbols     []*PublicSymbol
	publicSymbolsOnce sync.Once
	publicSymbolsErr  error

	// Fast lookup indices built over publicSymbols (lazy-built)
	nameIndex     map[string][]*PublicSymbol
	nameIndexOnce sync.Once

	addrIndex     []*PublicSymbol // sorted by (section, offset)
	addrIndexOnce sync.Once

	mu sync.RWMutex
}

func newSymbolTable(pdb *File, dbiStream *dbi.Stream) *SymbolTable {
	return &SymbolTable{
		pdb:       pdb,
		dbiStream: dbiStream,
	}
}

// ensureSymRecordData loads the deduplicated symbol record stream that
// both the Public and Global hash streams index into.
func (st *SymbolTable) ensureSymRecordData() error {
	st.symRecordDataOnce.Do(func() {
		if st.dbiStream.Header.SymRecordStreamIndex == dbi.InvalidStreamIndex {
			return
		}
		st.symRecordData, st.symRecordDataErr = st.pdb.msf.ReadStream(
			uint32(st.dbiStream.Header.SymRecordStreamIndex))
	})
	return st.symRecordDataErr
}

// ensurePublicStream loads and parses the Public symbol stream.
func (st *SymbolTable) ensurePublicStream() error {
	st.publicStreamOnce.Do(func() {
		if st.dbiStream.Header.PublicStreamIndex == dbi.InvalidStreamIndex {
			return
		}
		data, err := st.pdb.msf.ReadStream(uint32(st.dbiStream.Header.PublicStreamIndex))
		if err != nil {
			st.publicStreamErr = err
			return
		}
		st.publicStream, st.publicStreamErr = symstream.ParsePublicStream(data)
	})
	return st.publicStreamErr
}

// ensureGlobalStream loads and parses the Global symbol stream.
func (st *SymbolTable) ensureGlobalStream() error {
	st.globalStreamOnce.Do(func() {
		if st.dbiStream.Header.GlobalStreamIndex == dbi.InvalidStreamIndex {
			return
		}
		data, err := st.pdb.msf.ReadStream(uint32(st.dbiStream.Header.GlobalStreamIndex))
		if err != nil {
			st.globalStreamErr = err
			return
		}
		st.globalStream, st.globalStreamErr = symstream.ParseGlobalStream(data)
	})
	return st.globalStreamErr
}

// All returns an iterator over all symbols: public symbols first, then
// every module's own symbols.
func (st *SymbolTable) All() iter.Seq[Symbol] {
	return func(yield func(Symbol) bool) {
		for sym := range st.Public() {
			if !yield(sym) {
				return
			}
		}

		modules, err := st.pdb.Modules()
		if err != nil {
			return
		}

		for _, mod := range modules {
			for sym := range mod.Symbols() {
				if !yield(sym) {
					return
				}
			}
		}
	}
}

// Public returns an iterator over public symbols, resolved through the
// Public stream's hash records rather than a linear scan of the symbol
// record stream.
func (st *SymbolTable) Public() iter.Seq[*PublicSymbol] {
	return func(yield func(*PublicSymbol) bool) {
		if err := st.ensureSymRecordData(); err != nil || st.symRecordData == nil {
			return
		}
		if err := st.ensurePublicStream(); err != nil || st.publicStream == nil {
			return
		}

		for _, hr := range st.publicStream.Records() {
			sym, err := st.publicStream.GetRecord(st.symRecordData, hr)
			if err != nil {
				continue
			}
			pubSym := &PublicSymbol{
				baseSymbol: baseSymbol{name: sym.Name},
				section:    sym.Segment,
				offset:     sym.Offset,
				flags:      sym.Flags,
			}
			if !yield(pubSym) {
				return
			}
		}
	}
}

// Global returns an iterator over global and static data symbols,
// resolved through the Global stream's hash records.
func (st *SymbolTable) Global() iter.Seq[*DataSymbol] {
	return func(yield func(*DataSymbol) bool) {
		if err := st.ensureSymRecordData(); err != nil || st.symRecordData == nil {
			return
		}
		if err := st.ensureGlobalStream(); err != nil || st.globalStream == nil {
			return
		}

		for _, hr := range st.globalStream.Records() {
			sym, err := st.globalStream.GetRecord(st.symRecordData, hr)
			if err != nil {
				continue
			}
			dataSym := &DataSymbol{
				baseSymbol: baseSymbol{name: sym.Name},
				section:    sym.Segment,
				offset:     sym.Offset,
				typeIndex:  uint32(sym.Type),
			}
			if !yield(dataSym) {
				return
			}
		}
	}
}

// PublicCached returns all public symbols, caching them for repeated access.
// Use this when you need to iterate multiple times over public symbols.
func (st *SymbolTable) PublicCached() ([]*PublicSymbol, error) {
	st.publicSymbolsOnce.Do(func() {
		st.publicSymbols, st.publicSymbolsErr = st.loadPublicSymbols()
	})
	return st.publicSymbols, st.publicSymbolsErr
}

func (st *SymbolTable) loadPublicSymbols() ([]*PublicSymbol, error) {
	if err := st.ensureSymRecordData(); err != nil {
		return nil, err
	}
	if err := st.ensurePublicStream(); err != nil {
		return nil, err
	}
	if st.symRecordData == nil || st.publicStream == nil {
		return nil, nil
	}

	result := make([]*PublicSymbol, 0, st.publicStream.Count())
	for _, hr := range st.publicStream.Records() {
		sym, err := st.publicStream.GetRecord(st.symRecordData, hr)
		if err != nil {
			continue
		}
		result = append(result, &PublicSymbol{
			baseSymbol: baseSymbol{name: sym.Name},
			section:    sym.Segment,
			offset:     sym.Offset,
			flags:      sym.Flags,
		})
	}

	return result, nil
}

// ByName looks up public symbols by their (possibly mangled) name.
func (st *SymbolTable) ByName(name string) iter.Seq[Symbol] {
	return func(yield func(Symbol) bool) {
		st.buildNameIndex()

		for _, sym := range st.nameIndex[name] {
			if !yield(sym) {
				return
			}
		}
	}
}

// FindByName finds the first public symbol with the given name. This is
// faster than ByName when only one result is needed.
func (st *SymbolTable) FindByName(name string) (Symbol, bool) {
	st.buildNameIndex()

	syms := st.nameIndex[name]
	if len(syms) == 0 {
		return nil, false
	}
	return syms[0], true
}

func (st *SymbolTable) buildNameIndex() {
	st.nameIndexOnce.Do(func() {
		syms, err := st.PublicCached()
		if err != nil || syms == nil {
			return
		}
		st.nameIndex = make(map[string][]*PublicSymbol, len(syms))
		for _, sym := range syms {
			st.nameIndex[sym.name] = append(st.nameIndex[sym.name], sym)
		}
	})
}

// ByAddress looks up the public symbol at exactly the given (section,
// offset) pair.
func (st *SymbolTable) ByAddress(section uint16, offset uint32) (Symbol, bool) {
	st.buildAddrIndex()

	i := st.searchAddrIndex(section, offset)
	if i >= len(st.addrIndex) || st.addrIndex[i].section != section || st.addrIndex[i].offset != offset {
		return nil, false
	}
	return st.addrIndex[i], true
}

// FindSymbolContaining finds the public symbol with the greatest address
// not exceeding (section, offset) — the standard "nearest preceding
// export" technique for symbolicating an address in a stripped binary,
// since PublicSym32 carries no length field to test true containment.
func (st *SymbolTable) FindSymbolContaining(section uint16, offset uint32) (Symbol, bool) {
	st.buildAddrIndex()

	i := st.searchAddrIndex(section, offset)
	if i < len(st.addrIndex) && st.addrIndex[i].section == section && st.addrIndex[i].offset == offset {
		return st.addrIndex[i], true
	}
	if i == 0 || st.addrIndex[i-1].section != section {
		return nil, false
	}
	return st.addrIndex[i-1], true
}

// searchAddrIndex returns the index of the first entry with (section,
// offset) >= the target, following sort.Search's convention.
func (st *SymbolTable) searchAddrIndex(section uint16, offset uint32) int {
	return sort.Search(len(st.addrIndex), func(i int) bool {
		sym := st.addrIndex[i]
		if sym.section != section {
			return sym.section > section
		}
		return sym.offset >= offset
	})
}

func (st *SymbolTable) buildAddrIndex() {
	st.addrIndexOnce.Do(func() {
		syms, err := st.PublicCached()
		if err != nil || syms == nil {
			return
		}
		st.addrIndex = make([]*PublicSymbol, len(syms))
		copy(st.addrIndex, syms)
		sort.Slice(st.addrIndex, func(i, j int) bool {
			a, b := st.addrIndex[i], st.addrIndex[j]
			if a.section != b.section {
				return a.section < b.section
			}
			return a.offset < b.offset
		})
	})
}

// Count returns the total number of symbols.
func (st *SymbolTable) Count() int {
	count := 0
	for range st.All() {
		count++
	}
	return count
}

// PublicCount returns the number of public symbols without fully
// parsing or caching them.
func (st *SymbolTable) PublicCount() int {
	if st.publicSymbols != nil {
		return len(st.publicSymbols)
	}
	if err := st.ensurePublicStream(); err != nil || st.publicStream == nil {
		return 0
	}
	return st.publicStream.Count()
}
