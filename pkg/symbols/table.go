// Package symbols maps instruction addresses of a process to the names of
// the functions of its executable.
package symbols

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/go-delve/pstack/pkg/logflags"
)

// Symbol is an entry of the symbol table of an executable.
type Symbol struct {
	Address uint64
	Size    uint64
	Name    string
}

// Table is an immutable address sorted symbol table.
type Table struct {
	syms      []Symbol
	typ       elf.Type
	machine   elf.Machine
	loadVaddr uint64
}

// LoadError is returned when an executable can not be read.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load symbols of %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads the symbols of every symbol table section of the ELF file at
// path, in section order. A later symbol at the address of a previous one
// replaces it.
func Load(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	byAddr := make(map[uint64]Symbol)
	for _, sec := range f.Sections {
		var syms []elf.Symbol
		switch sec.Type {
		case elf.SHT_SYMTAB:
			syms, err = f.Symbols()
		case elf.SHT_DYNSYM:
			syms, err = f.DynamicSymbols()
		default:
			continue
		}
		if err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("section %s: %w", sec.Name, err)}
		}
		for _, s := range syms {
			byAddr[s.Value] = Symbol{Address: s.Value, Size: s.Size, Name: s.Name}
		}
	}

	t := fromMap(byAddr)
	t.typ = f.Type
	t.machine = f.Machine
	t.loadVaddr = firstLoadVaddr(f)
	logflags.SymbolsLogger().WithField("path", path).Debugf("loaded %d symbols", len(t.syms))
	return t, nil
}

func firstLoadVaddr(f *elf.File) uint64 {
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			return p.Vaddr - p.Off
		}
	}
	return 0
}

// New returns a table containing syms. Later entries replace earlier
// entries with the same address.
func New(syms []Symbol) *Table {
	byAddr := make(map[uint64]Symbol, len(syms))
	for _, s := range syms {
		byAddr[s.Address] = s
	}
	t := fromMap(byAddr)
	t.typ = elf.ET_DYN
	return t
}

func fromMap(byAddr map[uint64]Symbol) *Table {
	t := &Table{syms: make([]Symbol, 0, len(byAddr))}
	for _, s := range byAddr {
		t.syms = append(t.syms, s)
	}
	sort.Slice(t.syms, func(i, j int) bool { return t.syms[i].Address < t.syms[j].Address })
	return t
}

// Resolve returns the name of the symbol with the greatest address not
// above addr, if addr falls within its extent.
func (t *Table) Resolve(addr uint64) (string, bool) {
	if t == nil {
		return "", false
	}
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Address > addr }) - 1
	if i < 0 {
		return "", false
	}
	s := &t.syms[i]
	if addr-s.Address >= s.Size {
		return "", false
	}
	return s.Name, true
}

// Len returns the number of symbols.
func (t *Table) Len() int {
	return len(t.syms)
}

// Symbols returns a copy of the symbols in address order.
func (t *Table) Symbols() []Symbol {
	r := make([]Symbol, len(t.syms))
	copy(r, t.syms)
	return r
}

// Type returns the ELF type of the executable, ET_EXEC images are loaded
// at their link addresses.
func (t *Table) Type() elf.Type {
	return t.typ
}

// Machine returns the machine the executable was built for, EM_NONE for
// tables not read from a file.
func (t *Table) Machine() elf.Machine {
	return t.machine
}

// LoadVaddr returns the link time address of the first loadable segment.
func (t *Table) LoadVaddr() uint64 {
	return t.loadVaddr
}
