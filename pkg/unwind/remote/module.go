package remote

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"

	"go.uber.org/multierr"

	"github.com/go-delve/pstack/pkg/dwarf/frame"
	"github.com/go-delve/pstack/pkg/logflags"
	"github.com/go-delve/pstack/pkg/unwind"
)

// funcSym is a function symbol at its link time address.
type funcSym struct {
	addr, size uint64
	name       string
}

// module is an ELF file mapped in the target. Its call frame information
// and symbols are read on first use and use link time addresses, bias
// converts them to the addresses of the target.
type module struct {
	path string
	file *elf.File
	fh   *os.File
	arch *unwind.Arch
	bias uint64

	fdesLoaded bool
	fdes       frame.FrameDescriptionEntries

	funcsLoaded bool
	funcs       []funcSym
}

// openModule opens the ELF file at path, name is the path as seen by the
// target and is used if path can not be opened.
func openModule(path, name string, arch *unwind.Arch) (*module, error) {
	fh, err := os.Open(path)
	if err != nil {
		var err2 error
		fh, err2 = os.Open(name)
		if err2 != nil {
			return nil, err
		}
	}
	file, err := elf.NewFile(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	if file.Machine != arch.Machine {
		fh.Close()
		return nil, fmt.Errorf("%s: machine %v does not match %s", name, file.Machine, arch.Name)
	}
	return &module{path: name, file: file, fh: fh, arch: arch}, nil
}

// relocate computes the load bias of the module from the mapping mp.
func (m *module) relocate(mp mapping) error {
	if m.file == nil {
		return nil
	}
	for _, p := range m.file.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Off <= mp.offset && mp.offset < p.Off+p.Filesz {
			m.bias = mp.start - mp.offset - (p.Vaddr - p.Off)
			return nil
		}
	}
	return fmt.Errorf("no PT_LOAD segment at file offset %#x", mp.offset)
}

// Close closes the underlying file.
func (m *module) Close() error {
	if m.fh == nil {
		return nil
	}
	err := m.fh.Close()
	m.fh = nil
	return err
}

// frameEntries returns the FDEs of the module, parsing them the first time.
func (m *module) frameEntries() frame.FrameDescriptionEntries {
	if m.fdesLoaded {
		return m.fdes
	}
	m.fdesLoaded = true
	if m.file == nil {
		return nil
	}

	var errs error
	order := m.file.ByteOrder
	if sec := m.file.Section(".eh_frame"); sec != nil && sec.Type != elf.SHT_NOBITS && sec.Addr != 0 {
		data, err := sec.Data()
		if err == nil {
			var fdes frame.FrameDescriptionEntries
			fdes, err = frame.Parse(data, order, 0, m.arch.PtrSize, sec.Addr)
			m.fdes = m.fdes.Append(fdes)
		}
		errs = multierr.Append(errs, err)
	}
	if sec := m.file.Section(".debug_frame"); sec != nil && sec.Type != elf.SHT_NOBITS {
		data, err := sec.Data()
		if err == nil {
			var fdes frame.FrameDescriptionEntries
			fdes, err = frame.Parse(data, order, 0, m.arch.PtrSize, 0)
			m.fdes = m.fdes.Append(fdes)
		}
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		logflags.UnwindLogger().WithField("module", m.path).Warnf("reading call frame information: %v", errs)
	}
	return m.fdes
}

// fdeFor returns the FDE covering the target address pc.
func (m *module) fdeFor(pc uint64) (*frame.FrameDescriptionEntry, bool) {
	fde, err := m.frameEntries().FDEForPC(pc - m.bias)
	if err != nil {
		return nil, false
	}
	return fde, true
}

func (m *module) functions() []funcSym {
	if m.funcsLoaded {
		return m.funcs
	}
	m.funcsLoaded = true
	if m.file == nil {
		return nil
	}
	syms, _ := m.file.Symbols()
	dynsyms, _ := m.file.DynamicSymbols()
	byAddr := make(map[uint64]funcSym)
	for _, s := range append(syms, dynsyms...) {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Section == elf.SHN_UNDEF {
			continue
		}
		if old, ok := byAddr[s.Value]; ok && old.size >= s.Size {
			continue
		}
		byAddr[s.Value] = funcSym{addr: s.Value, size: s.Size, name: s.Name}
	}
	m.funcs = make([]funcSym, 0, len(byAddr))
	for _, f := range byAddr {
		m.funcs = append(m.funcs, f)
	}
	sort.Slice(m.funcs, func(i, j int) bool { return m.funcs[i].addr < m.funcs[j].addr })
	return m.funcs
}

// funcFor returns the function containing the target address pc.
func (m *module) funcFor(pc uint64) (funcSym, bool) {
	funcs := m.functions()
	addr := pc - m.bias
	i := sort.Search(len(funcs), func(i int) bool { return funcs[i].addr > addr }) - 1
	if i < 0 {
		return funcSym{}, false
	}
	f := funcs[i]
	if f.size != 0 && addr >= f.addr+f.size {
		return funcSym{}, false
	}
	return f, true
}
