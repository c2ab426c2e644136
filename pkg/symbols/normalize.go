package symbols

import (
	"debug/elf"
	"fmt"
	"path/filepath"

	"github.com/prometheus/procfs"

	"github.com/go-delve/pstack/pkg/logflags"
)

// Normalizer converts an instruction address of the target into the link
// time address used by the symbol table.
type Normalizer interface {
	Normalize(addr uint64) uint64
}

// IdentityNormalizer returns addresses unchanged.
type IdentityNormalizer struct{}

func (IdentityNormalizer) Normalize(addr uint64) uint64 { return addr }

// FixedNormalizer subtracts a constant load bias. It is only correct when
// the target was started without address space layout randomization and
// Bias is the base the loader picks in that case. Addresses below Bias are
// returned unchanged.
type FixedNormalizer struct {
	Bias uint64
}

func (n FixedNormalizer) Normalize(addr uint64) uint64 {
	if addr < n.Bias {
		return addr
	}
	return addr - n.Bias
}

// NewFixedNormalizer returns the normalizer for a table given the load bias
// of the architecture. Images that are not position independent, and
// architectures without a bias, use IdentityNormalizer.
func NewFixedNormalizer(t *Table, bias uint64) Normalizer {
	if bias == 0 || t.Type() == elf.ET_EXEC {
		return IdentityNormalizer{}
	}
	return FixedNormalizer{Bias: bias}
}

// MapsNormalizer returns a normalizer using the real load bias of the
// executable of process pid, read from its memory mappings.
func MapsNormalizer(pid int, t *Table) (Normalizer, error) {
	if t.Type() == elf.ET_EXEC {
		return IdentityNormalizer{}, nil
	}
	p, err := procfs.NewProc(pid)
	if err != nil {
		return nil, err
	}
	exe, err := p.Executable()
	if err != nil {
		return nil, err
	}
	maps, err := p.ProcMaps()
	if err != nil {
		return nil, err
	}
	bias, err := loadBias(maps, exe, t)
	if err != nil {
		return nil, err
	}
	if logflags.Symbols() {
		logflags.SymbolsLogger().WithField("pid", pid).Debugf("load bias of %s is %#x", exe, bias)
	}
	return FixedNormalizer{Bias: bias}, nil
}

// loadBias finds the mapping of the first loadable segment of exe.
func loadBias(maps []*procfs.ProcMap, exe string, t *Table) (uint64, error) {
	for _, m := range maps {
		if m.Offset != 0 || filepath.Clean(m.Pathname) != filepath.Clean(exe) {
			continue
		}
		return uint64(m.StartAddr) - t.LoadVaddr(), nil
	}
	return 0, fmt.Errorf("no mapping of %s at offset 0", exe)
}
