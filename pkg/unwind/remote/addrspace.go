package remote

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/procfs"
	"go.uber.org/multierr"

	"github.com/go-delve/pstack/pkg/logflags"
	"github.com/go-delve/pstack/pkg/unwind"
)

// mapping is an executable file backed region of the target.
type mapping struct {
	start, end uint64
	offset     uint64
	path       string
}

func readMappings(procRoot string, pid int) ([]mapping, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("can't open %s/%d: %w", procRoot, pid, err)
	}
	rawMaps, err := p.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("can't get %s/%d/maps: %w", procRoot, pid, err)
	}
	return executableMappings(rawMaps), nil
}

// executableMappings keeps the executable regions backed by a file, sorted
// by start address.
func executableMappings(rawMaps []*procfs.ProcMap) []mapping {
	maps := make([]mapping, 0, len(rawMaps))
	for _, m := range rawMaps {
		if m.Perms == nil || !m.Perms.Execute || !strings.HasPrefix(m.Pathname, "/") {
			continue
		}
		maps = append(maps, mapping{
			start:  uint64(m.StartAddr),
			end:    uint64(m.EndAddr),
			offset: uint64(m.Offset),
			path:   m.Pathname,
		})
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].start < maps[j].start })
	return maps
}

// addressSpace implements unwind.AddressSpace.
type addressSpace struct {
	pid  int
	arch *unwind.Arch
	acc  Accessors
	maps []mapping

	modules *lru.Cache[string, *module]
	// failed remembers modules that could not be opened.
	failed map[string]bool
	open   func(path string) (*module, error)

	closeErr error
	log      logflags.Logger
}

func newAddressSpace(pid int, arch *unwind.Arch, acc Accessors, maps []mapping, cacheSize int) (*addressSpace, error) {
	as := &addressSpace{
		pid:    pid,
		arch:   arch,
		acc:    acc,
		maps:   maps,
		failed: make(map[string]bool),
		log:    logflags.UnwindLogger().WithField("pid", pid),
	}
	cache, err := lru.NewWithEvict[string, *module](cacheSize, func(path string, m *module) {
		as.closeErr = multierr.Append(as.closeErr, m.Close())
	})
	if err != nil {
		return nil, err
	}
	as.modules = cache
	return as, nil
}

// Destroy closes every cached module.
func (as *addressSpace) Destroy() {
	as.modules.Purge()
	if as.closeErr != nil {
		as.log.Warnf("closing modules: %v", as.closeErr)
		as.closeErr = nil
	}
}

// mappingFor returns the mapping containing pc.
func (as *addressSpace) mappingFor(pc uint64) (mapping, bool) {
	i := sort.Search(len(as.maps), func(i int) bool { return as.maps[i].end > pc })
	if i < len(as.maps) && as.maps[i].start <= pc {
		return as.maps[i], true
	}
	return mapping{}, false
}

// moduleFor returns the module mapped at pc, loading it if necessary.
func (as *addressSpace) moduleFor(pc uint64) *module {
	mp, ok := as.mappingFor(pc)
	if !ok {
		return nil
	}
	if m, ok := as.modules.Get(mp.path); ok {
		return m
	}
	if as.failed[mp.path] || as.open == nil {
		return nil
	}
	m, err := as.open(mp.path)
	if err != nil {
		as.log.Debugf("opening %s: %v", mp.path, err)
		as.failed[mp.path] = true
		return nil
	}
	if err := m.relocate(mp); err != nil {
		as.log.Debugf("relocating %s: %v", mp.path, err)
		as.failed[mp.path] = true
		m.Close()
		return nil
	}
	as.modules.Add(mp.path, m)
	return m
}

// readPtr reads a pointer sized value at addr in the address space of tid.
func (as *addressSpace) readPtr(tid int, addr uint64) (uint64, error) {
	buf := make([]byte, as.arch.PtrSize)
	n, err := as.acc.ReadMemory(tid, addr, buf)
	if err != nil {
		return 0, err
	}
	if n < len(buf) {
		return 0, fmt.Errorf("short read at %#x", addr)
	}
	if as.arch.PtrSize == 4 {
		return uint64(as.arch.ByteOrder.Uint32(buf)), nil
	}
	return as.arch.ByteOrder.Uint64(buf), nil
}

// memReader adapts Accessors to op.MemoryReader for one thread.
type memReader struct {
	as  *addressSpace
	tid int
}

func (r memReader) ReadMemory(buf []byte, addr uint64) (int, error) {
	return r.as.acc.ReadMemory(r.tid, addr, buf)
}
