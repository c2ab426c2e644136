package remote

import (
	"fmt"

	"github.com/go-delve/pstack/pkg/dwarf/op"
	"github.com/go-delve/pstack/pkg/logflags"
	"github.com/go-delve/pstack/pkg/unwind"
)

// DefaultModuleCacheSize is the number of modules kept parsed by an address
// space.
const DefaultModuleCacheSize = 64

// Accessors reads the state of stopped threads of the target.
type Accessors interface {
	ReadMemory(tid int, addr uint64, buf []byte) (int, error)
	Registers(tid int) (*op.DwarfRegisters, error)
}

// Backend unwinds threads of process Pid.
type Backend struct {
	pid       int
	acc       Accessors
	cacheSize int
	procRoot  string
}

// NewBackend returns a Backend for process pid reading thread state through
// acc. A cacheSize <= 0 selects DefaultModuleCacheSize.
func NewBackend(pid int, acc Accessors, cacheSize int) *Backend {
	if cacheSize <= 0 {
		cacheSize = DefaultModuleCacheSize
	}
	return &Backend{pid: pid, acc: acc, cacheSize: cacheSize, procRoot: "/proc"}
}

// CreateAddressSpace snapshots the executable mappings of the target.
func (b *Backend) CreateAddressSpace(arch *unwind.Arch) (unwind.AddressSpace, error) {
	maps, err := readMappings(b.procRoot, b.pid)
	if err != nil {
		return nil, err
	}
	as, err := newAddressSpace(b.pid, arch, b.acc, maps, b.cacheSize)
	if err != nil {
		return nil, err
	}
	as.open = func(path string) (*module, error) {
		return openModule(fmt.Sprintf("%s/%d/root%s", b.procRoot, b.pid, path), path, arch)
	}
	return as, nil
}

// arg is the per thread unwind argument.
type arg struct {
	tid int
}

func (a *arg) Destroy() {}

// CreateArg returns the unwind argument for thread tid.
func (b *Backend) CreateArg(tid int) (unwind.Arg, error) {
	if tid <= 0 {
		return nil, fmt.Errorf("invalid thread id %d", tid)
	}
	return &arg{tid: tid}, nil
}

// InitRemote reads the registers of the thread and returns a cursor at its
// innermost frame.
func (b *Backend) InitRemote(uas unwind.AddressSpace, uarg unwind.Arg) (unwind.Cursor, unwind.Code) {
	as, ok := uas.(*addressSpace)
	if !ok {
		return nil, unwind.CodeInval
	}
	a, ok := uarg.(*arg)
	if !ok {
		return nil, unwind.CodeInval
	}
	regs, err := as.acc.Registers(a.tid)
	if err != nil {
		logflags.UnwindLogger().WithField("tid", a.tid).Debugf("reading registers: %v", err)
		return nil, unwind.CodeBadReg
	}
	return newCursor(as, a.tid, regs), unwind.CodeSuccess
}
