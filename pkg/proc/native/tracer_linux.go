package native

import (
	sys "golang.org/x/sys/unix"

	"github.com/go-delve/pstack/pkg/dwarf/op"
)

// Tracer is the process tracing facility used to pause, inspect and
// release target threads.
type Tracer interface {
	// Attach issues an attach request for tid.
	Attach(tid int) error
	// Detach resumes tid and releases control over it.
	Detach(tid int) error
	// Cont resumes a stopped thread delivering sig.
	Cont(tid, sig int) error
	// Wait waits for a state change of pid, see wait4(2).
	Wait(pid, options int) (int, sys.WaitStatus, error)
	// ReadMemory reads len(buf) bytes at addr from the address space of tid.
	ReadMemory(tid int, addr uint64, buf []byte) (int, error)
	// Registers returns the general purpose registers of a stopped thread
	// keyed by DWARF register number.
	Registers(tid int) (*op.DwarfRegisters, error)
}
