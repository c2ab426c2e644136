package native

import (
	"debug/elf"
	"encoding/binary"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/pstack/pkg/dwarf/op"
	"github.com/go-delve/pstack/pkg/dwarf/regnum"
)

const _AARCH64_GREGS_SIZE = 34 * 8

// arm64PtraceRegs is the user_pt_regs structure returned for NT_PRSTATUS.
type arm64PtraceRegs struct {
	Regs   [31]uint64
	Sp     uint64
	Pc     uint64
	Pstate uint64
}

func ptraceGetGRegs(pid int, regs *arm64PtraceRegs) (err error) {
	iov := sys.Iovec{Base: (*byte)(unsafe.Pointer(regs)), Len: _AARCH64_GREGS_SIZE}
	_, _, err = syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETREGSET, uintptr(pid), uintptr(elf.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if err == syscall.Errno(0) {
		err = nil
	}
	return
}

func registers(tid int) (*op.DwarfRegisters, error) {
	var regs arm64PtraceRegs
	if err := ptraceGetGRegs(tid, &regs); err != nil {
		return nil, err
	}
	return arm64DwarfRegisters(&regs), nil
}

func arm64DwarfRegisters(regs *arm64PtraceRegs) *op.DwarfRegisters {
	dregs := make([]*op.DwarfRegister, regnum.ARM64MaxRegNum+1)
	for i := range regs.Regs {
		dregs[regnum.ARM64_X0+i] = op.DwarfRegisterFromUint64(regs.Regs[i])
	}
	dregs[regnum.ARM64_SP] = op.DwarfRegisterFromUint64(regs.Sp)
	dregs[regnum.ARM64_PC] = op.DwarfRegisterFromUint64(regs.Pc)
	return op.NewDwarfRegisters(dregs, binary.LittleEndian, regnum.ARM64_PC, regnum.ARM64_SP, regnum.ARM64_BP, regnum.ARM64_LR)
}
