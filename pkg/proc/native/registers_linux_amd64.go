package native

import (
	"encoding/binary"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/pstack/pkg/dwarf/op"
	"github.com/go-delve/pstack/pkg/dwarf/regnum"
)

func registers(tid int) (*op.DwarfRegisters, error) {
	var regs sys.PtraceRegs
	if err := sys.PtraceGetRegs(tid, &regs); err != nil {
		return nil, err
	}
	return amd64DwarfRegisters(&regs), nil
}

func amd64DwarfRegisters(regs *sys.PtraceRegs) *op.DwarfRegisters {
	dregs := make([]*op.DwarfRegister, regnum.AMD64MaxRegNum+1)
	for num, v := range map[int]uint64{
		regnum.AMD64_Rax: regs.Rax,
		regnum.AMD64_Rdx: regs.Rdx,
		regnum.AMD64_Rcx: regs.Rcx,
		regnum.AMD64_Rbx: regs.Rbx,
		regnum.AMD64_Rsi: regs.Rsi,
		regnum.AMD64_Rdi: regs.Rdi,
		regnum.AMD64_Rbp: regs.Rbp,
		regnum.AMD64_Rsp: regs.Rsp,
		regnum.AMD64_R8:  regs.R8,
		regnum.AMD64_R9:  regs.R9,
		regnum.AMD64_R10: regs.R10,
		regnum.AMD64_R11: regs.R11,
		regnum.AMD64_R12: regs.R12,
		regnum.AMD64_R13: regs.R13,
		regnum.AMD64_R14: regs.R14,
		regnum.AMD64_R15: regs.R15,
		regnum.AMD64_Rip: regs.Rip,
	} {
		dregs[num] = op.DwarfRegisterFromUint64(v)
	}
	return op.NewDwarfRegisters(dregs, binary.LittleEndian, regnum.AMD64_Rip, regnum.AMD64_Rsp, regnum.AMD64_Rbp, 0)
}
