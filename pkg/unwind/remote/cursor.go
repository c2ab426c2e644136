package remote

import (
	"debug/elf"

	"github.com/go-delve/pstack/pkg/dwarf/frame"
	"github.com/go-delve/pstack/pkg/dwarf/op"
	"github.com/go-delve/pstack/pkg/logflags"
	"github.com/go-delve/pstack/pkg/unwind"
)

// arm64PACMask clears the pointer authentication code from return
// addresses, user space addresses have at most 48 significant bits.
const arm64PACMask = 0x0000ffffffffffff

// cursor implements unwind.Cursor.
type cursor struct {
	as   *addressSpace
	tid  int
	regs *op.DwarfRegisters
	// top is true for the innermost frame, whose pc is the address of the
	// next instruction to execute rather than a return address.
	top bool
	// signal is true when the current frame was interrupted by a signal.
	signal bool
	log    logflags.Logger
}

func newCursor(as *addressSpace, tid int, regs *op.DwarfRegisters) *cursor {
	return &cursor{
		as:   as,
		tid:  tid,
		regs: regs,
		top:  true,
		log:  logflags.UnwindLogger().WithField("tid", tid),
	}
}

func (c *cursor) Reg(num uint64) (uint64, unwind.Code) {
	reg := c.regs.Reg(num)
	if reg == nil {
		return 0, unwind.CodeBadReg
	}
	return reg.Uint64Val, unwind.CodeSuccess
}

// lookupPC returns the address used to find the unwind information of the
// current frame. A return address may point past the end of the calling
// function, so the call instruction itself is looked up.
func (c *cursor) lookupPC() uint64 {
	pc := c.regs.PC()
	if c.top || c.signal || pc == 0 {
		return pc
	}
	return pc - 1
}

func (c *cursor) ProcName(buf []byte) (int, uint64, unwind.Code) {
	pc := c.lookupPC()
	m := c.as.moduleFor(pc)
	if m == nil {
		return 0, 0, unwind.CodeNoInfo
	}
	f, ok := m.funcFor(pc)
	if !ok {
		return 0, 0, unwind.CodeNoInfo
	}
	n := copy(buf, f.name)
	off := c.regs.PC() - (f.addr + m.bias)
	if n < len(f.name) {
		return n, off, unwind.CodeNoMem
	}
	if n < len(buf) {
		buf[n] = 0
	}
	return n, off, unwind.CodeSuccess
}

func (c *cursor) Step() unwind.Code {
	pc := c.regs.PC()
	if pc == 0 {
		return 0
	}
	lookup := c.lookupPC()

	var (
		caller *op.DwarfRegisters
		code   unwind.Code
		cfi    bool
	)
	if m := c.as.moduleFor(lookup); m != nil {
		var fde *frame.FrameDescriptionEntry
		if fde, cfi = m.fdeFor(lookup); cfi {
			caller, code = c.stepCFI(fde, lookup-m.bias)
		}
	}
	if !cfi {
		caller, code = c.stepFramePointer()
	}
	if code < 0 {
		c.log.Debugf("step at %#x: %v", pc, code)
		return code
	}
	if caller == nil {
		return 0
	}

	ret := caller.PC()
	if c.as.arch.Machine == elf.EM_AARCH64 {
		ret &= arm64PACMask
		caller.AddReg(caller.PCRegNum, op.DwarfRegisterFromUint64(ret))
	}
	if ret == 0 {
		return 0
	}
	if ret == pc && caller.SP() == c.regs.SP() {
		// no progress, the unwind information describes a loop
		return unwind.CodeBadFrame
	}
	if logflags.Unwind() {
		c.log.Debugf("step %#x -> %#x sp=%#x cfi=%t", pc, ret, caller.SP(), cfi)
	}
	c.regs = caller
	c.top = false
	return 1
}

// stepCFI computes the registers of the caller by executing the call frame
// program of fde up to pc, a link time address.
// A nil result with a zero code means the current frame is the outermost.
func (c *cursor) stepCFI(fde *frame.FrameDescriptionEntry, pc uint64) (*op.DwarfRegisters, unwind.Code) {
	fctx, err := fde.EstablishFrame(pc)
	if err != nil {
		c.log.Debugf("executing call frame program: %v", err)
		return nil, unwind.CodeBadFrame
	}
	mem := memReader{c.as, c.tid}
	ptrSize := c.as.arch.PtrSize

	var cfa uint64
	switch fctx.CFA.Rule {
	case frame.RuleCFA:
		reg := c.regs.Reg(fctx.CFA.Reg)
		if reg == nil {
			return nil, unwind.CodeBadReg
		}
		cfa = uint64(int64(reg.Uint64Val) + fctx.CFA.Offset)
	case frame.RuleExpression:
		v, err := op.ExecuteStackProgram(c.regs, fctx.CFA.Expression, ptrSize, mem)
		if err != nil {
			return nil, unwind.CodeBadFrame
		}
		cfa = uint64(v)
	default:
		return nil, unwind.CodeInval
	}

	if rule, ok := fctx.Regs[fctx.RetAddrReg]; ok && rule.Rule == frame.RuleUndefined {
		return nil, 0
	}

	// Registers without a rule keep their value in the caller.
	caller := c.regs.Copy()
	caller.CFA = int64(cfa)
	if !c.as.arch.HasLR || fctx.RetAddrReg != c.regs.LRRegNum {
		// the return address column is not a real register
		caller.DelReg(fctx.RetAddrReg)
	}
	for num, rule := range fctx.Regs {
		if num > frame.MaxRegNum {
			return nil, unwind.CodeBadReg
		}
		v, defined, code := c.evalRule(rule, cfa, mem)
		if code < 0 {
			return nil, code
		}
		if !defined {
			caller.DelReg(num)
			continue
		}
		caller.AddReg(num, op.DwarfRegisterFromUint64(v))
	}

	ra := caller.Reg(fctx.RetAddrReg)
	if ra == nil {
		return nil, 0
	}
	caller.AddReg(caller.PCRegNum, op.DwarfRegisterFromUint64(ra.Uint64Val))
	if _, ok := fctx.Regs[caller.SPRegNum]; !ok {
		caller.AddReg(caller.SPRegNum, op.DwarfRegisterFromUint64(cfa))
	}
	c.signal = fctx.SignalFrame()
	return caller, 0
}

func (c *cursor) evalRule(rule frame.DWRule, cfa uint64, mem memReader) (v uint64, defined bool, code unwind.Code) {
	ptrSize := c.as.arch.PtrSize
	switch rule.Rule {
	case frame.RuleUndefined:
		return 0, false, 0
	case frame.RuleSameVal:
		reg := c.regs.Reg(rule.Reg)
		if reg == nil {
			return 0, false, 0
		}
		return reg.Uint64Val, true, 0
	case frame.RuleOffset:
		v, err := c.as.readPtr(c.tid, uint64(int64(cfa)+rule.Offset))
		if err != nil {
			return 0, false, unwind.CodeBadFrame
		}
		return v, true, 0
	case frame.RuleValOffset:
		return uint64(int64(cfa) + rule.Offset), true, 0
	case frame.RuleRegister:
		reg := c.regs.Reg(rule.Reg)
		if reg == nil {
			return 0, false, unwind.CodeBadReg
		}
		return reg.Uint64Val, true, 0
	case frame.RuleExpression:
		addr, err := op.ExecuteStackProgram(c.regs, rule.Expression, ptrSize, mem, int64(cfa))
		if err != nil {
			return 0, false, unwind.CodeBadFrame
		}
		v, err := c.as.readPtr(c.tid, uint64(addr))
		if err != nil {
			return 0, false, unwind.CodeBadFrame
		}
		return v, true, 0
	case frame.RuleValExpression:
		v, err := op.ExecuteStackProgram(c.regs, rule.Expression, ptrSize, mem, int64(cfa))
		if err != nil {
			return 0, false, unwind.CodeBadFrame
		}
		return uint64(v), true, 0
	}
	return 0, false, unwind.CodeInval
}

// stepFramePointer follows the frame pointer chain: the saved frame
// pointer of the caller is stored at the frame pointer, the return address
// right above it. A broken chain ends the walk.
func (c *cursor) stepFramePointer() (*op.DwarfRegisters, unwind.Code) {
	arch := c.as.arch
	fp, code := c.Reg(arch.FPRegNum)
	if code < 0 || fp == 0 {
		return nil, 0
	}
	ptrSize := uint64(arch.PtrSize)
	savedFP, err := c.as.readPtr(c.tid, fp)
	if err != nil {
		c.log.Debugf("frame pointer chain broken at %#x: %v", fp, err)
		return nil, 0
	}
	ret, err := c.as.readPtr(c.tid, fp+ptrSize)
	if err != nil {
		c.log.Debugf("frame pointer chain broken at %#x: %v", fp+ptrSize, err)
		return nil, 0
	}
	if savedFP != 0 && savedFP <= fp {
		// the stack grows down, callers live at higher addresses
		return nil, 0
	}

	caller := c.regs.Copy()
	cfa := fp + 2*ptrSize
	caller.CFA = int64(cfa)
	caller.AddReg(arch.FPRegNum, op.DwarfRegisterFromUint64(savedFP))
	caller.AddReg(arch.SPRegNum, op.DwarfRegisterFromUint64(cfa))
	caller.AddReg(arch.IPRegNum, op.DwarfRegisterFromUint64(ret))
	c.signal = false
	return caller, 0
}
