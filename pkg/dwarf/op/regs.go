package op

import (
	"encoding/binary"
)

// DwarfRegisters holds the value of stack program registers.
type DwarfRegisters struct {
	CFA  int64
	regs []*DwarfRegister

	ByteOrder binary.ByteOrder
	PCRegNum  uint64
	SPRegNum  uint64
	BPRegNum  uint64
	LRRegNum  uint64
}

type DwarfRegister struct {
	Uint64Val uint64
}

// NewDwarfRegisters returns a new DwarfRegisters object.
func NewDwarfRegisters(regs []*DwarfRegister, byteOrder binary.ByteOrder, pcRegNum, spRegNum, bpRegNum, lrRegNum uint64) *DwarfRegisters {
	return &DwarfRegisters{
		regs:      regs,
		ByteOrder: byteOrder,
		PCRegNum:  pcRegNum,
		SPRegNum:  spRegNum,
		BPRegNum:  bpRegNum,
		LRRegNum:  lrRegNum,
	}
}

// CurrentSize returns the current number of register slots.
func (regs *DwarfRegisters) CurrentSize() int {
	return len(regs.regs)
}

// Uint64Val returns the uint64 value of register idx.
func (regs *DwarfRegisters) Uint64Val(idx uint64) uint64 {
	reg := regs.Reg(idx)
	if reg == nil {
		return 0
	}
	return reg.Uint64Val
}

// Reg returns register idx or nil if the register is not defined.
func (regs *DwarfRegisters) Reg(idx uint64) *DwarfRegister {
	if idx >= uint64(len(regs.regs)) {
		return nil
	}
	return regs.regs[idx]
}

func (regs *DwarfRegisters) PC() uint64 {
	return regs.Uint64Val(regs.PCRegNum)
}

func (regs *DwarfRegisters) SP() uint64 {
	return regs.Uint64Val(regs.SPRegNum)
}

func (regs *DwarfRegisters) BP() uint64 {
	return regs.Uint64Val(regs.BPRegNum)
}

// AddReg adds register idx to regs.
func (regs *DwarfRegisters) AddReg(idx uint64, reg *DwarfRegister) {
	if idx >= uint64(len(regs.regs)) {
		newRegs := make([]*DwarfRegister, idx+1)
		copy(newRegs, regs.regs)
		regs.regs = newRegs
	}
	regs.regs[idx] = reg
}

// DelReg marks register idx as undefined.
func (regs *DwarfRegisters) DelReg(idx uint64) {
	if idx < uint64(len(regs.regs)) {
		regs.regs[idx] = nil
	}
}

// Copy returns a copy of regs that shares no register slots with it.
func (regs *DwarfRegisters) Copy() *DwarfRegisters {
	r := *regs
	r.regs = make([]*DwarfRegister, len(regs.regs))
	for i, reg := range regs.regs {
		if reg != nil {
			v := *reg
			r.regs[i] = &v
		}
	}
	return &r
}

func DwarfRegisterFromUint64(v uint64) *DwarfRegister {
	return &DwarfRegister{Uint64Val: v}
}
