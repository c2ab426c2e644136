// Package op evaluates the DWARF expressions found in call frame
// information and holds the register file they operate on.
package op

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-delve/pstack/pkg/dwarf/leb128"
)

// Opcode represent a DWARF stack program instruction.
// See ./opcodes.go for the supported list.
type Opcode byte

// MemoryReader reads target memory on behalf of DW_OP_deref.
type MemoryReader interface {
	ReadMemory(buf []byte, addr uint64) (int, error)
}

// maxSteps bounds the number of instructions executed, DW_OP_skip and
// DW_OP_bra can loop.
const maxSteps = 1000

var ErrEmptyStack = errors.New("empty OP stack")

type context struct {
	buf     *bytes.Reader
	prog    []byte
	stack   []int64
	ptrSize int
	mem     MemoryReader
	regs    *DwarfRegisters
}

// ExecuteStackProgram executes a DWARF expression and returns the value
// left on top of the stack. If initial is non-nil its values are pushed
// before execution starts (DW_CFA_expression pushes the CFA).
func ExecuteStackProgram(regs *DwarfRegisters, instructions []byte, ptrSize int, mem MemoryReader, initial ...int64) (int64, error) {
	if regs == nil {
		regs = &DwarfRegisters{}
	}
	ctxt := &context{
		buf:     bytes.NewReader(instructions),
		prog:    instructions,
		stack:   append(make([]int64, 0, 4), initial...),
		ptrSize: ptrSize,
		mem:     mem,
		regs:    regs,
	}

	for steps := 0; ctxt.buf.Len() > 0; steps++ {
		if steps >= maxSteps {
			return 0, errors.New("DWARF expression did not terminate")
		}
		opcodeByte, _ := ctxt.buf.ReadByte()
		if err := ctxt.step(Opcode(opcodeByte)); err != nil {
			return 0, err
		}
	}

	if len(ctxt.stack) == 0 {
		return 0, ErrEmptyStack
	}
	return ctxt.stack[len(ctxt.stack)-1], nil
}

func (ctxt *context) push(v int64) {
	ctxt.stack = append(ctxt.stack, v)
}

func (ctxt *context) pop() (int64, error) {
	if len(ctxt.stack) == 0 {
		return 0, ErrEmptyStack
	}
	v := ctxt.stack[len(ctxt.stack)-1]
	ctxt.stack = ctxt.stack[:len(ctxt.stack)-1]
	return v, nil
}

func (ctxt *context) pop2() (int64, int64, error) {
	b, err := ctxt.pop()
	if err != nil {
		return 0, 0, err
	}
	a, err := ctxt.pop()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (ctxt *context) fixed(n int, signed bool) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(ctxt.buf, b[:n]); err != nil {
		return 0, err
	}
	switch n {
	case 1:
		if signed {
			return int64(int8(b[0])), nil
		}
		return int64(b[0]), nil
	case 2:
		v := binary.LittleEndian.Uint16(b[:2])
		if signed {
			return int64(int16(v)), nil
		}
		return int64(v), nil
	case 4:
		v := binary.LittleEndian.Uint32(b[:4])
		if signed {
			return int64(int32(v)), nil
		}
		return int64(v), nil
	}
	return int64(binary.LittleEndian.Uint64(b[:8])), nil
}

func (ctxt *context) deref(addr int64, size int) (int64, error) {
	if ctxt.mem == nil {
		return 0, errors.New("DW_OP_deref without a memory reader")
	}
	if size <= 0 || size > 8 {
		return 0, fmt.Errorf("invalid deref size %d", size)
	}
	var b [8]byte
	if _, err := ctxt.mem.ReadMemory(b[:size], uint64(addr)); err != nil {
		return 0, err
	}
	order := binary.ByteOrder(binary.LittleEndian)
	if ctxt.regs != nil && ctxt.regs.ByteOrder != nil {
		order = ctxt.regs.ByteOrder
	}
	switch size {
	case 1:
		return int64(b[0]), nil
	case 2:
		return int64(order.Uint16(b[:2])), nil
	case 4:
		return int64(order.Uint32(b[:4])), nil
	case 8:
		return int64(order.Uint64(b[:8])), nil
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return int64(v), nil
}

func (ctxt *context) branch() error {
	off, err := ctxt.fixed(2, true)
	if err != nil {
		return err
	}
	pos := int64(len(ctxt.prog)-ctxt.buf.Len()) + off
	if pos < 0 || pos > int64(len(ctxt.prog)) {
		return fmt.Errorf("branch target %d out of range", pos)
	}
	_, err = ctxt.buf.Seek(pos, io.SeekStart)
	return err
}

func (ctxt *context) step(opcode Opcode) error {
	switch {
	case opcode >= DW_OP_lit0 && opcode <= DW_OP_lit31:
		ctxt.push(int64(opcode - DW_OP_lit0))
		return nil
	case opcode >= DW_OP_breg0 && opcode <= DW_OP_breg31:
		off, _, err := leb128.DecodeSigned(ctxt.buf)
		if err != nil {
			return err
		}
		ctxt.push(int64(ctxt.regs.Uint64Val(uint64(opcode-DW_OP_breg0))) + off)
		return nil
	}

	switch opcode {
	case DW_OP_nop:
	case DW_OP_addr:
		v, err := ctxt.fixed(ctxt.ptrSize, false)
		if err != nil {
			return err
		}
		ctxt.push(v)
	case DW_OP_const1u, DW_OP_const1s, DW_OP_const2u, DW_OP_const2s, DW_OP_const4u, DW_OP_const4s, DW_OP_const8u, DW_OP_const8s:
		n := 1 << ((opcode - DW_OP_const1u) / 2)
		v, err := ctxt.fixed(n, (opcode-DW_OP_const1u)%2 == 1)
		if err != nil {
			return err
		}
		ctxt.push(v)
	case DW_OP_constu:
		v, _, err := leb128.DecodeUnsigned(ctxt.buf)
		if err != nil {
			return err
		}
		ctxt.push(int64(v))
	case DW_OP_consts:
		v, _, err := leb128.DecodeSigned(ctxt.buf)
		if err != nil {
			return err
		}
		ctxt.push(v)
	case DW_OP_bregx:
		reg, _, err := leb128.DecodeUnsigned(ctxt.buf)
		if err != nil {
			return err
		}
		off, _, err := leb128.DecodeSigned(ctxt.buf)
		if err != nil {
			return err
		}
		ctxt.push(int64(ctxt.regs.Uint64Val(reg)) + off)
	case DW_OP_dup:
		v, err := ctxt.pop()
		if err != nil {
			return err
		}
		ctxt.push(v)
		ctxt.push(v)
	case DW_OP_drop:
		_, err := ctxt.pop()
		return err
	case DW_OP_over:
		if len(ctxt.stack) < 2 {
			return ErrEmptyStack
		}
		ctxt.push(ctxt.stack[len(ctxt.stack)-2])
	case DW_OP_pick:
		idx, err := ctxt.fixed(1, false)
		if err != nil {
			return err
		}
		if int(idx) >= len(ctxt.stack) {
			return ErrEmptyStack
		}
		ctxt.push(ctxt.stack[len(ctxt.stack)-1-int(idx)])
	case DW_OP_swap:
		a, b, err := ctxt.pop2()
		if err != nil {
			return err
		}
		ctxt.push(b)
		ctxt.push(a)
	case DW_OP_rot:
		if len(ctxt.stack) < 3 {
			return ErrEmptyStack
		}
		n := len(ctxt.stack)
		ctxt.stack[n-1], ctxt.stack[n-2], ctxt.stack[n-3] = ctxt.stack[n-2], ctxt.stack[n-3], ctxt.stack[n-1]
	case DW_OP_deref:
		addr, err := ctxt.pop()
		if err != nil {
			return err
		}
		v, err := ctxt.deref(addr, ctxt.ptrSize)
		if err != nil {
			return err
		}
		ctxt.push(v)
	case DW_OP_deref_size:
		sz, err := ctxt.fixed(1, false)
		if err != nil {
			return err
		}
		addr, err := ctxt.pop()
		if err != nil {
			return err
		}
		v, err := ctxt.deref(addr, int(sz))
		if err != nil {
			return err
		}
		ctxt.push(v)
	case DW_OP_abs, DW_OP_neg, DW_OP_not:
		v, err := ctxt.pop()
		if err != nil {
			return err
		}
		switch opcode {
		case DW_OP_abs:
			if v < 0 {
				v = -v
			}
		case DW_OP_neg:
			v = -v
		case DW_OP_not:
			v = ^v
		}
		ctxt.push(v)
	case DW_OP_plus_uconst:
		n, _, err := leb128.DecodeUnsigned(ctxt.buf)
		if err != nil {
			return err
		}
		v, err := ctxt.pop()
		if err != nil {
			return err
		}
		ctxt.push(v + int64(n))
	case DW_OP_and, DW_OP_div, DW_OP_minus, DW_OP_mod, DW_OP_mul, DW_OP_or, DW_OP_plus,
		DW_OP_shl, DW_OP_shr, DW_OP_shra, DW_OP_xor,
		DW_OP_eq, DW_OP_ge, DW_OP_gt, DW_OP_le, DW_OP_lt, DW_OP_ne:
		a, b, err := ctxt.pop2()
		if err != nil {
			return err
		}
		v, err := binop(opcode, a, b)
		if err != nil {
			return err
		}
		ctxt.push(v)
	case DW_OP_skip:
		return ctxt.branch()
	case DW_OP_bra:
		v, err := ctxt.pop()
		if err != nil {
			return err
		}
		if v != 0 {
			return ctxt.branch()
		}
		_, err = ctxt.fixed(2, true)
		return err
	default:
		return fmt.Errorf("unsupported DWARF opcode %#x", byte(opcode))
	}
	return nil
}

func binop(opcode Opcode, a, b int64) (int64, error) {
	cond := func(c bool) int64 {
		if c {
			return 1
		}
		return 0
	}
	switch opcode {
	case DW_OP_and:
		return a & b, nil
	case DW_OP_div:
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return a / b, nil
	case DW_OP_minus:
		return a - b, nil
	case DW_OP_mod:
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return int64(uint64(a) % uint64(b)), nil
	case DW_OP_mul:
		return a * b, nil
	case DW_OP_or:
		return a | b, nil
	case DW_OP_plus:
		return a + b, nil
	case DW_OP_shl:
		return int64(uint64(a) << uint64(b)), nil
	case DW_OP_shr:
		return int64(uint64(a) >> uint64(b)), nil
	case DW_OP_shra:
		return a >> uint64(b), nil
	case DW_OP_xor:
		return a ^ b, nil
	case DW_OP_eq:
		return cond(a == b), nil
	case DW_OP_ge:
		return cond(a >= b), nil
	case DW_OP_gt:
		return cond(a > b), nil
	case DW_OP_le:
		return cond(a <= b), nil
	case DW_OP_lt:
		return cond(a < b), nil
	case DW_OP_ne:
		return cond(a != b), nil
	}
	return 0, fmt.Errorf("unsupported DWARF opcode %#x", byte(opcode))
}
