package remote

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/pstack/pkg/dwarf/frame"
	"github.com/go-delve/pstack/pkg/dwarf/leb128"
	"github.com/go-delve/pstack/pkg/dwarf/op"
	"github.com/go-delve/pstack/pkg/dwarf/regnum"
	"github.com/go-delve/pstack/pkg/unwind"
)

// fakeAccessors is a sparse little endian memory and a register file.
type fakeAccessors struct {
	mem  map[uint64]byte
	regs map[int]*op.DwarfRegisters
}

func newFakeAccessors() *fakeAccessors {
	return &fakeAccessors{mem: map[uint64]byte{}, regs: map[int]*op.DwarfRegisters{}}
}

func (f *fakeAccessors) putWord(addr, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for i, b := range buf {
		f.mem[addr+uint64(i)] = b
	}
}

func (f *fakeAccessors) ReadMemory(tid int, addr uint64, buf []byte) (int, error) {
	for i := range buf {
		b, ok := f.mem[addr+uint64(i)]
		if !ok {
			return i, fmt.Errorf("unmapped address %#x", addr+uint64(i))
		}
		buf[i] = b
	}
	return len(buf), nil
}

func (f *fakeAccessors) Registers(tid int) (*op.DwarfRegisters, error) {
	regs, ok := f.regs[tid]
	if !ok {
		return nil, errors.New("no such thread")
	}
	return regs.Copy(), nil
}

func amd64Regs(rip, rsp, rbp uint64) *op.DwarfRegisters {
	dregs := make([]*op.DwarfRegister, regnum.AMD64MaxRegNum+1)
	dregs[regnum.AMD64_Rip] = op.DwarfRegisterFromUint64(rip)
	dregs[regnum.AMD64_Rsp] = op.DwarfRegisterFromUint64(rsp)
	dregs[regnum.AMD64_Rbp] = op.DwarfRegisterFromUint64(rbp)
	return op.NewDwarfRegisters(dregs, binary.LittleEndian, regnum.AMD64_Rip, regnum.AMD64_Rsp, regnum.AMD64_Rbp, 0)
}

// testBackend serves a prepared address space instead of reading the
// mappings of a real process.
type testBackend struct {
	*Backend
	as *addressSpace
}

func (b *testBackend) CreateAddressSpace(arch *unwind.Arch) (unwind.AddressSpace, error) {
	return b.as, nil
}

type stoppedThread int

func (t stoppedThread) ThreadID() int { return int(t) }
func (t stoppedThread) Stopped() bool { return true }

func walk(t *testing.T, acc *fakeAccessors, as *addressSpace, tid int) []unwind.Frame {
	t.Helper()
	ctx, err := unwind.NewContext(&testBackend{NewBackend(1, acc, 0), as}, as.arch)
	require.NoError(t, err)
	defer ctx.Close()
	frames, err := ctx.Walk(stoppedThread(tid), unwind.WalkOptions{})
	require.NoError(t, err)
	return frames
}

func TestFramePointerChain(t *testing.T) {
	acc := newFakeAccessors()
	acc.regs[1] = amd64Regs(0x1000, 0x7000, 0x7010)
	acc.putWord(0x7010, 0x7040)
	acc.putWord(0x7018, 0x2000)
	acc.putWord(0x7040, 0)
	acc.putWord(0x7048, 0x3000)

	as, err := newAddressSpace(1, unwind.AMD64Arch(), acc, nil, 4)
	require.NoError(t, err)

	frames := walk(t, acc, as, 1)
	want := []unwind.Frame{
		{IP: 0x1000, SP: 0x7000},
		{IP: 0x2000, SP: 0x7020},
		{IP: 0x3000, SP: 0x7050},
	}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestFramePointerChainBroken(t *testing.T) {
	acc := newFakeAccessors()
	acc.regs[1] = amd64Regs(0x1000, 0x7000, 0x7010)
	// saved frame pointer points down the stack
	acc.putWord(0x7010, 0x6000)
	acc.putWord(0x7018, 0x2000)

	as, err := newAddressSpace(1, unwind.AMD64Arch(), acc, nil, 4)
	require.NoError(t, err)
	frames := walk(t, acc, as, 1)
	assert.Len(t, frames, 1)
}

func TestCallFrameInformation(t *testing.T) {
	const bias = 0x400000

	leafCIE := &frame.CommonInformationEntry{
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   -8,
		ReturnAddressRegister: regnum.AMD64_Rip,
		// rsp+8, rip at cfa-8
		InitialInstructions: []byte{frame.DW_CFA_def_cfa, 7, 8, frame.DW_CFA_offset | 16, 1},
	}
	mainCIE := &frame.CommonInformationEntry{
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   -8,
		ReturnAddressRegister: regnum.AMD64_Rip,
		// rsp+8, rip undefined
		InitialInstructions: []byte{frame.DW_CFA_def_cfa, 7, 8, frame.DW_CFA_undefined, 16},
	}
	m := &module{
		path:       "/bin/fake",
		arch:       unwind.AMD64Arch(),
		fdesLoaded: true,
		fdes: frame.FrameDescriptionEntries{
			// push %rbp at 0x1000
			frame.NewFrameDescriptionEntry(leafCIE, 0x1000, 0x100, []byte{frame.DW_CFA_advance_loc | 1, frame.DW_CFA_def_cfa_offset, 16, frame.DW_CFA_offset | 6, 2}, binary.LittleEndian, 8),
			frame.NewFrameDescriptionEntry(mainCIE, 0x2000, 0x100, nil, binary.LittleEndian, 8),
		},
		funcsLoaded: true,
		funcs: []funcSym{
			{addr: 0x1000, size: 0x100, name: "leaf"},
			{addr: 0x2000, size: 0x100, name: "main"},
		},
	}
	m.bias = bias

	acc := newFakeAccessors()
	acc.regs[5] = amd64Regs(bias+0x1005, 0x7000, 0x9999)
	acc.putWord(0x7000, 0x7100)
	acc.putWord(0x7008, bias+0x2010)

	maps := []mapping{{start: bias + 0x1000, end: bias + 0x3000, offset: 0x1000, path: m.path}}
	as, err := newAddressSpace(1, unwind.AMD64Arch(), acc, maps, 4)
	require.NoError(t, err)
	as.modules.Add(m.path, m)

	frames := walk(t, acc, as, 5)
	want := []unwind.Frame{
		{IP: bias + 0x1005, SP: 0x7000, RawName: "leaf", Offset: 5},
		{IP: bias + 0x2010, SP: 0x7010, RawName: "main", Offset: 0x10},
	}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}

	// the saved frame pointer was restored; walk destroyed as, so the
	// cursor gets an address space of its own
	as, err = newAddressSpace(1, unwind.AMD64Arch(), acc, maps, 4)
	require.NoError(t, err)
	defer as.Destroy()
	as.modules.Add(m.path, m)
	cur, code := NewBackend(1, acc, 0).InitRemote(as, &arg{tid: 5})
	require.Equal(t, unwind.CodeSuccess, code)
	require.Equal(t, unwind.Code(1), cur.Step())
	rbp, code := cur.Reg(regnum.AMD64_Rbp)
	require.Equal(t, unwind.CodeSuccess, code)
	assert.Equal(t, uint64(0x7100), rbp)
	assert.Equal(t, unwind.Code(0), cur.Step())
}

func TestUnreadableSavedRegister(t *testing.T) {
	cie := &frame.CommonInformationEntry{
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   -8,
		ReturnAddressRegister: regnum.AMD64_Rip,
		InitialInstructions:   []byte{frame.DW_CFA_def_cfa, 7, 8, frame.DW_CFA_offset | 16, 1},
	}
	m := &module{
		path:        "/bin/fake",
		arch:        unwind.AMD64Arch(),
		fdesLoaded:  true,
		fdes:        frame.FrameDescriptionEntries{frame.NewFrameDescriptionEntry(cie, 0x1000, 0x100, nil, binary.LittleEndian, 8)},
		funcsLoaded: true,
	}
	acc := newFakeAccessors()
	acc.regs[1] = amd64Regs(0x1010, 0x7000, 0)

	as, err := newAddressSpace(1, unwind.AMD64Arch(), acc, []mapping{{start: 0x1000, end: 0x2000, path: m.path}}, 4)
	require.NoError(t, err)
	as.modules.Add(m.path, m)

	cur, code := NewBackend(1, acc, 0).InitRemote(as, &arg{tid: 1})
	require.Equal(t, unwind.CodeSuccess, code)
	assert.Equal(t, unwind.CodeBadFrame, cur.Step())
	_, _, code = cur.ProcName(make([]byte, 16))
	assert.Equal(t, unwind.CodeNoInfo, code)
}

func TestCorruptRegisterRule(t *testing.T) {
	var instrs bytes.Buffer
	instrs.WriteByte(frame.DW_CFA_val_offset)
	leb128.EncodeUnsigned(&instrs, 1<<62)
	leb128.EncodeUnsigned(&instrs, 0)
	cie := &frame.CommonInformationEntry{
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   -8,
		ReturnAddressRegister: regnum.AMD64_Rip,
		InitialInstructions:   []byte{frame.DW_CFA_def_cfa, 7, 8, frame.DW_CFA_offset | 16, 1},
	}
	m := &module{
		path:        "/bin/fake",
		arch:        unwind.AMD64Arch(),
		fdesLoaded:  true,
		fdes:        frame.FrameDescriptionEntries{frame.NewFrameDescriptionEntry(cie, 0x1000, 0x100, instrs.Bytes(), binary.LittleEndian, 8)},
		funcsLoaded: true,
	}
	acc := newFakeAccessors()
	acc.regs[1] = amd64Regs(0x1010, 0x7000, 0)
	acc.putWord(0x7000, 0x2000)

	as, err := newAddressSpace(1, unwind.AMD64Arch(), acc, []mapping{{start: 0x1000, end: 0x2000, path: m.path}}, 4)
	require.NoError(t, err)
	as.modules.Add(m.path, m)

	ctx, err := unwind.NewContext(&testBackend{NewBackend(1, acc, 0), as}, as.arch)
	require.NoError(t, err)
	defer ctx.Close()
	_, err = ctx.Walk(stoppedThread(1), unwind.WalkOptions{})
	var uerr *unwind.Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, unwind.StepFailure, uerr.Kind)
	assert.Equal(t, unwind.CodeBadFrame, uerr.Code)
}

func TestInitRemoteErrors(t *testing.T) {
	acc := newFakeAccessors()
	b := NewBackend(1, acc, 0)
	as, err := newAddressSpace(1, unwind.AMD64Arch(), acc, nil, 4)
	require.NoError(t, err)

	_, code := b.InitRemote(as, &arg{tid: 77})
	assert.Equal(t, unwind.CodeBadReg, code)

	_, err = b.CreateArg(0)
	assert.Error(t, err)
}

func TestDestroyClosesModules(t *testing.T) {
	acc := newFakeAccessors()
	as, err := newAddressSpace(1, unwind.AMD64Arch(), acc, nil, 1)
	require.NoError(t, err)
	as.modules.Add("a", &module{path: "a"})
	as.modules.Add("b", &module{path: "b"})
	assert.Equal(t, 1, as.modules.Len())
	as.Destroy()
	assert.Zero(t, as.modules.Len())
}
