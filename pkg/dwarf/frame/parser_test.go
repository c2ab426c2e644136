package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestParseCIE(t *testing.T) {
	ctx := &parseContext{
		buf:    bytes.NewBuffer([]byte{3, 0, 1, 124, 16, 12, 7, 8, 5, 16, 2, 0, 36, 0, 0, 0, 0, 0, 0, 0, 0, 16, 64, 0, 0, 0, 0, 0}),
		common: &CommonInformationEntry{},
		length: 12,
	}
	if _, err := parseCIE(ctx); err != nil {
		t.Fatal(err)
	}

	common := ctx.common

	if common.Version != 3 {
		t.Fatalf("Expected Version 3, but get %d", common.Version)
	}
	if common.Augmentation != "" {
		t.Fatalf("Expected Augmentation \"\", but get %s", common.Augmentation)
	}
	if common.CodeAlignmentFactor != 1 {
		t.Fatalf("Expected CodeAlignmentFactor 1, but get %d", common.CodeAlignmentFactor)
	}
	if common.DataAlignmentFactor != -4 {
		t.Fatalf("Expected DataAlignmentFactor -4, but get %d", common.DataAlignmentFactor)
	}
	if common.ReturnAddressRegister != 16 {
		t.Fatalf("Expected ReturnAddressRegister 16, but get %d", common.ReturnAddressRegister)
	}
	initialInstructions := []byte{12, 7, 8, 5, 16, 2, 0}
	if !bytes.Equal(common.InitialInstructions, initialInstructions) {
		t.Fatalf("Expected InitialInstructions %v, but get %v", initialInstructions, common.InitialInstructions)
	}
}

// entry prepends the 32bit length field to id and body.
func entry(id uint32, body ...[]byte) []byte {
	var payload []byte
	payload = binary.LittleEndian.AppendUint32(payload, id)
	for _, b := range body {
		payload = append(payload, b...)
	}
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(payload)))
	return append(out, payload...)
}

var (
	// DW_CFA_def_cfa rsp+8; DW_CFA_offset rip at cfa-8
	cieInstructions = []byte{DW_CFA_def_cfa, 7, 8, DW_CFA_offset | 16, 1}
	// advance 1; def_cfa_offset 16; rbp at cfa-16; advance 3; def_cfa_register rbp
	fdeInstructions = []byte{DW_CFA_advance_loc | 1, DW_CFA_def_cfa_offset, 16, DW_CFA_offset | 6, 2, DW_CFA_advance_loc | 3, DW_CFA_def_cfa_register, 6}
)

func debugFrameFixture() []byte {
	cie := entry(0xffffffff,
		[]byte{1, 0, 1, 0x78, 16},
		cieInstructions)
	var addrs []byte
	addrs = binary.LittleEndian.AppendUint64(addrs, 0x1000)
	addrs = binary.LittleEndian.AppendUint64(addrs, 0x100)
	fde := entry(0, addrs, fdeInstructions)
	return append(cie, fde...)
}

func ehFrameFixture(ehFrameAddr uint64) []byte {
	cie := entry(0,
		[]byte{1, 'z', 'R', 0, 1, 0x78, 16, 1, byte(ptrEncPCRel | ptrEncSdata4)},
		cieInstructions)
	fdeOff := len(cie)
	// pc begin is relative to its own address, 8 bytes into the FDE
	fieldAddr := ehFrameAddr + uint64(fdeOff) + 8
	var addrs []byte
	addrs = binary.LittleEndian.AppendUint32(addrs, uint32(int32(int64(0x1000)-int64(fieldAddr))))
	addrs = binary.LittleEndian.AppendUint32(addrs, 0x100)
	fde := entry(uint32(fdeOff+4), addrs, []byte{0}, fdeInstructions)
	out := append(cie, fde...)
	return append(out, 0, 0, 0, 0)
}

func TestParseDebugFrame(t *testing.T) {
	fdes, err := Parse(debugFrameFixture(), binary.LittleEndian, 0x400000, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdes) != 1 {
		t.Fatalf("expected one FDE, got %d", len(fdes))
	}
	fde := fdes[0]
	if fde.Begin() != 0x401000 || fde.End() != 0x401100 {
		t.Fatalf("unexpected range [%#x, %#x)", fde.Begin(), fde.End())
	}
	if fde.CIE.ReturnAddressRegister != 16 || fde.CIE.DataAlignmentFactor != -8 {
		t.Fatalf("bad CIE %#v", fde.CIE)
	}
	if !bytes.Equal(fde.Instructions, fdeInstructions) {
		t.Fatalf("bad instructions %v", fde.Instructions)
	}
}

func TestParseEHFrame(t *testing.T) {
	const ehFrameAddr = 0x2000
	fdes, err := Parse(ehFrameFixture(ehFrameAddr), binary.LittleEndian, 0, 8, ehFrameAddr)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdes) != 1 {
		t.Fatalf("expected one FDE, got %d", len(fdes))
	}
	fde := fdes[0]
	if fde.Begin() != 0x1000 || fde.End() != 0x1100 {
		t.Fatalf("unexpected range [%#x, %#x)", fde.Begin(), fde.End())
	}
	if fde.CIE.Augmentation != "zR" {
		t.Fatalf("bad augmentation %q", fde.CIE.Augmentation)
	}
	if !bytes.Equal(fde.Instructions, fdeInstructions) {
		t.Fatalf("bad instructions %v", fde.Instructions)
	}
}

func TestParseMalformed(t *testing.T) {
	data := debugFrameFixture()
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"truncated", data[:len(data)-3]},
		{"unknown CIE", entry(0x40, make([]byte, 16))},
		{"short length", []byte{1, 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.data, binary.LittleEndian, 0, 8, 0)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParseBadPointerSize(t *testing.T) {
	if _, err := Parse(debugFrameFixture(), binary.LittleEndian, 0, 3, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseCIEBadReturnRegister(t *testing.T) {
	body := append([]byte{3, 0, 1, 124}, ulebs(1<<40)...)
	cie := entry(0xffffffff, body, cieInstructions)
	_, err := Parse(cie, binary.LittleEndian, 0, 8, 0)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
