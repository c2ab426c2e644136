package unwind

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/go-delve/pstack/pkg/dwarf/regnum"
)

// Arch describes the register layout and ABI constants of a target
// architecture. New architectures are supported by adding a value here.
type Arch struct {
	Name      string
	PtrSize   int
	ByteOrder binary.ByteOrder
	Machine   elf.Machine

	// DWARF register numbers.
	IPRegNum uint64
	SPRegNum uint64
	FPRegNum uint64
	// LRRegNum is the link register, only meaningful when HasLR is set.
	LRRegNum uint64
	HasLR    bool

	// PIELoadBias is the base address a position independent executable is
	// loaded at when address space layout randomization is disabled. Zero
	// means addresses are used as they are.
	PIELoadBias uint64
}

// AMD64Arch returns the description of x86_64.
func AMD64Arch() *Arch {
	return &Arch{
		Name:        "amd64",
		PtrSize:     8,
		ByteOrder:   binary.LittleEndian,
		Machine:     elf.EM_X86_64,
		IPRegNum:    regnum.AMD64_Rip,
		SPRegNum:    regnum.AMD64_Rsp,
		FPRegNum:    regnum.AMD64_Rbp,
		PIELoadBias: 0x555555554000,
	}
}

// ARM64Arch returns the description of aarch64.
func ARM64Arch() *Arch {
	return &Arch{
		Name:        "arm64",
		PtrSize:     8,
		ByteOrder:   binary.LittleEndian,
		Machine:     elf.EM_AARCH64,
		IPRegNum:    regnum.ARM64_PC,
		SPRegNum:    regnum.ARM64_SP,
		FPRegNum:    regnum.ARM64_BP,
		LRRegNum:    regnum.ARM64_LR,
		HasLR:       true,
		PIELoadBias: 0xaaaaaaaa0000,
	}
}

// ARMArch returns the description of 32bit arm.
func ARMArch() *Arch {
	return &Arch{
		Name:      "arm",
		PtrSize:   4,
		ByteOrder: binary.LittleEndian,
		Machine:   elf.EM_ARM,
		IPRegNum:  regnum.ARM_IP,
		SPRegNum:  regnum.ARM_SP,
		FPRegNum:  regnum.ARM_FP,
	}
}

// ArchFor returns the architecture with the given GOARCH name.
func ArchFor(goarch string) (*Arch, error) {
	switch goarch {
	case "amd64":
		return AMD64Arch(), nil
	case "arm64":
		return ARM64Arch(), nil
	case "arm":
		return ARMArch(), nil
	}
	return nil, fmt.Errorf("unsupported architecture %s", goarch)
}

// ArchForMachine returns the architecture of ELF files for machine m.
func ArchForMachine(m elf.Machine) (*Arch, error) {
	switch m {
	case elf.EM_X86_64:
		return AMD64Arch(), nil
	case elf.EM_AARCH64:
		return ARM64Arch(), nil
	case elf.EM_ARM:
		return ARMArch(), nil
	}
	return nil, fmt.Errorf("unsupported machine %v", m)
}
