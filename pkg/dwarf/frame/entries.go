package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrNoFDE is returned when no entry covers an address.
var ErrNoFDE = errors.New("no frame description entry")

// CommonInformationEntry holds the fields of a CIE that the call frame
// programs of its FDEs depend on.
type CommonInformationEntry struct {
	Version               uint8
	Augmentation          string
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte

	// SignalFrame is set for the CIEs of signal trampolines ('S'
	// augmentation), whose return address must not be adjusted before lookup.
	SignalFrame bool

	staticBase uint64
	ptrEncAddr ptrEnc
}

// FrameDescriptionEntry describes how to unwind the code in
// [Begin(), End()).
type FrameDescriptionEntry struct {
	CIE          *CommonInformationEntry
	Instructions []byte
	begin, size  uint64
	order        binary.ByteOrder
	ptrSize      int
}

// NewFrameDescriptionEntry returns a FDE covering [begin, begin+size).
func NewFrameDescriptionEntry(cie *CommonInformationEntry, begin, size uint64, instructions []byte, order binary.ByteOrder, ptrSize int) *FrameDescriptionEntry {
	return &FrameDescriptionEntry{CIE: cie, begin: begin, size: size, Instructions: instructions, order: order, ptrSize: ptrSize}
}

// Cover reports whether addr is inside the entry.
func (fde *FrameDescriptionEntry) Cover(addr uint64) bool {
	return addr-fde.begin < fde.size
}

func (fde *FrameDescriptionEntry) Begin() uint64 { return fde.begin }

// End returns the first address past the entry.
func (fde *FrameDescriptionEntry) End() uint64 { return fde.begin + fde.size }

// EstablishFrame runs the CIE and FDE programs up to pc and returns the
// resulting row of the unwind table.
func (fde *FrameDescriptionEntry) EstablishFrame(pc uint64) (*FrameContext, error) {
	return executeDwarfProgramUntilPC(fde, pc)
}

// FrameDescriptionEntries is sorted by start address.
type FrameDescriptionEntries []*FrameDescriptionEntry

// FDEForPC returns the entry covering pc.
func (fdes FrameDescriptionEntries) FDEForPC(pc uint64) (*FrameDescriptionEntry, error) {
	i := sort.Search(len(fdes), func(i int) bool {
		return fdes[i].Cover(pc) || fdes[i].begin >= pc
	})
	if i == len(fdes) || !fdes[i].Cover(pc) {
		return nil, fmt.Errorf("%w for pc %#x", ErrNoFDE, pc)
	}
	return fdes[i], nil
}

// Append merges other into fdes. Entries with the same range as an
// earlier one are dropped, so .eh_frame wins over .debug_frame when it is
// merged first.
func (fdes FrameDescriptionEntries) Append(other FrameDescriptionEntries) FrameDescriptionEntries {
	r := append(fdes, other...)
	sort.SliceStable(r, func(i, j int) bool { return r[i].begin < r[j].begin })
	out := r[:0]
	for _, fde := range r {
		if n := len(out); n > 0 && out[n-1].begin == fde.begin && out[n-1].size == fde.size {
			continue
		}
		out = append(out, fde)
	}
	return out
}

// ptrEnc is a DW_EH_PE pointer encoding. The low nibble selects the size
// and signedness, the high nibble how the value is applied.
type ptrEnc uint8

const (
	ptrEncAbs    ptrEnc = 0x00
	ptrEncUleb   ptrEnc = 0x01
	ptrEncUdata2 ptrEnc = 0x02
	ptrEncUdata4 ptrEnc = 0x03
	ptrEncUdata8 ptrEnc = 0x04
	ptrEncSigned ptrEnc = 0x08
	ptrEncSleb   ptrEnc = 0x09
	ptrEncSdata2 ptrEnc = 0x0a
	ptrEncSdata4 ptrEnc = 0x0b
	ptrEncSdata8 ptrEnc = 0x0c
	ptrEncOmit   ptrEnc = 0xff

	ptrEncFlagsMask ptrEnc = 0xf0
	// relative to the address of the encoded value, the only
	// application supported
	ptrEncPCRel ptrEnc = 0x10
)

// Supported reports whether p can be decoded.
func (p ptrEnc) Supported() bool {
	if p == ptrEncOmit {
		return true
	}
	switch p & 0x0f {
	case ptrEncAbs, ptrEncUleb, ptrEncUdata2, ptrEncUdata4, ptrEncUdata8,
		ptrEncSigned, ptrEncSleb, ptrEncSdata2, ptrEncSdata4, ptrEncSdata8:
	default:
		return false
	}
	return p&ptrEncFlagsMask&^ptrEncPCRel == 0
}
