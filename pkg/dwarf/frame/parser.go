// Package frame contains data structures and
// related functions for parsing and searching
// through call frame information in the .debug_frame
// and .eh_frame sections.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/go-delve/pstack/pkg/dwarf/leb128"
)

type parsefunc func(*parseContext) (parsefunc, error)

type parseContext struct {
	staticBase uint64

	data    []byte
	buf     *bytes.Buffer
	order   binary.ByteOrder
	entries FrameDescriptionEntries
	common  *CommonInformationEntry
	frame   *FrameDescriptionEntry
	length  uint32
	ptrSize int

	// ehFrameAddr is the address of the .eh_frame section, zero when
	// parsing .debug_frame.
	ehFrameAddr uint64
	ciemap      map[int]*CommonInformationEntry

	// offset of the entry being parsed, and of the field following its
	// length.
	entryOff, idOff int
}

// ErrMalformed is returned when the section data can not be decoded.
var ErrMalformed = errors.New("malformed call frame information")

// Parse takes in data (a byte slice) and returns FrameDescriptionEntries,
// which is a slice of FrameDescriptionEntry. Each FrameDescriptionEntry
// has a pointer to CommonInformationEntry.
// If ehFrameAddr is not zero the .eh_frame format is used instead of
// .debug_frame and ehFrameAddr is the address where the section is
// loaded in the image.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int, ehFrameAddr uint64) (FrameDescriptionEntries, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("unsupported pointer size %d", ptrSize)
	}
	var (
		buf  = bytes.NewBuffer(data)
		pctx = &parseContext{
			data:        data,
			buf:         buf,
			order:       order,
			entries:     make(FrameDescriptionEntries, 0, 1000),
			staticBase:  staticBase,
			ptrSize:     ptrSize,
			ehFrameAddr: ehFrameAddr,
			ciemap:      map[int]*CommonInformationEntry{},
		}
	)

	var err error
	for fn := parselength; buf.Len() != 0 && fn != nil; {
		fn, err = fn(pctx)
		if err != nil {
			return nil, fmt.Errorf("%w at offset %#x: %v", ErrMalformed, pctx.entryOff, err)
		}
	}

	for i := range pctx.entries {
		pctx.entries[i].order = order
		pctx.entries[i].ptrSize = ptrSize
	}

	sort.SliceStable(pctx.entries, func(i, j int) bool {
		return pctx.entries[i].Begin() < pctx.entries[j].Begin()
	})

	return pctx.entries, nil
}

func (ctx *parseContext) parsingEHFrame() bool {
	return ctx.ehFrameAddr > 0
}

func (ctx *parseContext) offset() int {
	return len(ctx.data) - ctx.buf.Len()
}

func parselength(ctx *parseContext) (parsefunc, error) {
	ctx.entryOff = ctx.offset()

	if err := binary.Read(ctx.buf, ctx.order, &ctx.length); err != nil {
		return nil, err
	}

	if ctx.length == 0 {
		if ctx.parsingEHFrame() {
			// ZERO terminator
			return nil, nil
		}
		return parselength, nil
	}
	if ctx.length == 0xffffffff {
		return nil, errors.New("64-bit DWARF call frame information is not supported")
	}
	if int(ctx.length) > ctx.buf.Len() {
		return nil, io.ErrUnexpectedEOF
	}

	ctx.idOff = ctx.offset()
	var id uint32
	if err := binary.Read(ctx.buf, ctx.order, &id); err != nil {
		return nil, err
	}

	ctx.length -= 4 // take off the length of the CIE id / CIE pointer.

	if ctx.cieEntry(id) {
		ctx.common = &CommonInformationEntry{staticBase: ctx.staticBase}
		ctx.ciemap[ctx.entryOff] = ctx.common
		return parseCIE, nil
	}

	cieOff := int(id)
	if ctx.parsingEHFrame() {
		cieOff = ctx.idOff - int(id)
	}
	cie, ok := ctx.ciemap[cieOff]
	if !ok {
		return nil, fmt.Errorf("FDE references unknown CIE at %#x", cieOff)
	}

	ctx.frame = &FrameDescriptionEntry{CIE: cie}
	return parseFDE, nil
}

func (ctx *parseContext) cieEntry(id uint32) bool {
	if ctx.parsingEHFrame() {
		return id == 0
	}
	return id == 0xffffffff
}

func parseFDE(ctx *parseContext) (parsefunc, error) {
	startOff := ctx.offset()
	r := ctx.buf.Next(int(ctx.length))

	reader := bytes.NewReader(r)
	if ctx.parsingEHFrame() {
		var err error
		ptrEncAddr := ctx.frame.CIE.ptrEncAddr
		fieldAddr := ctx.ehFrameAddr + uint64(startOff)
		ctx.frame.begin, err = ctx.readEncodedPtr(fieldAddr, reader, ptrEncAddr)
		if err != nil {
			return nil, err
		}
		ctx.frame.begin += ctx.staticBase
		ctx.frame.size, err = ctx.readEncodedPtr(0, reader, ptrEncAddr&0x0f)
		if err != nil {
			return nil, err
		}

		// Insert into the tree after setting address range begin
		// otherwise compares won't work.
		ctx.entries = append(ctx.entries, ctx.frame)

		if len(ctx.frame.CIE.Augmentation) > 0 && ctx.frame.CIE.Augmentation[0] == 'z' {
			// If we were able to parse the augmentation string
			// the augmentation data is skipped.
			n, _, err := leb128.DecodeUnsigned(reader)
			if err != nil {
				return nil, err
			}
			if int64(n) > int64(reader.Len()) {
				return nil, io.ErrUnexpectedEOF
			}
			reader.Seek(int64(n), io.SeekCurrent)
		}

		// The rest of this entry consists of the instructions
		// so we can just grab all of the data from the buffer
		// cursor to length.
		off, _ := reader.Seek(0, io.SeekCurrent)
		ctx.frame.Instructions = r[off:]
		ctx.length = 0

		return parselength, nil
	}

	begin, err := readUintRaw(reader, ctx.order, ctx.ptrSize)
	if err != nil {
		return nil, err
	}
	ctx.frame.begin = begin + ctx.staticBase
	ctx.frame.size, err = readUintRaw(reader, ctx.order, ctx.ptrSize)
	if err != nil {
		return nil, err
	}

	ctx.entries = append(ctx.entries, ctx.frame)

	ctx.frame.Instructions = r[2*ctx.ptrSize:]
	ctx.length = 0

	return parselength, nil
}

func parseCIE(ctx *parseContext) (parsefunc, error) {
	data := ctx.buf.Next(int(ctx.length))
	buf := bytes.NewBuffer(data)
	var err error

	// parse version
	ctx.common.Version, err = buf.ReadByte()
	if err != nil {
		return nil, err
	}

	// parse augmentation
	ctx.common.Augmentation, err = parseString(buf)
	if err != nil {
		return nil, err
	}

	if ctx.parsingEHFrame() {
		if ctx.common.Augmentation == "eh" {
			// old gcc: pointer sized eh_data follows
			buf.Next(ctx.ptrSize)
		}
	}

	if ctx.common.Version >= 4 {
		// address size and segment selector size
		buf.Next(2)
	}

	// parse code alignment factor
	ctx.common.CodeAlignmentFactor, _, err = leb128.DecodeUnsigned(buf)
	if err != nil {
		return nil, err
	}

	// parse data alignment factor
	ctx.common.DataAlignmentFactor, _, err = leb128.DecodeSigned(buf)
	if err != nil {
		return nil, err
	}

	// parse return address register
	if ctx.parsingEHFrame() && ctx.common.Version == 1 {
		b, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		ctx.common.ReturnAddressRegister = uint64(b)
	} else {
		ctx.common.ReturnAddressRegister, _, err = leb128.DecodeUnsigned(buf)
		if err != nil {
			return nil, err
		}
	}
	if ctx.common.ReturnAddressRegister > MaxRegNum {
		return nil, fmt.Errorf("%w: return address register %d", ErrBadRegister, ctx.common.ReturnAddressRegister)
	}

	ctx.common.ptrEncAddr = ptrEncAbs

	if ctx.parsingEHFrame() && len(ctx.common.Augmentation) > 0 && ctx.common.Augmentation[0] == 'z' {
		n, _, err := leb128.DecodeUnsigned(buf)
		if err != nil {
			return nil, err
		}
		if int(n) > buf.Len() {
			return nil, io.ErrUnexpectedEOF
		}
		augdata := bytes.NewReader(buf.Next(int(n)))
		if err := ctx.parseAugmentation(augdata); err != nil {
			return nil, err
		}
	}

	// parse initial instructions
	// The rest of this entry consists of the instructions
	// so we can just grab all of the data from the buffer
	// cursor to length.
	ctx.common.InitialInstructions = buf.Bytes()
	ctx.length = 0

	return parselength, nil
}

func (ctx *parseContext) parseAugmentation(augdata *bytes.Reader) error {
	for _, ch := range ctx.common.Augmentation[1:] {
		switch ch {
		case 'L':
			// LSDA pointer encoding, the pointer itself lives in the FDE
			// augmentation data which is skipped.
			if _, err := augdata.ReadByte(); err != nil {
				return err
			}
		case 'R':
			b, err := augdata.ReadByte()
			if err != nil {
				return err
			}
			ctx.common.ptrEncAddr = ptrEnc(b)
			if !ctx.common.ptrEncAddr.Supported() {
				return fmt.Errorf("pointer encoding not supported %#x", b)
			}
		case 'P':
			b, err := augdata.ReadByte()
			if err != nil {
				return err
			}
			if err := ctx.skipEncodedPtr(augdata, ptrEnc(b)); err != nil {
				return err
			}
		case 'S':
			ctx.common.SignalFrame = true
		default:
			// Unknown augmentation ('B' pointer authentication keys): the
			// remaining augmentation data can not be interpreted but the
			// instructions are still usable.
			return nil
		}
	}
	return nil
}

// readEncodedPtr reads a pointer from buf encoded as specified by ptrEnc.
// This function is used to read pointers from a .eh_frame section, when
// used to parse a .debug_frame section ptrEnc will always be ptrEncAbs.
// The parameter addr is the address that the current byte of 'buf' will
// be mapped to when the executable file containing the eh_frame section
// being parse is loaded in memory.
func (ctx *parseContext) readEncodedPtr(addr uint64, buf leb128.Reader, ptrEnc ptrEnc) (uint64, error) {
	if ptrEnc == ptrEncOmit {
		return 0, nil
	}

	var (
		ptr uint64
		err error
	)

	switch ptrEnc & 0xf {
	case ptrEncAbs, ptrEncSigned:
		ptr, err = readUintRaw(buf, ctx.order, ctx.ptrSize)
		if ctx.ptrSize == 4 && ptrEnc&0xf == ptrEncSigned {
			ptr = uint64(int64(int32(ptr)))
		}
	case ptrEncUleb:
		ptr, _, err = leb128.DecodeUnsigned(buf)
	case ptrEncUdata2:
		ptr, err = readUintRaw(buf, ctx.order, 2)
	case ptrEncSdata2:
		ptr, err = readUintRaw(buf, ctx.order, 2)
		ptr = uint64(int16(ptr))
	case ptrEncUdata4:
		ptr, err = readUintRaw(buf, ctx.order, 4)
	case ptrEncSdata4:
		ptr, err = readUintRaw(buf, ctx.order, 4)
		ptr = uint64(int32(ptr))
	case ptrEncUdata8, ptrEncSdata8:
		ptr, err = readUintRaw(buf, ctx.order, 8)
	case ptrEncSleb:
		var n int64
		n, _, err = leb128.DecodeSigned(buf)
		ptr = uint64(n)
	default:
		return 0, fmt.Errorf("pointer encoding not supported %#x", ptrEnc)
	}
	if err != nil {
		return 0, err
	}

	if ptrEnc&0xf0 == ptrEncPCRel {
		ptr += addr
	}

	return ptr, nil
}

func (ctx *parseContext) skipEncodedPtr(buf leb128.Reader, ptrEnc ptrEnc) error {
	if ptrEnc == ptrEncOmit {
		return nil
	}
	_, err := ctx.readEncodedPtr(0, buf, ptrEnc&^(ptrEncFlagsMask))
	return err
}

// readUintRaw reads an integer of size bytes, with the specified byte order, from reader.
func readUintRaw(reader io.Reader, order binary.ByteOrder, size int) (uint64, error) {
	switch size {
	case 2:
		var n uint16
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 4:
		var n uint32
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 8:
		var n uint64
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("pointer size %d not supported", size)
}

func parseString(data *bytes.Buffer) (string, error) {
	str, err := data.ReadString(0x0)
	if err != nil {
		return "", err
	}
	return str[:len(str)-1], nil
}
