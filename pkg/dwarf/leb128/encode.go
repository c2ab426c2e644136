package leb128

import "io"

// EncodeUnsigned writes x to out as an unsigned Little Endian Base 128
// number.
func EncodeUnsigned(out io.ByteWriter, x uint64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if x != 0 {
			b |= 0x80
		}
		out.WriteByte(b)
		if x == 0 {
			return
		}
	}
}

// EncodeSigned writes x to out as a signed Little Endian Base 128 number.
func EncodeSigned(out io.ByteWriter, x int64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		signb := b & 0x40
		last := (x == 0 && signb == 0) || (x == -1 && signb != 0)
		if !last {
			b |= 0x80
		}
		out.WriteByte(b)
		if last {
			return
		}
	}
}
