package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when an encoded value does not fit in 64 bits.
var ErrOverflow = errors.New("leb128: value overflows 64 bits")

// Reader is a io.ByteReader with a Len method. This interface is
// satisfied by both bytes.Buffer and bytes.Reader.
type Reader interface {
	io.ByteReader
	io.Reader
	Len() int
}

// DecodeUnsigned decodes an unsigned Little Endian Base 128
// represented number, returning the value and the number of bytes read.
func DecodeUnsigned(buf Reader) (uint64, uint32, error) {
	var (
		result uint64
		shift  uint64
		length uint32
	)

	for {
		b, err := buf.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, length, err
		}
		length++

		if shift >= 64 {
			return 0, length, ErrOverflow
		}
		result |= uint64(b&0x7f) << shift

		if b&0x80 == 0 {
			return result, length, nil
		}
		shift += 7
	}
}

// DecodeSigned decodes a signed Little Endian Base 128
// represented number, returning the value and the number of bytes read.
func DecodeSigned(buf Reader) (int64, uint32, error) {
	var (
		result int64
		shift  uint64
		length uint32
	)

	for {
		b, err := buf.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, length, err
		}
		length++

		if shift >= 64 {
			return 0, length, ErrOverflow
		}
		result |= int64(b&0x7f) << shift
		shift += 7

		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -(1 << shift)
			}
			return result, length, nil
		}
	}
}
