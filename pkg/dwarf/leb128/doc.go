// Package leb128 provides encoders and decoders for the Little Endian Base
// 128 format used throughout call frame information.
// The format is defined in the DWARF v4 standard, section 7.6.
package leb128
