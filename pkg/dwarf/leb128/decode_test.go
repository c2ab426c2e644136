package leb128

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestDecodeUnsigned(t *testing.T) {
	leb128 := bytes.NewBuffer([]byte{0xE5, 0x8E, 0x26})

	n, c, err := DecodeUnsigned(leb128)
	if err != nil {
		t.Fatal(err)
	}
	if n != 624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}
	if c != 3 {
		t.Fatal("Count not returned correctly")
	}
}

func TestDecodeSigned(t *testing.T) {
	sleb128 := bytes.NewBuffer([]byte{0x9b, 0xf1, 0x59})

	n, c, err := DecodeSigned(sleb128)
	if err != nil {
		t.Fatal(err)
	}
	if n != -624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, _, err := DecodeUnsigned(bytes.NewBuffer([]byte{0x80, 0x80}))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
	_, _, err = DecodeSigned(bytes.NewBuffer(nil))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, x := range []uint64{0x00, 0x7f, 0x80, 0x8f, 0xffff, 0xfffffff7} {
		var buf bytes.Buffer
		EncodeUnsigned(&buf, x)
		out, _, err := DecodeUnsigned(&buf)
		if err != nil || out != x {
			t.Errorf("unsigned %#x: got %#x (%v)", x, out, err)
		}
	}
	for _, x := range []int64{2, -2, 127, -127, 128, -128, 129, -129, -8} {
		var buf bytes.Buffer
		EncodeSigned(&buf, x)
		out, _, err := DecodeSigned(&buf)
		if err != nil || out != x {
			t.Errorf("signed %d: got %d (%v)", x, out, err)
		}
	}
}

func TestEncodeUnsignedBytes(t *testing.T) {
	var buf bytes.Buffer
	EncodeUnsigned(&buf, 624485)
	if !bytes.Equal(buf.Bytes(), []byte{0xE5, 0x8E, 0x26}) {
		t.Fatalf("bad encoding % x", buf.Bytes())
	}
	buf.Reset()
	EncodeSigned(&buf, -624485)
	if !bytes.Equal(buf.Bytes(), []byte{0x9b, 0xf1, 0x59}) {
		t.Fatalf("bad encoding % x", buf.Bytes())
	}
}
