package bitstream

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncode(t *testing.T) {
	var seq Sequence
	// 1 + 000 + 1111 packs into 0x8f
	seq.Integer(1, 1).Integer(0, 3).Integer(0xf, 4)
	seq.IntegerLE(0x0201, 16).
		Integer(0x030405, 24).
		PrefixedString("ab", 8).
		FourCC("mkid").
		PrefixedData([]byte{0xff}, 16)
	fields, err := seq.Fields()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Encode(fields...)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x8f,
		0x01, 0x02,
		0x03, 0x04, 0x05,
		0x02, 'a', 'b',
		'm', 'k', 'i', 'd',
		0x00, 0x01, 0xff,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Got [% x], wanted [% x]", got, want)
	}
}

func TestEncodeWide(t *testing.T) {
	f, err := Integer(0x0102030405060708, 64)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("Got [% x]", got)
	}
}

func TestEncodeUnaligned(t *testing.T) {
	f, err := Integer(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Encode(f); !errors.Is(err, ErrInvalidWidth) {
		t.Fatalf("Expected invalid width for a 3 bit sequence, got %v", err)
	}
}

func TestEncodeFileSlice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o600); err != nil {
		t.Fatal(err)
	}

	slice, err := FileSlice(path, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Encode(slice)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "234" {
		t.Fatalf("Got [%s], wanted [234]", got)
	}

	rest, err := FileSlice(path, 7, -1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rest.BitLen(); ok {
		t.Fatalf("Open ended slice should have no known length")
	}
	got, err = Encode(rest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "789" {
		t.Fatalf("Got [%s], wanted [789]", got)
	}

	short, err := FileSlice(path, 8, 5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Encode(short); err == nil {
		t.Fatalf("Expected an error for a slice past the end of the file")
	}
}

func TestBox(t *testing.T) {
	var body Sequence
	body.Integer(1, 32).ID128(bytes.Repeat([]byte{0xaa}, 16))
	fields, err := body.Fields()
	if err != nil {
		t.Fatal(err)
	}
	box, err := NewFullBox("mkid", 0, 0, fields...)
	if err != nil {
		t.Fatal(err)
	}
	if box.Size() != 12+4+16 {
		t.Fatalf("Got size %d, wanted 32", box.Size())
	}
	outer, err := NewBox("marl", box.Fields()...)
	if err != nil {
		t.Fatal(err)
	}
	b, err := outer.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(b)) != outer.Size() || outer.Size() != 40 {
		t.Fatalf("Got %d bytes for a box of size %d", len(b), outer.Size())
	}
	if !bytes.Equal(b[:16], []byte{0, 0, 0, 40, 'm', 'a', 'r', 'l', 0, 0, 0, 32, 'm', 'k', 'i', 'd'}) {
		t.Fatalf("Unexpected header [% x]", b[:16])
	}

	if _, err := NewBox("toolong"); !errors.Is(err, ErrMalformedFixedSize) {
		t.Fatalf("Expected malformed box type, got %v", err)
	}
	open, _ := FileSlice("x", 0, -1)
	if _, err := NewBox("free", open); !errors.Is(err, ErrUnsized) {
		t.Fatalf("Expected unsized body error, got %v", err)
	}
	if _, err := NewFullBox("pssh", 0, 1<<24); !errors.Is(err, ErrSizeOverflow) {
		t.Fatalf("Expected flags overflow, got %v", err)
	}
}

func TestSequenceKeepsFirstError(t *testing.T) {
	var seq Sequence
	seq.Integer(300, 8).FourCC("bad").Integer(1, 8)
	if _, err := seq.Fields(); !errors.Is(err, ErrSizeOverflow) {
		t.Fatalf("Expected the first error to win, got %v", err)
	}
}
