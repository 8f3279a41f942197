// Package bitstream models the typed binary fields of an MP4Box cryptfile.
//
// A Field is one BS element: an integer, a string, a four character code, a
// 128-bit identifier, a blob or a slice of a file. Fields are immutable and
// only built through the constructors below, which reject values that do not
// fit their declared width. The same field renders to cryptfile attributes
// (Attrs) and to its binary form (EncodeTo).
package bitstream

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

type form int

const (
	formInteger form = iota
	formIntegerLE
	formFile
	formString
	formFourCC
	formID128
	formData
	formData64
)

// Field is a single binary value and its serialization rule.
type Field struct {
	form   form
	bits   int
	value  uint64
	path   string
	offset int64
	length int64
	text   string
	data   []byte
}

// Integer is a big-endian unsigned integer stored in bits bits.
func Integer(v uint64, bits int) (Field, error) {
	if err := checkInteger(attrValue, v, bits); err != nil {
		return Field{}, err
	}
	return Field{form: formInteger, bits: bits, value: v}, nil
}

// IntegerLE is a little-endian unsigned integer. bits must be a whole
// number of bytes.
func IntegerLE(v uint64, bits int) (Field, error) {
	if bits%8 != 0 {
		return Field{}, &Error{Kind: KindInvalidWidth, Field: attrValue, Bits: bits}
	}
	if err := checkInteger(attrValue, v, bits); err != nil {
		return Field{}, err
	}
	return Field{form: formIntegerLE, bits: bits, value: v}, nil
}

// FileSlice references length bytes of path starting at offset. A length of
// -1 means everything up to the end of the file.
func FileSlice(path string, offset, length int64) (Field, error) {
	if path == "" {
		return Field{}, &Error{Kind: KindInvalidEncoding, Field: attrFile}
	}
	if offset < 0 {
		return Field{}, &Error{Kind: KindInvalidRange, Field: attrFileOffset, Size: uint64(offset)}
	}
	if length < -1 {
		return Field{}, &Error{Kind: KindInvalidRange, Field: attrFileLength, Size: uint64(length)}
	}
	return Field{form: formFile, path: path, offset: offset, length: length}, nil
}

// String is UTF-8 text without a length prefix.
func String(s string) (Field, error) {
	if !utf8.ValidString(s) {
		return Field{}, &Error{Kind: KindInvalidEncoding, Field: attrString}
	}
	return Field{form: formString, text: s}, nil
}

// PrefixedString is UTF-8 text preceded by its byte length in bits bits.
func PrefixedString(s string, bits int) (Field, error) {
	f, err := String(s)
	if err != nil {
		return Field{}, err
	}
	if err := checkPrefix(attrString, len(s), bits); err != nil {
		return Field{}, err
	}
	f.bits = bits
	return f, nil
}

// FourCC is a four character code.
func FourCC(code string) (Field, error) {
	if len(code) != 4 {
		return Field{}, &Error{Kind: KindMalformedFixedSize, Field: attrFourCC, Bits: 32, Size: uint64(len(code))}
	}
	return Field{form: formFourCC, text: code}, nil
}

// ID128 is a 16 byte identifier such as a system ID or a KID.
func ID128(id []byte) (Field, error) {
	if len(id) != 16 {
		return Field{}, &Error{Kind: KindMalformedFixedSize, Field: attrID128, Bits: 128, Size: uint64(len(id))}
	}
	return Field{form: formID128, data: clone(id)}, nil
}

// Data is an unprefixed blob rendered as hexadecimal text.
func Data(b []byte) (Field, error) {
	return Field{form: formData, data: clone(b)}, nil
}

// PrefixedData is a blob preceded by its length in bits bits, rendered as
// hexadecimal text.
func PrefixedData(b []byte, bits int) (Field, error) {
	if err := checkPrefix(attrData, len(b), bits); err != nil {
		return Field{}, err
	}
	return Field{form: formData, bits: bits, data: clone(b)}, nil
}

// DataHex is a blob given as hexadecimal text, with or without a 0x prefix.
func DataHex(s string) (Field, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Field{}, err
	}
	return Field{form: formData, data: b}, nil
}

// PrefixedDataHex is DataHex with a bits wide length prefix.
func PrefixedDataHex(s string, bits int) (Field, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Field{}, err
	}
	if err := checkPrefix(attrData, len(b), bits); err != nil {
		return Field{}, err
	}
	return Field{form: formData, bits: bits, data: b}, nil
}

// DataBase64 is a blob rendered as base64 text.
func DataBase64(b []byte) (Field, error) {
	return Field{form: formData64, data: clone(b)}, nil
}

// PrefixedDataBase64 is DataBase64 with a bits wide length prefix.
func PrefixedDataBase64(b []byte, bits int) (Field, error) {
	if err := checkPrefix(attrData64, len(b), bits); err != nil {
		return Field{}, err
	}
	return Field{form: formData64, bits: bits, data: clone(b)}, nil
}

// Bits is the declared width: the integer width or the length prefix width.
// Zero means the width is implicit.
func (f Field) Bits() int { return f.bits }

// Value is the integer value. It is zero for other variants.
func (f Field) Value() uint64 { return f.value }

// Text is the string or four character code.
func (f Field) Text() string { return f.text }

// Bytes returns a copy of the identifier or blob payload.
func (f Field) Bytes() []byte { return clone(f.data) }

// IsInteger reports whether f is an integer variant.
func (f Field) IsInteger() bool { return f.form == formInteger || f.form == formIntegerLE }

// IsID128 reports whether f is a 128-bit identifier.
func (f Field) IsID128() bool { return f.form == formID128 }

// File returns the file slice reference.
func (f Field) File() (path string, offset, length int64, ok bool) {
	if f.form != formFile {
		return "", 0, 0, false
	}
	return f.path, f.offset, f.length, true
}

func (f Field) String() string {
	switch f.form {
	case formInteger:
		return fmt.Sprintf("uint%d(%d)", f.bits, f.value)
	case formIntegerLE:
		return fmt.Sprintf("uint%dle(%d)", f.bits, f.value)
	case formFile:
		return fmt.Sprintf("file(%s@%d+%d)", f.path, f.offset, f.length)
	case formString:
		return fmt.Sprintf("string%s(%q)", prefixSuffix(f.bits), f.text)
	case formFourCC:
		return fmt.Sprintf("fcc(%s)", f.text)
	case formID128:
		return fmt.Sprintf("id128(%s)", hex.EncodeToString(f.data))
	case formData, formData64:
		return fmt.Sprintf("data%s[%d]", prefixSuffix(f.bits), len(f.data))
	}
	return "invalid"
}

func prefixSuffix(bits int) string {
	if bits == 0 {
		return ""
	}
	return fmt.Sprintf("/%d", bits)
}

func checkInteger(name string, v uint64, bits int) error {
	if bits < 1 || bits > 64 {
		return &Error{Kind: KindInvalidWidth, Field: name, Bits: bits}
	}
	if v > maxValue(bits) {
		return &Error{Kind: KindSizeOverflow, Field: name, Bits: bits, Size: v}
	}
	return nil
}

func checkPrefix(name string, size, bits int) error {
	if bits < 1 || bits > 64 {
		return &Error{Kind: KindInvalidWidth, Field: name, Bits: bits}
	}
	if uint64(size) > maxValue(bits) {
		return &Error{Kind: KindSizeOverflow, Field: name + " length", Bits: bits, Size: uint64(size)}
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &Error{Kind: KindInvalidEncoding, Field: attrData, Cause: err}
	}
	return b, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
