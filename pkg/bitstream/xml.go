package bitstream

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
)

// ElementName is the cryptfile element that carries one field.
const ElementName = "BS"

const (
	attrBits       = "bits"
	attrValue      = "value"
	attrEndian     = "endian"
	attrString     = "string"
	attrFile       = "dataFile"
	attrFileOffset = "dataOffset"
	attrFileLength = "dataLength"
	attrFourCC     = "fcc"
	attrID128      = "ID128"
	attrData64     = "data64"
	attrData       = "data"

	endianLittle = "little"
)

// Attrs renders the field as BS attributes. The width is omitted when it is
// implicit.
func (f Field) Attrs() []xml.Attr {
	var attrs []xml.Attr
	if f.bits != 0 {
		attrs = append(attrs, attr(attrBits, strconv.Itoa(f.bits)))
	}
	switch f.form {
	case formIntegerLE:
		attrs = append(attrs, attr(attrEndian, endianLittle))
		attrs = append(attrs, attr(attrValue, strconv.FormatUint(f.value, 10)))
	case formInteger:
		attrs = append(attrs, attr(attrValue, strconv.FormatUint(f.value, 10)))
	case formFile:
		attrs = append(attrs,
			attr(attrFile, f.path),
			attr(attrFileOffset, strconv.FormatInt(f.offset, 10)),
			attr(attrFileLength, strconv.FormatInt(f.length, 10)),
		)
	case formString:
		attrs = append(attrs, attr(attrString, f.text))
	case formFourCC:
		attrs = append(attrs, attr(attrFourCC, f.text))
	case formID128:
		attrs = append(attrs, attr(attrID128, hex.EncodeToString(f.data)))
	case formData64:
		attrs = append(attrs, attr(attrData64, base64.StdEncoding.EncodeToString(f.data)))
	case formData:
		attrs = append(attrs, attr(attrData, hex.EncodeToString(f.data)))
	}
	return attrs
}

// MarshalXML writes the field as a BS element.
func (f Field) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: ElementName}
	start.Attr = f.Attrs()
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML reads a BS element back into a field.
func (f *Field) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	parsed, err := FromAttrs(start.Attr)
	if err != nil {
		return err
	}
	*f = parsed
	return d.Skip()
}

// FromAttrs rebuilds a field from BS attributes. The same validation as the
// constructors applies.
func FromAttrs(attrs []xml.Attr) (Field, error) {
	values := make(map[string]string, len(attrs))
	for _, a := range attrs {
		values[a.Name.Local] = a.Value
	}

	bits := 0
	if s, ok := values[attrBits]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Field{}, &Error{Kind: KindInvalidEncoding, Field: attrBits, Cause: err}
		}
		bits = n
	}

	if s, ok := values[attrValue]; ok {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Field{}, &Error{Kind: KindInvalidEncoding, Field: attrValue, Cause: err}
		}
		if values[attrEndian] == endianLittle {
			return IntegerLE(v, bits)
		}
		return Integer(v, bits)
	}
	if path, ok := values[attrFile]; ok {
		offset, err := parseInt(attrFileOffset, values[attrFileOffset], 0)
		if err != nil {
			return Field{}, err
		}
		length, err := parseInt(attrFileLength, values[attrFileLength], -1)
		if err != nil {
			return Field{}, err
		}
		return FileSlice(path, offset, length)
	}
	if s, ok := values[attrString]; ok {
		if bits != 0 {
			return PrefixedString(s, bits)
		}
		return String(s)
	}
	if s, ok := values[attrFourCC]; ok {
		return FourCC(s)
	}
	if s, ok := values[attrID128]; ok {
		b, err := decodeHex(s)
		if err != nil {
			return Field{}, &Error{Kind: KindInvalidEncoding, Field: attrID128, Cause: err}
		}
		return ID128(b)
	}
	if s, ok := values[attrData64]; ok {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Field{}, &Error{Kind: KindInvalidEncoding, Field: attrData64, Cause: err}
		}
		if bits != 0 {
			return PrefixedDataBase64(b, bits)
		}
		return DataBase64(b)
	}
	if s, ok := values[attrData]; ok {
		if bits != 0 {
			return PrefixedDataHex(s, bits)
		}
		return DataHex(s)
	}
	return Field{}, &Error{Kind: KindInvalidEncoding, Field: ElementName, Cause: fmt.Errorf("no value attribute in %v", attrs)}
}

func parseInt(name, s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &Error{Kind: KindInvalidEncoding, Field: name, Cause: err}
	}
	return n, nil
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}
