package bitstream

// Box is an ISO BMFF box described as fields: a 32-bit size, a four
// character type and, for full boxes, an 8-bit version and 24-bit flags,
// followed by the body.
type Box struct {
	header []Field
	body   []Field
	size   uint64
	typ    string
	full   bool
	ver    uint8
	flags  uint32
}

// NewBox builds a plain box around body.
func NewBox(typ string, body ...Field) (Box, error) {
	return newBox(typ, false, 0, 0, body)
}

// NewFullBox builds a box with version and flags.
func NewFullBox(typ string, version uint8, flags uint32, body ...Field) (Box, error) {
	return newBox(typ, true, version, flags, body)
}

func newBox(typ string, full bool, version uint8, flags uint32, body []Field) (Box, error) {
	fcc, err := FourCC(typ)
	if err != nil {
		return Box{}, err
	}
	n, ok := BitLen(body...)
	if !ok {
		return Box{}, &Error{Kind: KindUnsized, Field: typ + " body"}
	}
	if n%8 != 0 {
		return Box{}, &Error{Kind: KindInvalidWidth, Field: typ + " body", Bits: int(n % 8)}
	}
	headerBytes := uint64(8)
	if full {
		headerBytes += 4
	}
	size := headerBytes + uint64(n/8)
	sizeField, err := Integer(size, 32)
	if err != nil {
		return Box{}, err
	}
	header := []Field{sizeField, fcc}
	if full {
		v, _ := Integer(uint64(version), 8)
		f, err := Integer(uint64(flags), 24)
		if err != nil {
			return Box{}, err
		}
		header = append(header, v, f)
	}
	return Box{
		header: header,
		body:   append([]Field(nil), body...),
		size:   size,
		typ:    typ,
		full:   full,
		ver:    version,
		flags:  flags,
	}, nil
}

// Type is the four character box type.
func (b Box) Type() string { return b.typ }

// Size is the total box size in bytes, header included.
func (b Box) Size() uint64 { return b.size }

// Version is the full box version. It is zero for plain boxes.
func (b Box) Version() uint8 { return b.ver }

// Flags is the full box flags value.
func (b Box) Flags() uint32 { return b.flags }

// Body returns the fields after the header.
func (b Box) Body() []Field { return append([]Field(nil), b.body...) }

// Fields returns the header followed by the body.
func (b Box) Fields() []Field {
	out := make([]Field, 0, len(b.header)+len(b.body))
	out = append(out, b.header...)
	return append(out, b.body...)
}

// Bytes encodes the whole box.
func (b Box) Bytes() ([]byte, error) {
	return Encode(b.Fields()...)
}
