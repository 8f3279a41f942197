package bitstream

// Sequence collects fields in order and keeps the first construction error,
// so layouts can be written as a flat list and checked once.
type Sequence struct {
	fields []Field
	err    error
}

func (s *Sequence) add(f Field, err error) *Sequence {
	if s.err != nil {
		return s
	}
	if err != nil {
		s.err = err
		return s
	}
	s.fields = append(s.fields, f)
	return s
}

func (s *Sequence) Integer(v uint64, bits int) *Sequence { return s.add(Integer(v, bits)) }
func (s *Sequence) IntegerLE(v uint64, bits int) *Sequence { return s.add(IntegerLE(v, bits)) }
func (s *Sequence) String(v string) *Sequence { return s.add(String(v)) }
func (s *Sequence) FourCC(v string) *Sequence { return s.add(FourCC(v)) }
func (s *Sequence) ID128(v []byte) *Sequence { return s.add(ID128(v)) }
func (s *Sequence) Data(v []byte) *Sequence { return s.add(Data(v)) }
func (s *Sequence) DataBase64(v []byte) *Sequence { return s.add(DataBase64(v)) }

func (s *Sequence) PrefixedString(v string, bits int) *Sequence {
	return s.add(PrefixedString(v, bits))
}

func (s *Sequence) PrefixedData(v []byte, bits int) *Sequence {
	return s.add(PrefixedData(v, bits))
}

func (s *Sequence) PrefixedDataBase64(v []byte, bits int) *Sequence {
	return s.add(PrefixedDataBase64(v, bits))
}

// Append adds already built fields.
func (s *Sequence) Append(fields ...Field) *Sequence {
	if s.err == nil {
		s.fields = append(s.fields, fields...)
	}
	return s
}

// Box appends the header and body of b.
func (s *Sequence) Box(b Box, err error) *Sequence {
	if s.err != nil {
		return s
	}
	if err != nil {
		s.err = err
		return s
	}
	s.fields = append(s.fields, b.Fields()...)
	return s
}

// Err is the first error recorded.
func (s *Sequence) Err() error { return s.err }

// Fields returns the collected fields or the first error.
func (s *Sequence) Fields() ([]Field, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]Field(nil), s.fields...), nil
}
