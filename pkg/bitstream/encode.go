package bitstream

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/bits"
)

// BitLen is the encoded length of the field in bits. ok is false for a file
// slice that runs to the end of the file.
func (f Field) BitLen() (n int64, ok bool) {
	switch f.form {
	case formInteger, formIntegerLE:
		return int64(f.bits), true
	case formFile:
		if f.length < 0 {
			return 0, false
		}
		return f.length * 8, true
	case formString:
		return int64(f.bits) + int64(len(f.text))*8, true
	case formFourCC:
		return 32, true
	case formID128:
		return 128, true
	case formData, formData64:
		return int64(f.bits) + int64(len(f.data))*8, true
	}
	return 0, false
}

// EncodeTo encodes the field through w. The error accumulated by w is
// returned so callers can chain fields and check once.
func (f Field) EncodeTo(w *bits.Writer) error {
	switch f.form {
	case formInteger:
		writeUint(w, f.value, f.bits)
	case formIntegerLE:
		for i := 0; i < f.bits/8; i++ {
			w.Write(uint(f.value>>(8*uint(i)))&0xff, 8)
		}
	case formFile:
		if err := f.copyFile(w); err != nil {
			return err
		}
	case formString:
		if f.bits > 0 {
			writeUint(w, uint64(len(f.text)), f.bits)
		}
		writeBytes(w, []byte(f.text))
	case formFourCC:
		writeBytes(w, []byte(f.text))
	case formID128, formData, formData64:
		if f.bits > 0 {
			writeUint(w, uint64(len(f.data)), f.bits)
		}
		writeBytes(w, f.data)
	}
	return w.AccError()
}

func (f Field) copyFile(w *bits.Writer) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("bitstream: open %s: %w", f.path, err)
	}
	defer fh.Close()

	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		return fmt.Errorf("bitstream: seek %s: %w", f.path, err)
	}
	var r io.Reader = fh
	if f.length >= 0 {
		r = io.LimitReader(fh, f.length)
	}
	n, err := io.Copy(writerFunc(func(p []byte) (int, error) {
		writeBytes(w, p)
		return len(p), w.AccError()
	}), r)
	if err != nil {
		return fmt.Errorf("bitstream: read %s: %w", f.path, err)
	}
	if f.length >= 0 && n != f.length {
		return fmt.Errorf("bitstream: %s holds %d bytes after offset %d, want %d: %w", f.path, n, f.offset, f.length, io.ErrUnexpectedEOF)
	}
	return nil
}

// Encode writes fields back to back and returns the bytes. The total length
// must be a whole number of bytes.
func Encode(fields ...Field) ([]byte, error) {
	var buf bytes.Buffer
	w := bits.NewWriter(&buf)
	var written int64
	for _, f := range fields {
		if err := f.EncodeTo(w); err != nil {
			return nil, err
		}
		if n, ok := f.BitLen(); ok {
			written += n
		}
	}
	if written%8 != 0 {
		return nil, &Error{Kind: KindInvalidWidth, Field: "sequence", Bits: int(written % 8)}
	}
	w.Flush()
	if err := w.AccError(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BitLen sums the lengths of fields. ok is false if any length is unknown.
func BitLen(fields ...Field) (n int64, ok bool) {
	for _, f := range fields {
		l, known := f.BitLen()
		if !known {
			return 0, false
		}
		n += l
	}
	return n, true
}

// writeUint writes the n low bits of v most significant first, in chunks
// small enough for the bit writer's accumulator.
func writeUint(w *bits.Writer, v uint64, n int) {
	for n > 0 {
		c := n % 8
		if c == 0 {
			c = 8
		}
		n -= c
		w.Write(uint(v>>uint(n))&(1<<uint(c)-1), c)
	}
}

func writeBytes(w *bits.Writer, b []byte) {
	for _, c := range b {
		w.Write(uint(c), 8)
	}
}

type writerFunc func(p []byte) (int, error)

func (fn writerFunc) Write(p []byte) (int, error) { return fn(p) }
