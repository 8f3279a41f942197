package bitstream

import (
	"errors"
	"fmt"
)

// Kind classifies field construction failures.
type Kind string

const (
	KindSizeOverflow       Kind = "SizeOverflow"
	KindMalformedFixedSize Kind = "MalformedFixedSize"
	KindInvalidWidth       Kind = "InvalidWidth"
	KindInvalidRange       Kind = "InvalidRange"
	KindInvalidEncoding    Kind = "InvalidEncoding"
	KindUnsized            Kind = "Unsized"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrSizeOverflow       = &Error{Kind: KindSizeOverflow}
	ErrMalformedFixedSize = &Error{Kind: KindMalformedFixedSize}
	ErrInvalidWidth       = &Error{Kind: KindInvalidWidth}
	ErrInvalidRange       = &Error{Kind: KindInvalidRange}
	ErrInvalidEncoding    = &Error{Kind: KindInvalidEncoding}
	ErrUnsized            = &Error{Kind: KindUnsized}
)

// Error describes a field that could not be constructed or encoded.
//
// Field names the variant ("value", "string", "fcc", "ID128", ...), Bits is
// the declared width and Size the offending size, value or byte count.
type Error struct {
	Kind  Kind
	Field string
	Bits  int
	Size  uint64
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case KindSizeOverflow:
		return fmt.Sprintf("bitstream: %s %d does not fit in %d bits (max %d)", e.Field, e.Size, e.Bits, maxValue(e.Bits))
	case KindMalformedFixedSize:
		return fmt.Sprintf("bitstream: %s requires %d bytes, got %d", e.Field, e.Bits/8, e.Size)
	case KindInvalidWidth:
		return fmt.Sprintf("bitstream: %s cannot be %d bits wide", e.Field, e.Bits)
	case KindInvalidRange:
		return fmt.Sprintf("bitstream: %s has invalid range value %d", e.Field, int64(e.Size))
	case KindInvalidEncoding:
		if e.Cause != nil {
			return fmt.Sprintf("bitstream: %s is not valid: %v", e.Field, e.Cause)
		}
		return fmt.Sprintf("bitstream: %s is not valid", e.Field)
	case KindUnsized:
		return fmt.Sprintf("bitstream: %s has no known size", e.Field)
	}
	return "bitstream: " + string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// maxValue is 2^bits - 1, saturating at 64 bits.
func maxValue(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	if bits <= 0 {
		return 0
	}
	return uint64(1)<<uint(bits) - 1
}
