package pssh

import (
	"fmt"

	"github.com/dashcrypt/cryptgen/pkg/bitstream"
	"github.com/google/uuid"
)

// Composition is the layout of one pssh box.
type Composition struct {
	SystemID uuid.UUID
	Version  uint8
	// KeyIDs is only written for version 1 boxes.
	KeyIDs []bitstream.Field
	// Data is the data region: a 32-bit size and the payload.
	Data []bitstream.Field
}

// Compose lays out the pssh box of s.
func Compose(s System) (Composition, error) {
	c := Composition{SystemID: s.SystemID()}
	var err error
	switch v := s.(type) {
	case ClearKey:
		c.Version = 1
		if c.KeyIDs, err = idFields(v.kids); err != nil {
			return Composition{}, err
		}
		c.Data, err = sized(nil)
	case Widevine:
		if v.header == nil {
			c.Data = v.opaque
			break
		}
		var payload []bitstream.Field
		if payload, err = v.header.Fields(); err != nil {
			return Composition{}, err
		}
		c.Data, err = sized(payload)
	case PlayReady:
		if v.header == nil {
			c.Data = v.opaque
			break
		}
		var payload []bitstream.Field
		if payload, err = v.header.Fields(); err != nil {
			return Composition{}, err
		}
		c.Data, err = sized(payload)
	case Marlin:
		var payload []bitstream.Field
		if payload, err = v.Fields(); err != nil {
			return Composition{}, err
		}
		c.Data, err = sized(payload)
	default:
		return Composition{}, fmt.Errorf("%w: %T", ErrUnsupportedSystem, s)
	}
	if err != nil {
		return Composition{}, err
	}
	return c, nil
}

// Body is the pssh box body: the system ID, the key IDs for version 1 and
// the data region.
func (c Composition) Body() ([]bitstream.Field, error) {
	var seq bitstream.Sequence
	seq.ID128(c.SystemID[:])
	if c.Version > 0 {
		seq.Integer(uint64(len(c.KeyIDs)), 32).Append(c.KeyIDs...)
	}
	return seq.Append(c.Data...).Fields()
}

// Box wraps the body in a pssh full box.
func (c Composition) Box() (bitstream.Box, error) {
	body, err := c.Body()
	if err != nil {
		return bitstream.Box{}, err
	}
	return bitstream.NewFullBox("pssh", c.Version, 0, body...)
}

// Payload encodes the data region without its size.
func (c Composition) Payload() ([]byte, error) {
	b, err := bitstream.Encode(c.Data...)
	if err != nil {
		return nil, err
	}
	if len(b) < 4 {
		return nil, fmt.Errorf("pssh: data region of %d bytes has no size", len(b))
	}
	return b[4:], nil
}

func idFields(ids []uuid.UUID) ([]bitstream.Field, error) {
	var seq bitstream.Sequence
	for _, id := range ids {
		seq.ID128(id[:])
	}
	return seq.Fields()
}

// sized prefixes payload with its byte length.
func sized(payload []bitstream.Field) ([]bitstream.Field, error) {
	n, ok := bitstream.BitLen(payload...)
	if !ok {
		return nil, bitstream.ErrUnsized
	}
	var seq bitstream.Sequence
	return seq.Integer(uint64(n/8), 32).Append(payload...).Fields()
}
