package pssh

import (
	"encoding/binary"
	"fmt"

	"github.com/dashcrypt/cryptgen/pkg/bitstream"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// WidevineCencHeader field numbers.
const (
	wvAlgorithm         protowire.Number = 1
	wvKeyID             protowire.Number = 2
	wvProvider          protowire.Number = 3
	wvContentID         protowire.Number = 4
	wvPolicy            protowire.Number = 6
	wvCryptoPeriodIndex protowire.Number = 7
	wvProtectionScheme  protowire.Number = 9
)

type WidevineAlgorithm uint32

const (
	// WidevineUnencrypted is the protobuf default and is never written.
	WidevineUnencrypted WidevineAlgorithm = 0
	WidevineAESCTR      WidevineAlgorithm = 1
)

// WidevineHeader is the WidevineCencHeader message.
type WidevineHeader struct {
	Algorithm         WidevineAlgorithm
	KeyIDs            []uuid.UUID
	Provider          string
	ContentID         []byte
	Policy            string
	CryptoPeriodIndex *uint32
	// ProtectionScheme is a four character scheme such as "cenc" or "cbcs".
	ProtectionScheme string
}

func (h WidevineHeader) clone() WidevineHeader {
	c := h
	c.KeyIDs = append([]uuid.UUID(nil), h.KeyIDs...)
	c.ContentID = append([]byte(nil), h.ContentID...)
	if h.CryptoPeriodIndex != nil {
		v := *h.CryptoPeriodIndex
		c.CryptoPeriodIndex = &v
	}
	return c
}

// Fields lays the message out as bitstream fields: tags, varints and
// lengths as data, key IDs as ID128, the provider and policy as strings.
func (h WidevineHeader) Fields() ([]bitstream.Field, error) {
	var seq bitstream.Sequence
	if h.Algorithm != WidevineUnencrypted {
		seq.Data(protowire.AppendVarint(protowire.AppendTag(nil, wvAlgorithm, protowire.VarintType), uint64(h.Algorithm)))
	}
	for _, kid := range h.KeyIDs {
		seq.Data(lengthDelimited(wvKeyID, len(kid)))
		seq.ID128(kid[:])
	}
	if h.Provider != "" {
		seq.Data(lengthDelimited(wvProvider, len(h.Provider)))
		seq.String(h.Provider)
	}
	if len(h.ContentID) > 0 {
		seq.Data(lengthDelimited(wvContentID, len(h.ContentID)))
		seq.Data(h.ContentID)
	}
	if h.Policy != "" {
		seq.Data(lengthDelimited(wvPolicy, len(h.Policy)))
		seq.String(h.Policy)
	}
	if h.CryptoPeriodIndex != nil {
		seq.Data(protowire.AppendVarint(protowire.AppendTag(nil, wvCryptoPeriodIndex, protowire.VarintType), uint64(*h.CryptoPeriodIndex)))
	}
	if h.ProtectionScheme != "" {
		if len(h.ProtectionScheme) != 4 {
			return nil, fmt.Errorf("pssh: widevine protection scheme %q is not a four character code", h.ProtectionScheme)
		}
		scheme := binary.BigEndian.Uint32([]byte(h.ProtectionScheme))
		seq.Data(protowire.AppendVarint(protowire.AppendTag(nil, wvProtectionScheme, protowire.VarintType), uint64(scheme)))
	}
	return seq.Fields()
}

// Marshal encodes the message.
func (h WidevineHeader) Marshal() ([]byte, error) {
	fields, err := h.Fields()
	if err != nil {
		return nil, err
	}
	return bitstream.Encode(fields...)
}

func lengthDelimited(num protowire.Number, n int) []byte {
	return protowire.AppendVarint(protowire.AppendTag(nil, num, protowire.BytesType), uint64(n))
}

// ParseWidevineHeader decodes a WidevineCencHeader. Unknown fields are
// skipped.
func ParseWidevineHeader(b []byte) (WidevineHeader, error) {
	var h WidevineHeader
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return WidevineHeader{}, malformed("widevine", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && (num == wvAlgorithm || num == wvCryptoPeriodIndex || num == wvProtectionScheme):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return WidevineHeader{}, malformed("widevine", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case wvAlgorithm:
				h.Algorithm = WidevineAlgorithm(v)
			case wvCryptoPeriodIndex:
				idx := uint32(v)
				h.CryptoPeriodIndex = &idx
			case wvProtectionScheme:
				var fcc [4]byte
				binary.BigEndian.PutUint32(fcc[:], uint32(v))
				h.ProtectionScheme = string(fcc[:])
			}
		case typ == protowire.BytesType && (num == wvKeyID || num == wvProvider || num == wvContentID || num == wvPolicy):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return WidevineHeader{}, malformed("widevine", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case wvKeyID:
				kid, err := uuid.FromBytes(v)
				if err != nil {
					return WidevineHeader{}, malformed("widevine key_id", err)
				}
				h.KeyIDs = append(h.KeyIDs, kid)
			case wvProvider:
				h.Provider = string(v)
			case wvContentID:
				h.ContentID = append([]byte(nil), v...)
			case wvPolicy:
				h.Policy = string(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return WidevineHeader{}, malformed("widevine", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return h, nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, what, err)
}
