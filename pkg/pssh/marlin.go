package pssh

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/dashcrypt/cryptgen/pkg/bitstream"
	"github.com/google/uuid"
	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
)

const marlinContentIDPrefix = "urn:marlin:kid:"

// MarlinContentID is the content ID Marlin associates with a key ID.
func MarlinContentID(kid uuid.UUID) string {
	return marlinContentIDPrefix + hex.EncodeToString(kid[:])
}

// Fields lays out the marl box: a plain box holding an mkid full box with
// one (KID, content ID) entry per key.
func (m Marlin) Fields() ([]bitstream.Field, error) {
	var mkid bitstream.Sequence
	mkid.Integer(uint64(len(m.kids)), 32)
	for _, kid := range m.kids {
		mkid.ID128(kid[:]).PrefixedString(MarlinContentID(kid), 32)
	}
	body, err := mkid.Fields()
	if err != nil {
		return nil, err
	}
	inner, err := bitstream.NewFullBox("mkid", 0, 0, body...)
	if err != nil {
		return nil, err
	}
	outer, err := bitstream.NewBox("marl", inner.Fields()...)
	if err != nil {
		return nil, err
	}
	return outer.Fields(), nil
}

// MarlinEntry is one mkid entry.
type MarlinEntry struct {
	KeyID     uuid.UUID
	ContentID string
}

// ParseMarlin decodes a marl box.
func ParseMarlin(b []byte) ([]MarlinEntry, error) {
	s := kaitai.NewStream(bytes.NewReader(b))
	if _, err := readBoxHeader(s, "marl", len(b)); err != nil {
		return nil, err
	}
	mkidSize, err := readBoxHeader(s, "mkid", len(b)-8)
	if err != nil {
		return nil, err
	}
	if _, err := s.ReadU4be(); err != nil { // version and flags
		return nil, malformed("marlin mkid", err)
	}
	count, err := s.ReadU4be()
	if err != nil {
		return nil, malformed("marlin mkid", err)
	}
	// each entry takes at least 20 bytes
	if uint64(count)*20 > uint64(mkidSize) {
		return nil, malformed("marlin mkid", fmt.Errorf("%d entries do not fit in %d bytes", count, mkidSize))
	}
	entries := make([]MarlinEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		raw, err := s.ReadBytes(16)
		if err != nil {
			return nil, malformed("marlin entry", err)
		}
		n, err := s.ReadU4be()
		if err != nil {
			return nil, malformed("marlin entry", err)
		}
		if int64(n) > int64(len(b)) {
			return nil, malformed("marlin entry", fmt.Errorf("content ID length %d exceeds payload", n))
		}
		cid, err := s.ReadBytes(int(n))
		if err != nil {
			return nil, malformed("marlin entry", err)
		}
		kid, _ := uuid.FromBytes(raw)
		entries = append(entries, MarlinEntry{KeyID: kid, ContentID: string(cid)})
	}
	if eof, err := s.EOF(); err != nil || !eof {
		return nil, malformed("marlin", fmt.Errorf("trailing bytes after %d entries", count))
	}
	return entries, nil
}

// readBoxHeader reads a box size and type and checks the size fits in the
// bytes that remain.
func readBoxHeader(s *kaitai.Stream, typ string, remaining int) (uint32, error) {
	size, err := s.ReadU4be()
	if err != nil {
		return 0, malformed(typ, err)
	}
	fcc, err := s.ReadBytes(4)
	if err != nil {
		return 0, malformed(typ, err)
	}
	if string(fcc) != typ {
		return 0, malformed(typ, fmt.Errorf("found box %q", fcc))
	}
	if int64(size) > int64(remaining) || size < 8 {
		return 0, malformed(typ, fmt.Errorf("box size %d, %d bytes available", size, remaining))
	}
	return size, nil
}
