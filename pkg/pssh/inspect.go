package pssh

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/google/uuid"
)

// Report is a decoded pssh box. At most one of Widevine, PlayReady and
// Marlin is set, according to the system ID.
type Report struct {
	SystemID uuid.UUID
	System   string
	Version  uint8
	Flags    uint32
	KeyIDs   []uuid.UUID
	Data     []byte

	Widevine  *WidevineHeader
	PlayReady *PlayReadyObject
	Marlin    []MarlinEntry
}

// Inspect decodes a binary pssh box and its payload. Payloads of unknown
// systems are returned undecoded.
func Inspect(box []byte) (*Report, error) {
	b, err := mp4.DecodeBox(0, bytes.NewReader(box))
	if err != nil {
		return nil, fmt.Errorf("pssh: decode box: %w", err)
	}
	p, ok := b.(*mp4.PsshBox)
	if !ok {
		return nil, fmt.Errorf("pssh: expected a pssh box, got %q", b.Type())
	}
	if b.Size() != uint64(len(box)) {
		return nil, fmt.Errorf("pssh: box size %d, have %d bytes", b.Size(), len(box))
	}
	sid, err := uuid.FromBytes(p.SystemID)
	if err != nil {
		return nil, fmt.Errorf("pssh: system ID: %w", err)
	}
	r := &Report{
		SystemID: sid,
		System:   Name(sid),
		Version:  p.Version,
		Flags:    p.Flags,
		Data:     p.Data,
	}
	for _, kid := range p.KIDs {
		id, err := uuid.FromBytes(kid)
		if err != nil {
			return nil, fmt.Errorf("pssh: key ID: %w", err)
		}
		r.KeyIDs = append(r.KeyIDs, id)
	}

	switch sid {
	case WidevineSystemID:
		h, err := ParseWidevineHeader(p.Data)
		if err != nil {
			return nil, err
		}
		r.Widevine = &h
	case PlayReadySystemID:
		obj, err := ParsePlayReadyObject(p.Data)
		if err != nil {
			return nil, err
		}
		r.PlayReady = &obj
	case MarlinSystemID:
		entries, err := ParseMarlin(p.Data)
		if err != nil {
			return nil, err
		}
		r.Marlin = entries
	}
	return r, nil
}

// AllKeyIDs returns the key IDs of the box header followed by those found
// in the payload.
func (r *Report) AllKeyIDs() []uuid.UUID {
	ids := append([]uuid.UUID(nil), r.KeyIDs...)
	switch {
	case r.Widevine != nil:
		ids = append(ids, r.Widevine.KeyIDs...)
	case r.PlayReady != nil && r.PlayReady.Header != nil:
		ids = append(ids, r.PlayReady.Header.KeyIDs...)
	case r.Marlin != nil:
		for _, e := range r.Marlin {
			ids = append(ids, e.KeyID)
		}
	}
	return ids
}
