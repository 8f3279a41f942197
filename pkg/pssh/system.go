// Package pssh composes the protection system specific header of each
// supported DRM system from bitstream fields.
//
// The set of systems is closed: ClearKey, Widevine, PlayReady and Marlin.
// Compose and ContentProtection switch over it exhaustively.
package pssh

import (
	"errors"
	"fmt"
	"os"

	"github.com/dashcrypt/cryptgen/pkg/bitstream"
	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/google/uuid"
)

var (
	ClearKeySystemID  = uuid.MustParse("1077efec-c0b2-4d02-ace3-3c1e52e2fb4b")
	WidevineSystemID  = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
	PlayReadySystemID = uuid.MustParse("9a04f079-9840-4286-ab92-e65be0885f95")
	MarlinSystemID    = uuid.MustParse("5e629af5-38da-4063-8977-97ffbd9902d4")
)

var (
	ErrNoKeys            = errors.New("pssh: at least one key ID is required")
	ErrMalformedPayload  = errors.New("pssh: malformed payload")
	ErrUnsupportedSystem = errors.New("pssh: unsupported system")
)

// System is one DRM system's header. Only the types in this package
// implement it.
type System interface {
	SystemID() uuid.UUID
	Name() string
	system()
}

// Name returns the display name for a system ID.
func Name(id uuid.UUID) string {
	switch id {
	case ClearKeySystemID:
		return "ClearKey"
	case WidevineSystemID:
		return "Widevine"
	case PlayReadySystemID:
		return "PlayReady"
	case MarlinSystemID:
		return "Marlin"
	}
	return id.String()
}

// KeyIDs extracts the key IDs of pairs in order.
func KeyIDs(pairs []keys.Pair) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.UUID())
	}
	return ids
}

// ClearKey lists key IDs only and carries no data.
type ClearKey struct {
	kids []uuid.UUID
}

func NewClearKey(kids ...uuid.UUID) (ClearKey, error) {
	if len(kids) == 0 {
		return ClearKey{}, ErrNoKeys
	}
	return ClearKey{kids: append([]uuid.UUID(nil), kids...)}, nil
}

func (ClearKey) SystemID() uuid.UUID { return ClearKeySystemID }
func (ClearKey) Name() string { return "ClearKey" }
func (c ClearKey) KeyIDs() []uuid.UUID { return append([]uuid.UUID(nil), c.kids...) }
func (ClearKey) system() {}

// Widevine carries a WidevineCencHeader, either built here or received
// ready made from a key server.
type Widevine struct {
	header *WidevineHeader
	opaque []bitstream.Field
}

// NewWidevine builds the header locally.
func NewWidevine(h WidevineHeader) (Widevine, error) {
	if len(h.KeyIDs) == 0 && len(h.ContentID) == 0 {
		return Widevine{}, fmt.Errorf("%w: widevine header needs key IDs or a content ID", ErrNoKeys)
	}
	c := h.clone()
	return Widevine{header: &c}, nil
}

// WidevineFromPayload wraps protobuf bytes obtained elsewhere. The bytes
// are checked to be a protobuf message and kept as they are.
func WidevineFromPayload(b []byte) (Widevine, error) {
	if _, err := ParseWidevineHeader(b); err != nil {
		return Widevine{}, err
	}
	f, err := bitstream.PrefixedDataBase64(b, 32)
	if err != nil {
		return Widevine{}, err
	}
	return Widevine{opaque: []bitstream.Field{f}}, nil
}

// WidevineFromFile references a payload file instead of copying it into
// the cryptfile.
func WidevineFromFile(path string) (Widevine, error) {
	f, err := payloadFile(path)
	if err != nil {
		return Widevine{}, err
	}
	return Widevine{opaque: f}, nil
}

func (Widevine) SystemID() uuid.UUID { return WidevineSystemID }
func (Widevine) Name() string { return "Widevine" }
func (Widevine) system() {}

// Header returns the locally built header, if any.
func (w Widevine) Header() (WidevineHeader, bool) {
	if w.header == nil {
		return WidevineHeader{}, false
	}
	return w.header.clone(), true
}

// PlayReady carries a PlayReady Object.
type PlayReady struct {
	header *PlayReadyHeader
	opaque []bitstream.Field
}

func NewPlayReady(h PlayReadyHeader) (PlayReady, error) {
	if len(h.Keys) == 0 {
		return PlayReady{}, ErrNoKeys
	}
	c := h.clone()
	return PlayReady{header: &c}, nil
}

// PlayReadyFromPayload wraps a PlayReady Object obtained elsewhere.
func PlayReadyFromPayload(b []byte) (PlayReady, error) {
	if _, err := ParsePlayReadyObject(b); err != nil {
		return PlayReady{}, err
	}
	f, err := bitstream.PrefixedDataBase64(b, 32)
	if err != nil {
		return PlayReady{}, err
	}
	return PlayReady{opaque: []bitstream.Field{f}}, nil
}

// PlayReadyFromFile references a PlayReady Object file.
func PlayReadyFromFile(path string) (PlayReady, error) {
	f, err := payloadFile(path)
	if err != nil {
		return PlayReady{}, err
	}
	return PlayReady{opaque: f}, nil
}

func (PlayReady) SystemID() uuid.UUID { return PlayReadySystemID }
func (PlayReady) Name() string { return "PlayReady" }
func (PlayReady) system() {}

// Marlin lists key IDs in a marl/mkid box pair.
type Marlin struct {
	kids []uuid.UUID
}

func NewMarlin(kids ...uuid.UUID) (Marlin, error) {
	if len(kids) == 0 {
		return Marlin{}, ErrNoKeys
	}
	return Marlin{kids: append([]uuid.UUID(nil), kids...)}, nil
}

func (Marlin) SystemID() uuid.UUID { return MarlinSystemID }
func (Marlin) Name() string { return "Marlin" }
func (m Marlin) KeyIDs() []uuid.UUID { return append([]uuid.UUID(nil), m.kids...) }
func (Marlin) system() {}

// payloadFile is a 32-bit size followed by a whole-file slice. The size is
// fixed now so the surrounding box can be sized.
func payloadFile(path string) ([]bitstream.Field, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pssh: payload file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("pssh: payload file %s is a directory", path)
	}
	var seq bitstream.Sequence
	seq.Integer(uint64(info.Size()), 32)
	slice, err := bitstream.FileSlice(path, 0, info.Size())
	if err != nil {
		return nil, err
	}
	return seq.Append(slice).Fields()
}
