// Package track describes how one media track is encrypted: its keys, IV
// size, content category and key rotation.
package track

import (
	"errors"
	"fmt"

	"github.com/dashcrypt/cryptgen/pkg/keys"
)

var ErrInvalidTrack = errors.New("invalid track")

// Track is the encryption assignment of one media track. It is immutable.
type Track struct {
	id       int
	ivSize   int
	keys     []keys.Pair
	period   int
	typ      Type
	firstIV  []byte
	schedule Schedule
}

type Option func(*Track)

// WithType sets the content category.
func WithType(t Type) Option {
	return func(tr *Track) { tr.typ = t }
}

// WithRotation sets the number of consecutive samples encrypted with each
// key. Zero disables rotation.
func WithRotation(samplesPerKey int) Option {
	return func(tr *Track) { tr.period = samplesPerKey }
}

// WithFirstIV sets the IV of the first sample.
func WithFirstIV(iv []byte) Option {
	return func(tr *Track) { tr.firstIV = append([]byte(nil), iv...) }
}

// New validates and builds a track. IV size is 8 or 16 bytes and at least
// one key is required.
func New(id, ivSize int, pairs []keys.Pair, ops ...Option) (Track, error) {
	t := Track{
		id:     id,
		ivSize: ivSize,
		keys:   append([]keys.Pair(nil), pairs...),
	}
	for _, op := range ops {
		op(&t)
	}

	if id <= 0 {
		return Track{}, fmt.Errorf("%w: track ID must be positive, got %d", ErrInvalidTrack, id)
	}
	if ivSize != 8 && ivSize != 16 {
		return Track{}, fmt.Errorf("%w: track %d: IV size must be 8 or 16, got %d", ErrInvalidTrack, id, ivSize)
	}
	if len(t.keys) == 0 {
		return Track{}, fmt.Errorf("%w: track %d has no keys", ErrInvalidTrack, id)
	}
	for i, k := range t.keys {
		if k.IsZero() {
			return Track{}, fmt.Errorf("%w: track %d: key %d is empty", ErrInvalidTrack, id, i)
		}
	}
	if t.period < 0 {
		return Track{}, fmt.Errorf("%w: track %d: rotation period must not be negative, got %d", ErrInvalidTrack, id, t.period)
	}
	if t.firstIV != nil && len(t.firstIV) != ivSize {
		return Track{}, fmt.Errorf("%w: track %d: first IV has %d bytes, IV size is %d", ErrInvalidTrack, id, len(t.firstIV), ivSize)
	}
	switch t.typ {
	case Unspecified, UHD, HD, SD, Audio, Video, VideoAudio:
	default:
		return Track{}, fmt.Errorf("%w: track %d: unknown stream type %q", ErrInvalidTrack, id, string(t.typ))
	}
	t.schedule = NewSchedule(len(t.keys), t.period)
	return t, nil
}

func (t Track) ID() int { return t.id }
func (t Track) IVSize() int { return t.ivSize }
func (t Track) Type() Type { return t.typ }

// Keys returns the keys in rotation order.
func (t Track) Keys() []keys.Pair { return append([]keys.Pair(nil), t.keys...) }

// RotationPeriod is the number of samples per key, zero when keys do not
// rotate.
func (t Track) RotationPeriod() int { return t.period }

// FirstIV returns the configured first IV or nil.
func (t Track) FirstIV() []byte { return append([]byte(nil), t.firstIV...) }

// Schedule returns the rotation hint for the track.
func (t Track) Schedule() Schedule { return t.schedule }

func (t Track) String() string {
	return fmt.Sprintf("track %d (%s, %d keys)", t.id, t.typ, len(t.keys))
}
