package track

import (
	"errors"
	"fmt"
)

var ErrTypeConflict = errors.New("stream type conflict")

// conflicts lists, per category, the categories it cannot share a document
// with. A category always conflicts with itself.
var conflicts = map[Type][]Type{
	UHD:        {VideoAudio, Video},
	HD:         {VideoAudio, Video},
	SD:         {VideoAudio, Video},
	Video:      {UHD, HD, SD, VideoAudio},
	Audio:      {VideoAudio},
	VideoAudio: {UHD, HD, SD, Audio, Video},
}

// ConflictError names the requested category and the first registered
// category it collides with.
type ConflictError struct {
	TrackID   int
	Requested Type
	Existing  Type
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("track %d: stream type %s conflicts with already registered %s", e.TrackID, e.Requested, e.Existing)
}

func (e *ConflictError) Unwrap() error { return ErrTypeConflict }

// Registry accepts tracks whose categories are mutually exclusive. The zero
// value is ready to use.
type Registry struct {
	byType map[Type]int
	order  []Type
	tracks []Track
	ids    map[int]struct{}
}

// Conflicts reports whether a and b cannot be registered together.
func Conflicts(a, b Type) bool {
	if a == Unspecified || b == Unspecified {
		return false
	}
	if a == b {
		return true
	}
	for _, c := range conflicts[a] {
		if c == b {
			return true
		}
	}
	return false
}

// Check reports the first registered category that t conflicts with,
// without registering it.
func (r *Registry) Check(t Track) error {
	if _, dup := r.ids[t.ID()]; dup {
		return fmt.Errorf("%w: track %d is already registered", ErrInvalidTrack, t.ID())
	}
	for _, existing := range r.order {
		if Conflicts(t.Type(), existing) {
			return &ConflictError{TrackID: t.ID(), Requested: t.Type(), Existing: existing}
		}
	}
	return nil
}

// Register adds t or returns the reason it was rejected. A rejected track
// leaves the registry unchanged.
func (r *Registry) Register(t Track) error {
	if err := r.Check(t); err != nil {
		return err
	}
	if r.byType == nil {
		r.byType = make(map[Type]int)
		r.ids = make(map[int]struct{})
	}
	if t.Type() != Unspecified {
		r.byType[t.Type()] = t.ID()
		r.order = append(r.order, t.Type())
	}
	r.ids[t.ID()] = struct{}{}
	r.tracks = append(r.tracks, t)
	return nil
}

// Lookup returns the ID of the track registered with category t.
func (r *Registry) Lookup(t Type) (int, bool) {
	id, ok := r.byType[t]
	return id, ok
}

// Tracks returns the registered tracks in registration order.
func (r *Registry) Tracks() []Track {
	return append([]Track(nil), r.tracks...)
}

// Len is the number of registered tracks.
func (r *Registry) Len() int { return len(r.tracks) }
