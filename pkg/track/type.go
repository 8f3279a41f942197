package track

import (
	"fmt"
	"strings"
)

// Type is the content category of a track. The names match the stream
// types used by key servers.
type Type string

const (
	Unspecified Type = ""
	UHD         Type = "UHD"
	HD          Type = "HD"
	SD          Type = "SD"
	Audio       Type = "AUDIO"
	Video       Type = "VIDEO"
	VideoAudio  Type = "VIDEO_AUDIO"
)

// Types lists the named categories.
var Types = []Type{UHD, HD, SD, Audio, Video, VideoAudio}

// ParseType accepts the upper case names, case insensitively.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return Unspecified, fmt.Errorf("track: unknown stream type %q", s)
}

// IsVideo reports whether the category carries video.
func (t Type) IsVideo() bool {
	switch t {
	case UHD, HD, SD, Video, VideoAudio:
		return true
	}
	return false
}

func (t Type) String() string {
	if t == Unspecified {
		return "UNSPECIFIED"
	}
	return string(t)
}
