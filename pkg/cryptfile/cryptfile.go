// Package cryptfile assembles the MP4Box cryptfile: a GPACDRM root holding
// one DRMInfo per protection system followed by one CrypTrack per track.
//
// A Document is rendered once when it is built or read, so every write
// produces the same bytes.
package cryptfile

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dashcrypt/cryptgen/pkg/bitstream"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
)

// Scheme is the protection scheme written on the root element.
type Scheme string

const (
	AESCTR Scheme = "CENC AES-CTR"
	AESCBC Scheme = "CENC AES-CBC"
)

var (
	ErrDuplicateTrack = errors.New("cryptfile: duplicate track ID")
	ErrUnknownScheme  = errors.New("cryptfile: unknown protection scheme")
)

// ParseScheme accepts the wire names and the short forms ctr, cenc, cbc
// and cbc1.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ctr", "cenc", "aes-ctr", strings.ToLower(string(AESCTR)):
		return AESCTR, nil
	case "cbc", "cbc1", "aes-cbc", strings.ToLower(string(AESCBC)):
		return AESCBC, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheme, s)
}

type root struct {
	XMLName xml.Name    `xml:"GPACDRM"`
	Type    Scheme      `xml:"type,attr"`
	DRM     []DRMInfo   `xml:"DRMInfo"`
	Tracks  []CrypTrack `xml:"CrypTrack"`
}

// DRMInfo is one protection system header.
type DRMInfo struct {
	Type    string            `xml:"type,attr"`
	Version uint8             `xml:"version,attr"`
	Fields  []bitstream.Field `xml:"BS"`
}

// Box encodes the node as a binary full box of type Type.
func (d DRMInfo) Box() (bitstream.Box, error) {
	return bitstream.NewFullBox(d.Type, d.Version, 0, d.Fields...)
}

// CrypTrack is the encryption setup of one track.
type CrypTrack struct {
	TrackID     int    `xml:"trackID,attr"`
	IsEncrypted string `xml:"IsEncrypted,attr"`
	IVSize      int    `xml:"IV_size,attr"`
	FirstIV     string `xml:"first_IV,attr,omitempty"`
	KeyRoll     string `xml:"keyRoll,attr,omitempty"`
	SAISavedBox string `xml:"saiSavedBox,attr"`
	Keys        []Key  `xml:"key"`
}

// Key is one key ID and key, both 0x prefixed hex.
type Key struct {
	KID   string `xml:"KID,attr"`
	Value string `xml:"value,attr"`
}

// Document is an assembled cryptfile.
type Document struct {
	tree root
	out  []byte
}

// Build assembles the cryptfile. Systems and tracks keep the order given.
// Track IDs must be unique and track categories must not conflict.
func Build(scheme Scheme, tracks []track.Track, systems []pssh.System) (*Document, error) {
	if scheme == "" {
		scheme = AESCTR
	}
	if scheme != AESCTR && scheme != AESCBC {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, string(scheme))
	}
	tree := root{Type: scheme}

	for _, s := range systems {
		c, err := pssh.Compose(s)
		if err != nil {
			return nil, fmt.Errorf("cryptfile: %s: %w", s.Name(), err)
		}
		body, err := c.Body()
		if err != nil {
			return nil, fmt.Errorf("cryptfile: %s: %w", s.Name(), err)
		}
		tree.DRM = append(tree.DRM, DRMInfo{Type: "pssh", Version: c.Version, Fields: body})
	}

	seen := make(map[int]bool, len(tracks))
	var registry track.Registry
	for _, t := range tracks {
		if seen[t.ID()] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateTrack, t.ID())
		}
		seen[t.ID()] = true
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("cryptfile: %w", err)
		}
		tree.Tracks = append(tree.Tracks, newCrypTrack(t))
	}

	return newDocument(tree)
}

func newCrypTrack(t track.Track) CrypTrack {
	ct := CrypTrack{
		TrackID:     t.ID(),
		IsEncrypted: "1",
		IVSize:      t.IVSize(),
		SAISavedBox: "senc",
	}
	if iv := t.FirstIV(); len(iv) > 0 {
		ct.FirstIV = "0x" + hex.EncodeToString(iv)
	}
	if s := t.Schedule(); s.Rotating() {
		ct.KeyRoll = strconv.Itoa(s.SamplesPerKey())
	}
	for _, k := range t.Keys() {
		ct.Keys = append(ct.Keys, Key{KID: "0x" + k.IDHex(), Value: "0x" + k.KeyHex()})
	}
	return ct
}

func newDocument(tree root) (*Document, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("cryptfile: render: %w", err)
	}
	buf.WriteByte('\n')
	return &Document{tree: tree, out: buf.Bytes()}, nil
}

// Read parses a cryptfile. BS elements are rebuilt as fields so the
// DRMInfo nodes can be encoded again.
func Read(r io.Reader) (*Document, error) {
	var tree root
	if err := xml.NewDecoder(r).Decode(&tree); err != nil {
		return nil, fmt.Errorf("cryptfile: read: %w", err)
	}
	if _, err := ParseScheme(string(tree.Type)); err != nil {
		return nil, err
	}
	return newDocument(tree)
}

// ReadFile parses the cryptfile at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cryptfile: %w", err)
	}
	defer f.Close()
	return Read(f)
}

func (d *Document) Scheme() Scheme { return d.tree.Type }

// DRMInfos returns the protection system nodes in document order.
func (d *Document) DRMInfos() []DRMInfo {
	out := make([]DRMInfo, len(d.tree.DRM))
	for i, info := range d.tree.DRM {
		info.Fields = append([]bitstream.Field(nil), info.Fields...)
		out[i] = info
	}
	return out
}

// Tracks returns the track nodes in document order.
func (d *Document) Tracks() []CrypTrack {
	out := make([]CrypTrack, len(d.tree.Tracks))
	for i, t := range d.tree.Tracks {
		t.Keys = append([]Key(nil), t.Keys...)
		out[i] = t
	}
	return out
}

// Bytes returns a copy of the rendered document.
func (d *Document) Bytes() []byte { return append([]byte(nil), d.out...) }

// WriteTo writes the rendered document to w.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d.out)
	return int64(n), err
}

// WriteFile writes the document to path, closing the file on every path.
func (d *Document) WriteFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cryptfile: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("cryptfile: close %s: %w", path, cerr)
		}
	}()
	if _, err := d.WriteTo(f); err != nil {
		return fmt.Errorf("cryptfile: write %s: %w", path, err)
	}
	return nil
}
