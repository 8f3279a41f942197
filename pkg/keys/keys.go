// Package keys holds content key material: a 16 byte key ID and a 16 byte
// AES key.
package keys

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// Size is the length in bytes of both the key ID and the key.
const Size = 16

// Error reports which half of a pair could not be read.
type Error struct {
	Part  string
	Input string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("keys: invalid %s %q: %v", e.Part, e.Input, e.Cause)
	}
	return fmt.Sprintf("keys: invalid %s %q", e.Part, e.Input)
}

func (e *Error) Unwrap() error { return e.Cause }

// Pair is an immutable key ID and key.
type Pair struct {
	id  [Size]byte
	key [Size]byte
}

// New copies id and key into a pair. Both must be exactly 16 bytes.
func New(id, key []byte) (Pair, error) {
	var p Pair
	if len(id) != Size {
		return Pair{}, &Error{Part: "key ID", Input: hex.EncodeToString(id), Cause: fmt.Errorf("got %d bytes, want %d", len(id), Size)}
	}
	if len(key) != Size {
		return Pair{}, &Error{Part: "key", Input: hex.EncodeToString(key), Cause: fmt.Errorf("got %d bytes, want %d", len(key), Size)}
	}
	copy(p.id[:], id)
	copy(p.key[:], key)
	return p, nil
}

// Parse reads a pair from text. The key ID may be a GUID
// (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx, optionally in braces or as a urn)
// or 32 hexadecimal digits. The key is 32 hexadecimal digits. Either may
// carry a 0x prefix.
func Parse(id, key string) (Pair, error) {
	idBytes, err := ParseID(id)
	if err != nil {
		return Pair{}, err
	}
	keyBytes, err := decodeHex16(key)
	if err != nil {
		return Pair{}, &Error{Part: "key", Input: key, Cause: err}
	}
	return New(idBytes[:], keyBytes)
}

// ParseID reads a key ID in GUID or hexadecimal form.
func ParseID(s string) ([Size]byte, error) {
	trimmed := trimHex(strings.TrimSpace(s))
	u, err := uuid.Parse(trimmed)
	if err != nil {
		return [Size]byte{}, &Error{Part: "key ID", Input: s, Cause: err}
	}
	return u, nil
}

// Generate draws a random key ID and key from r.
func Generate(r io.Reader) (Pair, error) {
	buf := make([]byte, 2*Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Pair{}, fmt.Errorf("keys: generate: %w", err)
	}
	return New(buf[:Size], buf[Size:])
}

// ID returns the key ID.
func (p Pair) ID() []byte { return append([]byte(nil), p.id[:]...) }

// Key returns the key.
func (p Pair) Key() []byte { return append([]byte(nil), p.key[:]...) }

// UUID returns the key ID as a GUID.
func (p Pair) UUID() uuid.UUID { return uuid.UUID(p.id) }

func (p Pair) IDHex() string { return hex.EncodeToString(p.id[:]) }
func (p Pair) KeyHex() string { return hex.EncodeToString(p.key[:]) }
func (p Pair) IDBase64() string { return base64.StdEncoding.EncodeToString(p.id[:]) }
func (p Pair) KeyBase64() string { return base64.StdEncoding.EncodeToString(p.key[:]) }

// IsZero reports whether p is the zero value.
func (p Pair) IsZero() bool { return p == Pair{} }

// String prints the key ID only.
func (p Pair) String() string { return p.UUID().String() }

// ParseList reads one pair per line as <kid>:<key> or <kid>=<key>. Blank
// lines and lines starting with # are skipped.
func ParseList(r io.Reader) ([]Pair, error) {
	var pairs []Pair
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		id, key, ok := SplitPair(text)
		if !ok {
			return nil, fmt.Errorf("keys: line %d: expected <kid>:<key>, got %q", line, text)
		}
		p, err := Parse(id, key)
		if err != nil {
			return nil, fmt.Errorf("keys: line %d: %w", line, err)
		}
		pairs = append(pairs, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// SplitPair splits "<kid>=<key>" or "<kid>:<key>".
func SplitPair(s string) (id, key string, ok bool) {
	if id, key, ok = strings.Cut(s, "="); ok {
		return strings.TrimSpace(id), strings.TrimSpace(key), true
	}
	// GUIDs contain no colon, so the last one separates the halves.
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
}

func decodeHex16(s string) ([]byte, error) {
	b, err := hex.DecodeString(trimHex(strings.TrimSpace(s)))
	if err != nil {
		return nil, err
	}
	if len(b) != Size {
		return nil, fmt.Errorf("got %d bytes, want %d", len(b), Size)
	}
	return b, nil
}

func trimHex(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
