package keys

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	ids := []string{
		"11111111-1111-1111-1111-111111111111",
		"{11111111-1111-1111-1111-111111111111}",
		"urn:uuid:11111111-1111-1111-1111-111111111111",
		"11111111111111111111111111111111",
		"0x11111111111111111111111111111111",
	}
	for _, id := range ids {
		p, err := Parse(id, "0x000102030405060708090a0b0c0d0e0f")
		if err != nil {
			t.Fatalf("Parse(%q): %v", id, err)
		}
		if p.IDHex() != "11111111111111111111111111111111" {
			t.Fatalf("Got [%s] for key ID from %q", p.IDHex(), id)
		}
		if p.KeyHex() != "000102030405060708090a0b0c0d0e0f" {
			t.Fatalf("Got [%s] for key", p.KeyHex())
		}
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		id, key, part string
	}{
		{"not-a-guid", "000102030405060708090a0b0c0d0e0f", "key ID"},
		{"11111111-1111-1111-1111-111111111111", "0001", "key"},
		{"11111111-1111-1111-1111-111111111111", "zz0102030405060708090a0b0c0d0e0f", "key"},
	}
	for _, tt := range tests {
		_, err := Parse(tt.id, tt.key)
		var kErr *Error
		if !errors.As(err, &kErr) {
			t.Fatalf("Parse(%q, %q): expected *Error, got %v", tt.id, tt.key, err)
		}
		if kErr.Part != tt.part {
			t.Fatalf("Got part [%s], wanted [%s]", kErr.Part, tt.part)
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New(make([]byte, 15), make([]byte, 16)); err == nil {
		t.Fatal("Should have failed for a short key ID")
	}
	if _, err := New(make([]byte, 16), make([]byte, 17)); err == nil {
		t.Fatal("Should have failed for a long key")
	}
	id := bytes.Repeat([]byte{1}, 16)
	p, err := New(id, bytes.Repeat([]byte{2}, 16))
	if err != nil {
		t.Fatal(err)
	}
	id[0] = 9
	if p.ID()[0] != 1 {
		t.Fatal("Pair shares the caller's buffer")
	}
	if p.IDBase64() != "AQEBAQEBAQEBAQEBAQEBAQ==" {
		t.Fatalf("Got [%s] for base64 key ID", p.IDBase64())
	}
}

func TestGenerate(t *testing.T) {
	src := bytes.NewReader(append(bytes.Repeat([]byte{0xaa}, 16), bytes.Repeat([]byte{0xbb}, 16)...))
	p, err := Generate(src)
	if err != nil {
		t.Fatal(err)
	}
	if p.IDHex() != strings.Repeat("aa", 16) || p.KeyHex() != strings.Repeat("bb", 16) {
		t.Fatalf("Got %s/%s", p.IDHex(), p.KeyHex())
	}
	if _, err := Generate(bytes.NewReader(make([]byte, 20))); err == nil {
		t.Fatal("Should have failed on a short random source")
	}
}

func TestParseList(t *testing.T) {
	in := `# track 1
11111111-1111-1111-1111-111111111111:000102030405060708090a0b0c0d0e0f

22222222-2222-2222-2222-222222222222=0x0f0e0d0c0b0a09080706050403020100
`
	pairs, err := ParseList(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Got %d pairs, wanted 2", len(pairs))
	}
	if pairs[1].UUID().String() != "22222222-2222-2222-2222-222222222222" {
		t.Fatalf("Got [%s] for second key ID", pairs[1].UUID())
	}

	if _, err := ParseList(strings.NewReader("garbage\n")); err == nil {
		t.Fatal("Should have failed on a line without a separator")
	}
}
