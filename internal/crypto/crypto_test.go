package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestPad(t *testing.T) {
	for n := 0; n <= 32; n++ {
		in := bytes.Repeat([]byte{0x42}, n)
		padded := Pad(in, 16)
		if len(padded)%16 != 0 || len(padded) <= n {
			t.Fatalf("Got %d padded bytes for %d", len(padded), n)
		}
		out, err := Unpad(padded, 16)
		if err != nil {
			t.Fatalf("Unpad: %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("Got [% x], wanted [% x]", out, in)
		}
	}
	if _, err := Unpad(bytes.Repeat([]byte{0x11}, 16), 16); !errors.Is(err, ErrInvalidPadding) {
		t.Fatalf("Expected invalid padding, got %v", err)
	}
}

func TestSignRequest(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	iv := bytes.Repeat([]byte{2}, 16)
	msg := []byte(`{"content_id":"dGVzdA=="}`)

	sig, err := SignRequest(msg, key, iv)
	if err != nil {
		t.Fatal(err)
	}
	// SHA-1 is 20 bytes, padded to two blocks.
	if len(sig) != 32 {
		t.Fatalf("Got %d signature bytes, wanted 32", len(sig))
	}
	if err := VerifyRequest(msg, sig, key, iv); err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if err := VerifyRequest([]byte("other"), sig, key, iv); err == nil {
		t.Fatal("Signature should not verify for a different message")
	}
	if _, err := SignRequest(msg, key[:7], iv); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Expected invalid key, got %v", err)
	}
	if _, err := SignRequest(msg, key, iv[:8]); err == nil {
		t.Fatal("Should have failed for a short iv")
	}
}

func TestKeyChecksum(t *testing.T) {
	// AES-128 FIPS-197 appendix C.1 vector.
	key, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	plain, _ := hex.DecodeString("00112233445566778899aabbccddeeff")
	sum, err := KeyChecksum(plain, key)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(sum) != "69c4e0d86a7b0430" {
		t.Fatalf("Got checksum [%x]", sum)
	}
}

func TestGenerateKey(t *testing.T) {
	saved := Reader
	defer func() { Reader = saved }()
	Reader = bytes.NewReader(bytes.Repeat([]byte{7}, 16))

	k, err := GenerateKey(16)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k, bytes.Repeat([]byte{7}, 16)) {
		t.Fatalf("Got [% x]", k)
	}
	if _, err := GenerateNonce(8); err == nil {
		t.Fatal("Exhausted reader should fail")
	}
}
