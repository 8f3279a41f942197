package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidPadding = errors.New("invalid PKCS#7 padding")
	ErrInvalidKey     = errors.New("invalid AES key")
)

// Reader is the source of randomness for generated keys and IVs.
var Reader io.Reader = rand.Reader

func GenerateKey(length int) ([]byte, error) {
	key := make([]byte, length)
	if _, err := io.ReadFull(Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func GenerateNonce(length int) ([]byte, error) {
	nonce := make([]byte, length)
	_, err := io.ReadFull(Reader, nonce)
	if err != nil {
		return nil, err
	}
	return nonce, nil
}

func newCipher(key []byte) (cipher.Block, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	return block, nil
}

// SignRequest signs a key server request: the SHA-1 digest of msg,
// PKCS#7 padded and encrypted with AES-CBC under key and iv.
func SignRequest(msg, key, iv []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("signing iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	digest := sha1.Sum(msg)
	padded := Pad(digest[:], block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// VerifyRequest checks a signature produced by SignRequest.
func VerifyRequest(msg, signature, key, iv []byte) error {
	block, err := newCipher(key)
	if err != nil {
		return err
	}
	if len(signature) == 0 || len(signature)%block.BlockSize() != 0 || len(iv) != block.BlockSize() {
		return ErrInvalidPadding
	}
	plain := make([]byte, len(signature))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, signature)
	digest, err := Unpad(plain, block.BlockSize())
	if err != nil {
		return err
	}
	want := sha1.Sum(msg)
	if !bytes.Equal(digest, want[:]) {
		return errors.New("signature does not match request")
	}
	return nil
}

func Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}

// KeyChecksum is the PlayReady AES-CTR key checksum: the first 8 bytes of
// the key ID (in GUID little-endian order) encrypted with the content key.
func KeyChecksum(kidLE, key []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(kidLE) != block.BlockSize() {
		return nil, fmt.Errorf("key ID must be %d bytes, got %d", block.BlockSize(), len(kidLE))
	}
	out := make([]byte, block.BlockSize())
	block.Encrypt(out, kidLE)
	return out[:8], nil
}
