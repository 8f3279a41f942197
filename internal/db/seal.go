package db

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	gcmpb "github.com/tink-crypto/tink-go/v2/proto/aes_gcm_go_proto"
	tinkpb "github.com/tink-crypto/tink-go/v2/proto/tink_go_proto"
	"github.com/tink-crypto/tink-go/v2/tink"
	"golang.org/x/crypto/argon2"
	"google.golang.org/protobuf/proto"
)

// Argon2id parameters of the key store passphrase.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

const aesGCMTypeURL = "type.googleapis.com/google.crypto.tink.AesGcmKey"

// ErrLocked is returned when sealed keys are read without a passphrase.
var ErrLocked = errors.New("key store is sealed; a passphrase is required")

// NewPassphraseAEAD derives an AES-256-GCM primitive from passphrase and salt.
func NewPassphraseAEAD(passphrase, salt []byte) (tink.AEAD, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty key store passphrase")
	}
	if len(salt) < saltLen {
		return nil, fmt.Errorf("key store salt has %d bytes, want %d", len(salt), saltLen)
	}
	derived := argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	value, err := proto.Marshal(&gcmpb.AesGcmKey{Version: 0, KeyValue: derived})
	if err != nil {
		return nil, err
	}
	ks := &tinkpb.Keyset{
		PrimaryKeyId: 1,
		Key: []*tinkpb.Keyset_Key{{
			KeyData: &tinkpb.KeyData{
				TypeUrl:         aesGCMTypeURL,
				Value:           value,
				KeyMaterialType: tinkpb.KeyData_SYMMETRIC,
			},
			Status:           tinkpb.KeyStatusType_ENABLED,
			KeyId:            1,
			OutputPrefixType: tinkpb.OutputPrefixType_RAW,
		}},
	}
	handle, err := insecurecleartextkeyset.Read(&keyset.MemReaderWriter{Keyset: ks})
	if err != nil {
		return nil, fmt.Errorf("key store keyset: %w", err)
	}
	return aead.New(handle)
}

// keyAD binds a sealed key to its row so it cannot be moved to another
// asset, track or position.
func keyAD(asset string, trackID, position int, kid []byte) []byte {
	ad := make([]byte, 0, len(asset)+8+len(kid))
	ad = append(ad, asset...)
	ad = binary.BigEndian.AppendUint32(ad, uint32(trackID))
	ad = binary.BigEndian.AppendUint32(ad, uint32(position))
	return append(ad, kid...)
}

func sealKey(a tink.AEAD, asset string, trackID, position int, kid, key []byte) ([]byte, error) {
	return a.Encrypt(key, keyAD(asset, trackID, position, kid))
}

func openKey(a tink.AEAD, asset string, trackID, position int, kid, sealed []byte) ([]byte, error) {
	if a == nil {
		return nil, ErrLocked
	}
	key, err := a.Decrypt(sealed, keyAD(asset, trackID, position, kid))
	if err != nil {
		return nil, fmt.Errorf("could not open stored key of %s track %d: %w", asset, trackID, err)
	}
	return key, nil
}
