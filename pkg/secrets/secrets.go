// Package secrets derives purpose-bound signing keys from the single
// installation secret. Rotating the installation secret therefore
// invalidates every derived key uniformly.
package secrets

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// DeriveKey returns a 32-byte key bound to the given label.
func DeriveKey(appSecret, label string) []byte {
	r := hkdf.New(sha256.New, []byte(appSecret), nil, []byte(label))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails when asked for more bytes than the hash
		// can expand to; 32 is far below that bound.
		panic(err)
	}
	return key
}
