package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"

	"github.com/bwmarrin/snowflake"
)

const keyPrefix = "ws_"

// DeriveWorkspaceKey turns a row ID into the opaque key used in URLs.
// The mapping is keyed so workspace keys cannot be enumerated from
// the snowflake sequence.
func DeriveWorkspaceKey(key []byte, id snowflake.ID) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id.Int64()))

	mac := hmac.New(sha256.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	return keyPrefix + base64.RawURLEncoding.EncodeToString(sum[:9])
}
