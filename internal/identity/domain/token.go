package domain

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const tokenPrefix = "sbp_"

// TokenClaims is the signed envelope carried by a personal access
// token. It names the subject only; no capability claims.
type TokenClaims struct {
	Sub  string `json:"sub"`
	Iss  string `json:"iss"`
	Salt string `json:"salt"`
}

// EncodeToken mints a personal access token for the user.
func EncodeToken(key []byte, issuer string, userID snowflake.ID) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	claims := TokenClaims{
		Sub:  userID.String(),
		Iss:  issuer,
		Salt: hex.EncodeToString(salt),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	body := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(body))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return tokenPrefix + body + "." + sig, nil
}

// DecodeToken verifies the envelope and returns the claims. Any parse
// failure and any signature mismatch return ErrInvalidToken.
func DecodeToken(key []byte, issuer, raw string) (*TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, tokenPrefix) {
		return nil, ErrInvalidToken
	}
	raw = strings.TrimPrefix(raw, tokenPrefix)

	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrInvalidToken
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(parts[0]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Iss != issuer || strings.TrimSpace(claims.Sub) == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
