package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyLength is the size of every derived key.
const KeyLength = 32

// Key purposes. Each one yields an independent key from the same secret.
const (
	PurposeState   = "rnc-front:state:v1"
	PurposeCSRF    = "rnc-front:csrf:v1"
	PurposeSession = "rnc-front:session:v1"
)

// DeriveKey expands secret into a KeyLength key bound to purpose.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret")
	}
	h := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	k := make([]byte, KeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

// SignData returns the base64url HMAC-SHA256 of data.
func SignData(data string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignedData compares signature against the HMAC of data in constant time.
func ValidateSignedData(data, signature string, key []byte) bool {
	expected, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hmac.Equal(mac.Sum(nil), expected)
}
