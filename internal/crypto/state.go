package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateIssuer = "rnc-front"

// ErrInvalidState is returned for any state that fails signature, issuer or expiry checks.
var ErrInvalidState = errors.New("invalid state parameter")

// StateClaims is the payload carried in the OAuth state parameter.
type StateClaims struct {
	Nonce     string `json:"nonce"`
	ReturnURL string `json:"ret,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies short-lived HS256 state tokens.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateSigner creates a signer. ttl bounds how long a login may stay pending.
func NewStateSigner(key []byte, ttl time.Duration) *StateSigner {
	return &StateSigner{key: key, ttl: ttl, now: time.Now}
}

// Sign returns a compact JWT binding nonce and returnURL.
func (s *StateSigner) Sign(nonce, returnURL string) (string, error) {
	now := s.now()
	claims := StateClaims{
		Nonce:     nonce,
		ReturnURL: returnURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its claims when signature, issuer and expiry hold.
func (s *StateSigner) Verify(token string) (*StateClaims, error) {
	if token == "" {
		return nil, ErrInvalidState
	}
	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrInvalidState)
	}
	return claims, nil
}
