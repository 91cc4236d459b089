// Package auth issues and validates operator bearer tokens for the
// administrative API surface (evidence export). Tokens are EdDSA JWTs signed
// with a key derived from the server's master secret (or, when none is set,
// from the signer seed), so no extra key material needs provisioning.
package auth

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "taric/auth"

// OperatorClaims are the registered claims plus the operator role.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// TokenManager mints and validates operator tokens.
type TokenManager struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewTokenManager builds a manager from a 32-byte Ed25519 seed.
func NewTokenManager(seed []byte) (*TokenManager, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("auth: token seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &TokenManager{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Mint creates a signed token for subject, valid for the given duration.
func (tm *TokenManager) Mint(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(tm.priv)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims if the signature and
// time bounds hold.
func (tm *TokenManager) Validate(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method %q", t.Method.Alg())
			}
			return tm.pub, nil
		},
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
