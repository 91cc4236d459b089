package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSeed derives a 32-byte Ed25519 seed from a master secret via
// HKDF-SHA256. The info string separates key purposes so one deployment
// secret can back multiple signers without key reuse.
func DeriveSeed(master []byte, info string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("crypto: empty master secret")
	}
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return seed, nil
}
