// Package crypto holds the server-side signing primitives: the AckSigner
// capability and its Ed25519 reference implementation, plus seed derivation
// for deployments that provision a single master secret.
package crypto

import (
	"crypto/ed25519"
	"fmt"
)

// AckSigner signs canonical ack bytes. Implementations must be safe for
// concurrent use; Ed25519 signing with a fixed key naturally is.
type AckSigner interface {
	// SignerID is the stable identifier baked into every ack this signer
	// produces.
	SignerID() string
	// Sign produces a signature over the canonical ack bytes.
	Sign(msg []byte) []byte
}

// Ed25519AckSigner signs acks with an Ed25519 key held in memory.
type Ed25519AckSigner struct {
	id   string
	priv ed25519.PrivateKey
}

// NewEd25519AckSigner builds a signer from a 32-byte seed and a static
// signer id.
func NewEd25519AckSigner(id string, seed []byte) (*Ed25519AckSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: ack signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519AckSigner{id: id, priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// SignerID returns the configured signer identifier.
func (s *Ed25519AckSigner) SignerID() string { return s.id }

// Sign signs msg. Ed25519 is deterministic: identical input always yields
// the identical signature.
func (s *Ed25519AckSigner) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// PublicKey exposes the verifying half so collaborators can check acks.
func (s *Ed25519AckSigner) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}
