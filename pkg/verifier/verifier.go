// Package verifier implements the TARIC entry verification state machine:
// hash integrity, trust resolution, signature verification, per-device chain
// enforcement, and signed ack issuance.
package verifier

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/lesaloon/taric/pkg/canonical"
	"github.com/lesaloon/taric/pkg/chain"
	"github.com/lesaloon/taric/pkg/contracts"
	"github.com/lesaloon/taric/pkg/crypto"
	"github.com/lesaloon/taric/pkg/trust"
)

// Verifier coordinates trust, chain state, and ack signing. It is safe for
// concurrent use; callers on many goroutines may submit entries for the same
// device and exactly one of any conflicting pair will be accepted.
type Verifier struct {
	trust  trust.DeviceTrust
	store  chain.Store
	signer crypto.AckSigner

	// Per-device locks make the read-check-commit across chain rules appear
	// atomic even when the store only serializes individual operations.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Verifier from its three collaborators.
func New(t trust.DeviceTrust, s chain.Store, signer crypto.AckSigner) *Verifier {
	return &Verifier{
		trust:  t,
		store:  s,
		signer: signer,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (v *Verifier) deviceLock(deviceID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		v.locks[deviceID] = l
	}
	return l
}

// ProcessEntryJSON decodes a wire LogEntry and processes it. Decode failures
// map to Malformed.
func (v *Verifier) ProcessEntryJSON(data []byte, nowTS int64) (*contracts.Ack, error) {
	var entry contracts.LogEntry
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return nil, errMalformed(err.Error())
	}
	return v.ProcessEntry(&entry, nowTS)
}

// ProcessEntry verifies one entry and, on accept, commits its chain state
// and returns a signed ack. Every failure path returns a *VerifyError and
// leaves the chain store untouched; a crash between check and commit leaves
// the entry re-submittable.
func (v *Verifier) ProcessEntry(entry *contracts.LogEntry, nowTS int64) (*contracts.Ack, error) {
	// 1. Hash integrity. Runs before any trust or signature work so a
	// corrupted entry never costs a key lookup.
	computed, err := canonical.ComputeEntryHash(entry)
	if err != nil {
		return nil, errMalformed(err.Error())
	}
	if computed != entry.EntryHash {
		return nil, errHashMismatch
	}

	// 2. Trust.
	vk, ok := v.trust.GetKey(entry.DeviceID, entry.KeyID)
	if !ok {
		return nil, errDeviceUnknown(entry.DeviceID)
	}
	if v.trust.IsRevoked(entry.DeviceID, entry.KeyID) {
		return nil, errRevoked(entry.DeviceID)
	}
	if vk.Algo != entry.Algo {
		return nil, errUnsupportedAlgo(entry.Algo)
	}

	// 3. Signature.
	switch entry.Algo {
	case contracts.AlgoEd25519:
		if len(vk.Key) != ed25519.PublicKeySize {
			return nil, errMalformed("ed25519 pubkey length")
		}
		sig, err := base64.StdEncoding.DecodeString(entry.Signature)
		if err != nil {
			return nil, errMalformed("signature base64")
		}
		if len(sig) != ed25519.SignatureSize {
			return nil, errMalformed("signature length")
		}
		msg, err := canonical.ForSign(entry)
		if err != nil {
			return nil, errMalformed(err.Error())
		}
		if !ed25519.Verify(ed25519.PublicKey(vk.Key), msg, sig) {
			return nil, errInvalidSignature
		}
	default:
		return nil, errUnsupportedAlgo(entry.Algo)
	}

	// 4-6. Chain link, nonce, commit. Atomic per device.
	if err := v.commit(entry); err != nil {
		return nil, err
	}

	// 7. Ack.
	return v.makeAck(entry, nowTS)
}

func (v *Verifier) commit(entry *contracts.LogEntry) error {
	l := v.deviceLock(entry.DeviceID)
	l.Lock()
	defer l.Unlock()

	lastHash, haveHash := v.store.LastHash(entry.DeviceID)
	lastNonce, haveNonce := v.store.LastNonce(entry.DeviceID)

	switch {
	case !haveHash && entry.PreviousEntryHash == nil:
		// First entry for the device.
	case haveHash && entry.PreviousEntryHash != nil:
		if lastHash != *entry.PreviousEntryHash {
			return errPreviousHashMismatch
		}
	default:
		// One side present, the other absent.
		return errPreviousHashMismatch
	}

	if haveNonce && entry.Nonce <= lastNonce {
		return errNonceNotMonotonic
	}

	if cs, ok := v.store.(chain.ConditionalStore); ok {
		// Shared stores: commit only if the state we checked still holds.
		if !cs.CompareAndSet(entry.DeviceID, lastHash, lastNonce, haveHash, entry.EntryHash, entry.Nonce) {
			return errPreviousHashMismatch
		}
		return nil
	}
	v.store.Update(entry.DeviceID, entry.EntryHash, entry.Nonce)
	return nil
}

func (v *Verifier) makeAck(entry *contracts.LogEntry, nowTS int64) (*contracts.Ack, error) {
	ack := &contracts.Ack{
		EntryID:        entry.EntryHash,
		NewEntryHash:   entry.EntryHash,
		Status:         contracts.StatusAccepted,
		Timestamp:      nowTS,
		ServerSignerID: v.signer.SignerID(),
	}
	msg, err := canonical.ForAckSign(ack)
	if err != nil {
		return nil, errMalformed(err.Error())
	}
	ack.ServerSignature = base64.StdEncoding.EncodeToString(v.signer.Sign(msg))
	return ack, nil
}
