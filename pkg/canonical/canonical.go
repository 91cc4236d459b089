// Package canonical produces the deterministic CBOR byte forms that entry
// hashing and every signature in the system are computed over.
//
// Entries and acks canonicalize as definite-length CBOR arrays (tuples) with
// fixed positional field order, never as maps. Field identity is positional,
// so any addition is a breaking change. Optional strings encode as CBOR null
// when absent. Integers use shortest form.
//
// Interop note: peers canonicalize the format version as an IEEE-754 single
// (major type 7, additional info 26). The encoder below must therefore never
// shorten floats; a float16 version cell would break every signature in the
// fleet.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/lesaloon/taric/pkg/contracts"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.EncOptions{
		Sort:          cbor.SortNone,
		ShortestFloat: cbor.ShortestFloatNone,
		IndefLength:   cbor.IndefLengthForbidden,
	}
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("canonical: invalid CBOR encoder options: %v", err))
	}
}

// hashTuple is the canonical-for-hash layout: everything the device commits
// to before the hash itself exists. Excludes entry_hash and signature.
type hashTuple struct {
	_                 struct{} `cbor:",toarray"`
	Version           float32
	DeviceID          string
	Timestamp         int64
	SessionID         string
	Nonce             uint64
	Algo              string
	KeyID             *string
	Payload           string
	PreviousEntryHash *string
}

// signTuple is the canonical-for-sign layout: the hash tuple plus the
// declared entry_hash. Excludes only the signature.
type signTuple struct {
	_                 struct{} `cbor:",toarray"`
	Version           float32
	EntryHash         string
	DeviceID          string
	Timestamp         int64
	SessionID         string
	Nonce             uint64
	Algo              string
	KeyID             *string
	Payload           string
	PreviousEntryHash *string
}

// ackSignTuple is the canonical-for-ack-sign layout. Excludes
// server_signature.
type ackSignTuple struct {
	_              struct{} `cbor:",toarray"`
	EntryID        string
	NewEntryHash   string
	Status         string
	Timestamp      int64
	ServerSignerID string
}

// ForHash returns the canonical-for-hash bytes of an entry.
func ForHash(e *contracts.LogEntry) ([]byte, error) {
	b, err := encMode.Marshal(&hashTuple{
		Version:           e.Version,
		DeviceID:          e.DeviceID,
		Timestamp:         e.Timestamp,
		SessionID:         e.SessionID,
		Nonce:             e.Nonce,
		Algo:              e.Algo,
		KeyID:             e.KeyID,
		Payload:           e.Payload,
		PreviousEntryHash: e.PreviousEntryHash,
	})
	if err != nil {
		return nil, fmt.Errorf("canonical: encode for hash: %w", err)
	}
	return b, nil
}

// ForSign returns the canonical-for-sign bytes of an entry, including the
// declared entry_hash.
func ForSign(e *contracts.LogEntry) ([]byte, error) {
	b, err := encMode.Marshal(&signTuple{
		Version:           e.Version,
		EntryHash:         e.EntryHash,
		DeviceID:          e.DeviceID,
		Timestamp:         e.Timestamp,
		SessionID:         e.SessionID,
		Nonce:             e.Nonce,
		Algo:              e.Algo,
		KeyID:             e.KeyID,
		Payload:           e.Payload,
		PreviousEntryHash: e.PreviousEntryHash,
	})
	if err != nil {
		return nil, fmt.Errorf("canonical: encode for sign: %w", err)
	}
	return b, nil
}

// ForAckSign returns the canonical bytes the server signs when issuing an
// ack. The ack's server_signature field is excluded by construction.
func ForAckSign(a *contracts.Ack) ([]byte, error) {
	b, err := encMode.Marshal(&ackSignTuple{
		EntryID:        a.EntryID,
		NewEntryHash:   a.NewEntryHash,
		Status:         a.Status,
		Timestamp:      a.Timestamp,
		ServerSignerID: a.ServerSignerID,
	})
	if err != nil {
		return nil, fmt.Errorf("canonical: encode for ack sign: %w", err)
	}
	return b, nil
}

// ComputeEntryHash returns the lowercase hex SHA-256 of the entry's
// canonical-for-hash bytes. Pure: identical entries always hash identically.
func ComputeEntryHash(e *contracts.LogEntry) (string, error) {
	b, err := ForHash(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
