// Package contracts defines the wire-level types exchanged between devices
// and the TARIC verifier: the signed LogEntry, the signed Ack, and the
// verifying-key material resolved from trust.
package contracts

import _ "embed"

// LogEntrySchemaJSON is the JSON Schema (draft 2020-12) for the LogEntry
// wire format, embedded for transport-side validation.
//
//go:embed schemas/log_entry.schema.json
var LogEntrySchemaJSON []byte

// WireVersion is the current LogEntry format version.
const WireVersion float32 = 1

// AlgoEd25519 is the only signature algorithm currently accepted.
const AlgoEd25519 = "ed25519"

// LogEntry is a single device-emitted telemetry record. Entries form a hash
// chain per device: previous_entry_hash points at the immediately prior
// accepted entry, and nonce increases strictly across the whole device
// history. session_id is informational only and never resets chain state.
//
// entry_hash and signature are self-described by the device and verified,
// never trusted.
type LogEntry struct {
	Version           float32 `json:"version"`
	EntryHash         string  `json:"entry_hash"`
	DeviceID          string  `json:"device_id"`
	Timestamp         int64   `json:"timestamp"`
	SessionID         string  `json:"session_id"`
	Nonce             uint64  `json:"nonce"`
	Algo              string  `json:"algo"`
	KeyID             *string `json:"key_id"`
	Payload           string  `json:"payload"`
	Signature         string  `json:"signature"`
	PreviousEntryHash *string `json:"previous_entry_hash"`
}

// Ack is the server acknowledgement for a processed entry. status is
// "accepted" on success or "error:<kind>[:<detail>]" on failure.
// new_entry_hash currently mirrors entry_id; it is reserved for server-side
// envelope semantics and must be carried verbatim.
type Ack struct {
	EntryID         string `json:"entry_id"`
	NewEntryHash    string `json:"new_entry_hash"`
	Status          string `json:"status"`
	Timestamp       int64  `json:"timestamp"`
	ServerSignerID  string `json:"server_signer_id"`
	ServerSignature string `json:"server_signature"`
}

// StatusAccepted is the ack status for an accepted entry.
const StatusAccepted = "accepted"

// VerifyingKey is public key material for a device, owned by the trust
// resolver and copied into the verifier per request.
type VerifyingKey struct {
	Algo  string
	Key   []byte
	KeyID *string
}

// Clone returns a deep copy so verifier-side use can never alias registry
// state.
func (k *VerifyingKey) Clone() *VerifyingKey {
	out := &VerifyingKey{Algo: k.Algo, Key: append([]byte(nil), k.Key...)}
	if k.KeyID != nil {
		id := *k.KeyID
		out.KeyID = &id
	}
	return out
}

// StringPtr is a convenience for populating optional wire fields.
func StringPtr(s string) *string { return &s }
