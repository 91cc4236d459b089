// Package audit keeps the append-only record of every processed entry and
// its resulting ack status. The verifier never reads it; it exists for
// operators and offline review. Records are content-addressed so exported
// evidence can be checked for tampering.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/lesaloon/taric/pkg/contracts"
)

// Record is one processed-entry log line.
type Record struct {
	RecordID   string              `json:"record_id"`
	Status     string              `json:"status"`
	Entry      *contracts.LogEntry `json:"entry"`
	RecordedAt int64               `json:"recorded_at"`
	// RecordHash is the SHA-256 of the JCS-canonicalized record with this
	// field empty.
	RecordHash string `json:"record_hash"`
}

// EntryLog is the processed-entry sink contract.
type EntryLog interface {
	// Record appends one processed entry with its resulting status.
	Record(ctx context.Context, entry *contracts.LogEntry, status string, recordedAt int64) error
	// Entries returns all records, oldest first. The file log keeps append
	// order; the SQL logs order by recorded_at (whole seconds) and then by
	// record_id, so records sharing a second are not in append order.
	Entries(ctx context.Context) ([]Record, error)
}

// newRecord builds a content-addressed record.
func newRecord(entry *contracts.LogEntry, status string, recordedAt int64) (*Record, error) {
	rec := &Record{
		RecordID:   uuid.New().String(),
		Status:     status,
		Entry:      entry,
		RecordedAt: recordedAt,
	}
	h, err := hashRecord(rec)
	if err != nil {
		return nil, err
	}
	rec.RecordHash = h
	return rec, nil
}

// hashRecord computes the record's content address: SHA-256 over the
// JCS-canonical JSON of the record with record_hash cleared.
func hashRecord(rec *Record) (string, error) {
	unhashed := *rec
	unhashed.RecordHash = ""
	raw, err := json.Marshal(&unhashed)
	if err != nil {
		return "", fmt.Errorf("audit: marshal record: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyRecord re-derives a record's content address and reports whether it
// matches. Used by export verification.
func VerifyRecord(rec *Record) (bool, error) {
	h, err := hashRecord(rec)
	if err != nil {
		return false, err
	}
	return h == rec.RecordHash, nil
}
