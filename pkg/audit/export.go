package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrLogNotConfigured is returned when export is invoked without a backing
// entry log.
var ErrLogNotConfigured = errors.New("audit: entry log not configured")

// EvidencePack is the result of an export: a zip of the processed-entry
// records plus a manifest, addressed by checksum.
type EvidencePack struct {
	GeneratedAt int64  `json:"generated_at"`
	RecordCount int    `json:"record_count"`
	Checksum    string `json:"checksum"`
	Location    string `json:"location,omitempty"`
}

// Exporter builds evidence packs from an entry log.
type Exporter struct {
	log EntryLog
}

// NewExporter creates an exporter over the given log.
func NewExporter(l EntryLog) *Exporter {
	return &Exporter{log: l}
}

// GeneratePack zips all records with a manifest and returns the bytes and
// their SHA-256 checksum. Records whose content address no longer verifies
// are flagged in the manifest rather than silently included.
func (e *Exporter) GeneratePack(ctx context.Context, generatedAt int64) ([]byte, *EvidencePack, error) {
	if e.log == nil {
		return nil, nil, ErrLogNotConfigured
	}
	records, err := e.log.Entries(ctx)
	if err != nil {
		return nil, nil, err
	}

	var damaged []string
	for i := range records {
		ok, err := VerifyRecord(&records[i])
		if err != nil || !ok {
			damaged = append(damaged, records[i].RecordID)
		}
	}

	recordsJSON, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("audit: marshal records: %w", err)
	}
	manifest := map[string]any{
		"generated_at":    generatedAt,
		"record_count":    len(records),
		"damaged_records": damaged,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("records.json")
	if err != nil {
		return nil, nil, fmt.Errorf("audit: zip records: %w", err)
	}
	_, _ = f.Write(recordsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, nil, fmt.Errorf("audit: zip manifest: %w", err)
	}
	_, _ = f.Write(manifestJSON)

	if err := w.Close(); err != nil {
		return nil, nil, fmt.Errorf("audit: close zip: %w", err)
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	pack := &EvidencePack{
		GeneratedAt: generatedAt,
		RecordCount: len(records),
		Checksum:    hex.EncodeToString(sum[:]),
	}
	return zipBytes, pack, nil
}
