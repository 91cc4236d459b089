package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/lesaloon/taric/pkg/contracts"
)

// SQLiteEntryLog keeps processed-entry records in a SQLite table.
type SQLiteEntryLog struct {
	db *sql.DB
}

// OpenSQLiteEntryLog opens (or creates) the database at path and migrates.
func OpenSQLiteEntryLog(path string) (*SQLiteEntryLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite %q: %w", path, err)
	}
	return NewSQLiteEntryLog(db)
}

// NewSQLiteEntryLog wraps an existing handle and migrates.
func NewSQLiteEntryLog(db *sql.DB) (*SQLiteEntryLog, error) {
	l := &SQLiteEntryLog{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteEntryLog) migrate() error {
	stmts := []string{`
	CREATE TABLE IF NOT EXISTS processed_entries (
		record_id   TEXT PRIMARY KEY,
		device_id   TEXT NOT NULL,
		entry_hash  TEXT NOT NULL,
		nonce       INTEGER NOT NULL,
		status      TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		entry       JSON NOT NULL,
		record_hash TEXT NOT NULL
	)`, `
	CREATE INDEX IF NOT EXISTS idx_processed_entries_device
		ON processed_entries (device_id, recorded_at)`}
	for _, q := range stmts {
		if _, err := l.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("audit: migrate: %w", err)
		}
	}
	return nil
}

func (l *SQLiteEntryLog) Record(ctx context.Context, entry *contracts.LogEntry, status string, recordedAt int64) error {
	rec, err := newRecord(entry, status, recordedAt)
	if err != nil {
		return err
	}
	entryJSON, err := json.Marshal(rec.Entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO processed_entries
			(record_id, device_id, entry_hash, nonce, status, recorded_at, entry, record_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, entry.DeviceID, entry.EntryHash, entry.Nonce,
		rec.Status, rec.RecordedAt, entryJSON, rec.RecordHash,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

func (l *SQLiteEntryLog) Entries(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT record_id, status, recorded_at, entry, record_hash
		FROM processed_entries
		ORDER BY recorded_at, record_id`)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var entryJSON []byte
		if err := rows.Scan(&rec.RecordID, &rec.Status, &rec.RecordedAt, &entryJSON, &rec.RecordHash); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		var entry contracts.LogEntry
		if err := json.Unmarshal(entryJSON, &entry); err != nil {
			return nil, fmt.Errorf("audit: decode entry: %w", err)
		}
		rec.Entry = &entry
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate records: %w", err)
	}
	return out, nil
}

// Close closes the underlying handle.
func (l *SQLiteEntryLog) Close() error { return l.db.Close() }

var _ EntryLog = (*SQLiteEntryLog)(nil)
