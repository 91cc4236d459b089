package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/lesaloon/taric/pkg/contracts"
)

// PostgresEntryLog keeps processed-entry records in PostgreSQL, for
// deployments where several verifier processes feed one log.
type PostgresEntryLog struct {
	db *sql.DB
}

// OpenPostgresEntryLog connects with a lib/pq DSN and migrates.
func OpenPostgresEntryLog(dsn string) (*PostgresEntryLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres: %w", err)
	}
	return NewPostgresEntryLog(db)
}

// NewPostgresEntryLog wraps an existing handle and migrates.
func NewPostgresEntryLog(db *sql.DB) (*PostgresEntryLog, error) {
	l := &PostgresEntryLog{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PostgresEntryLog) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS processed_entries (
		record_id   TEXT PRIMARY KEY,
		device_id   TEXT NOT NULL,
		entry_hash  TEXT NOT NULL,
		nonce       BIGINT NOT NULL,
		status      TEXT NOT NULL,
		recorded_at BIGINT NOT NULL,
		entry       JSONB NOT NULL,
		record_hash TEXT NOT NULL
	)`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

func (l *PostgresEntryLog) Record(ctx context.Context, entry *contracts.LogEntry, status string, recordedAt int64) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.RecordID, entry.DeviceID, entry.EntryHash, int64(entry.Nonce),
		rec.Status, rec.RecordedAt, entryJSON, rec.RecordHash,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

func (l *PostgresEntryLog) Entries(ctx context.Context) ([]Record, error) {
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
func (l *PostgresEntryLog) Close() error { return l.db.Close() }

var _ EntryLog = (*PostgresEntryLog)(nil)
