package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/lesaloon/taric/pkg/contracts"
)

// FileEntryLog appends records as JSON lines to a single file.
type FileEntryLog struct {
	mu   sync.Mutex
	path string
}

// NewFileEntryLog creates the log file if needed and returns the log.
func NewFileEntryLog(path string) (*FileEntryLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	_ = f.Close()
	return &FileEntryLog{path: path}, nil
}

func (l *FileEntryLog) Record(ctx context.Context, entry *contracts.LogEntry, status string, recordedAt int64) error {
	rec, err := newRecord(entry, status, recordedAt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open %q: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (l *FileEntryLog) Entries(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("audit: open %q: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()

	var out []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			// Torn tail line from a crashed writer; stop at the damage.
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ EntryLog = (*FileEntryLog)(nil)
