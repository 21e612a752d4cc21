// Package dedup records processed message-group fingerprints so a group is
// acted on at most once, across restarts and across processes.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/lockfile"
)

// lockWait bounds how long Record waits for the cross-process lock.
var lockWait = 5 * time.Second

// Entry describes one processed message group.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	UserID      int64     `json:"user_id"`
	Mode        string    `json:"mode"`
	ProcessedAt time.Time `json:"processed_at"`
	Summary     string    `json:"summary,omitempty"`
}

// Log is the append-only processed ledger over data/processed.json.
// Entries are never pruned; a forgotten fingerprint would let a replayed
// update mutate the KB twice.
type Log struct {
	path string
}

// NewLog returns a ledger persisted at path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// IsProcessed reports whether fp has already been recorded. Reads take no
// lock; writers replace the file atomically.
func (l *Log) IsProcessed(fp string) (bool, error) {
	doc, err := l.read()
	if err != nil {
		return false, err
	}
	_, ok := doc[fp]
	return ok, nil
}

// Lookup returns the recorded entry for fp, if any.
func (l *Log) Lookup(fp string) (Entry, bool, error) {
	doc, err := l.read()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := doc[fp]
	return e, ok, nil
}

// Record persists e under the cross-process lock. It returns false if the
// fingerprint was already present; the first writer wins and the existing
// entry is kept untouched.
func (l *Log) Record(ctx context.Context, e Entry) (bool, error) {
	if e.Fingerprint == "" {
		return false, domain.Errf(domain.KindInternal, "empty fingerprint")
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	lk, err := lockfile.Acquire(ctx, l.path+".lock")
	if err != nil {
		return false, domain.E(domain.KindInternal, "processed log busy", err)
	}
	defer lk.Unlock()

	doc, err := l.read()
	if err != nil {
		return false, err
	}
	if _, ok := doc[e.Fingerprint]; ok {
		return false, nil
	}
	doc[e.Fingerprint] = e
	if err := l.write(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Len returns the number of recorded fingerprints.
func (l *Log) Len() (int, error) {
	doc, err := l.read()
	if err != nil {
		return 0, err
	}
	return len(doc), nil
}

func (l *Log) read() (map[string]Entry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read processed log: %w", err)
	}
	doc := map[string]Entry{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse processed log: %w", err)
	}
	return doc, nil
}

func (l *Log) write(doc map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal processed log: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write processed log: %w", err)
	}
	return os.Rename(tmp, l.path)
}
