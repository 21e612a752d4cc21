// Package lockfile implements cross-process advisory locking via exclusive
// lock files carrying the holder's PID. A lock whose holder is no longer
// alive is considered stale and reclaimed.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLocked is returned by TryAcquire when a live holder owns the lock.
var ErrLocked = errors.New("lock held by another process")

// Data is the JSON structure stored in a lock file.
type Data struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held advisory lock. Release with Unlock.
type Lock struct {
	path     string
	released bool
}

// pollInterval is how often a blocked Acquire retries. Override in tests.
var pollInterval = 100 * time.Millisecond

// Acquire takes the lock at path, waiting until it is free or ctx is done.
// A stale lock file (holder process dead) is removed and retried.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	for {
		ok, err := tryAcquire(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{path: path}, nil
		}

		if stale(path) {
			// Best-effort removal; a racing holder re-creating the file is
			// handled by the next tryAcquire.
			_ = os.Remove(path)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// TryAcquire takes the lock without waiting. Returns ErrLocked when a live
// holder owns it; a stale lock is reclaimed.
func TryAcquire(path string) (*Lock, error) {
	ok, err := tryAcquire(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		if stale(path) {
			_ = os.Remove(path)
			if ok, err = tryAcquire(path); err == nil && ok {
				return &Lock{path: path}, nil
			}
		}
		return nil, ErrLocked
	}
	return &Lock{path: path}, nil
}

func tryAcquire(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating lock %s: %w", path, err)
	}
	defer f.Close()

	data := Data{PID: os.Getpid(), StartedAt: time.Now()}
	b, err := json.Marshal(data)
	if err != nil {
		os.Remove(path)
		return false, fmt.Errorf("marshaling lock data: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("writing lock %s: %w", path, err)
	}
	return true, nil
}

// stale reports whether the lock file at path exists but its holder is dead.
// Unreadable or malformed lock files are treated as stale.
func stale(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return !os.IsNotExist(err)
	}
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return true
	}
	return !IsProcessAlive(d.PID)
}

// Read returns the holder data recorded at path.
func Read(path string) (Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Data{}, err
	}
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return Data{}, fmt.Errorf("parsing lock %s: %w", path, err)
	}
	return d, nil
}

// Unlock releases the lock. Safe to call more than once.
func (l *Lock) Unlock() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }
