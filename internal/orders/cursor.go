package orders

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const cursorFileName = "poll-orders.cursor"

// CursorStore persists the poll cursor as a single text file, written by
// whole-value replacement so a crash mid-write leaves the prior value
// intact. The store holds an exclusive file lock for its lifetime: only
// one poller per cursor file may run at a time.
type CursorStore struct {
	path string
	lock *flock.Flock
}

// NewCursorStore opens the cursor store under dir, creating it if needed,
// and acquires the poller lock. It fails if another process already holds
// the lock.
func NewCursorStore(dir string) (*CursorStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, cursorFileName)
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire poller lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another poller is already running for %s", path)
	}

	return &CursorStore{path: path, lock: lock}, nil
}

// Load returns the persisted cursor, or "" when none has been written
// yet ("start from the beginning").
func (s *CursorStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Save replaces the persisted cursor atomically.
func (s *CursorStore) Save(cursor string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, cursorFileName+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(cursor); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Close releases the poller lock.
func (s *CursorStore) Close() error {
	return s.lock.Unlock()
}
