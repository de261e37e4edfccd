package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"stagecoach/internal/fileutil"
)

// Store persists a ledger as a JSON file. Every save rewrites the whole
// file atomically under an advisory lock, so readers never observe a
// partially written plan even if the process dies mid-save.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the ledger file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted ledger. A missing file returns (nil, nil);
// a resumed session treats that as "no previous plan".
func (s *Store) Load() (*Ledger, error) {
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock ledger %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", s.path, err)
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", s.path, err)
	}
	return &l, nil
}

// Save atomically rewrites the ledger file.
func (s *Store) Save(l *Ledger) error {
	l.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	data = append(data, '\n')

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock ledger %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger %s: %w", s.path, err)
	}
	return nil
}
