// Package entries persists linked accounts ("config entries"), one per kid.
package entries

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	// ErrAlreadyConfigured is returned when the kid is already linked.
	ErrAlreadyConfigured = errors.New("entries: already configured")
	// ErrNotFound is returned for an unknown entry id.
	ErrNotFound = errors.New("entries: not found")
)

// Data is the stored account configuration of an entry.
type Data struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	KidID    string `yaml:"kid_id" json:"kid_id"`
	KidName  string `yaml:"kid_name" json:"kid_name"`
}

// Entry is one linked kid.
type Entry struct {
	ID        string    `yaml:"id" json:"id"`
	Title     string    `yaml:"title" json:"title"`
	UniqueID  string    `yaml:"unique_id" json:"unique_id"`
	Data      Data      `yaml:"data" json:"data"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// NewEntry builds an entry keyed on the kid id.
func NewEntry(data Data) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Title:     data.KidName + " Activities",
		UniqueID:  data.KidID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

type file struct {
	Entries []Entry `yaml:"entries"`
}

// Store keeps entries in a YAML file. An empty path keeps them in memory.
type Store struct {
	path string
	mu   sync.Mutex
	mem  []Entry
}

// Open returns a store backed by path.
func Open(path string) *Store {
	return &Store{path: path}
}

// List returns all entries.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	err := s.withLock(false, func(f *file) error {
		out = append(out, f.Entries...)
		return nil
	})
	return out, err
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (Entry, error) {
	entries, err := s.List()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Configured reports whether an entry with the unique id exists.
func (s *Store) Configured(uniqueID string) (bool, error) {
	entries, err := s.List()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.UniqueID == uniqueID {
			return true, nil
		}
	}
	return false, nil
}

// Add stores a new entry. A second entry for the same kid is rejected.
func (s *Store) Add(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withLock(true, func(f *file) error {
		for _, existing := range f.Entries {
			if existing.UniqueID == e.UniqueID {
				return fmt.Errorf("%w: kid %s", ErrAlreadyConfigured, e.UniqueID)
			}
		}
		f.Entries = append(f.Entries, e)
		return nil
	})
}

// Remove deletes the entry with the given id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withLock(true, func(f *file) error {
		for i, e := range f.Entries {
			if e.ID == id {
				f.Entries = append(f.Entries[:i], f.Entries[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}

// withLock loads the file under a file lock, runs fn and, for writes,
// saves the result. Callers hold s.mu.
func (s *Store) withLock(write bool, fn func(f *file) error) error {
	if s.path == "" {
		f := file{Entries: append([]Entry(nil), s.mem...)}
		if err := fn(&f); err != nil {
			return err
		}
		if write {
			s.mem = f.Entries
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("entries: ensure dir: %w", err)
	}
	lock := flock.New(s.path + ".lock")
	if write {
		if err := lock.Lock(); err != nil {
			return fmt.Errorf("entries: lock: %w", err)
		}
	} else if err := lock.RLock(); err != nil {
		return fmt.Errorf("entries: lock: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck // released on close anyway

	f, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&f); err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.save(f)
}

func (s *Store) load() (file, error) {
	var f file
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("entries: read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("entries: parse %s: %w", s.path, err)
	}
	return f, nil
}

func (s *Store) save(f file) error {
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("entries: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("entries: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("entries: rename %s: %w", tmp, err)
	}
	return nil
}
