package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/deixis/suiterun/internal/run"
)

// DiskStore writes snapshots as JSON files to a lazily-created temp
// directory. Nothing is read back after a restart.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a new DiskStore. The underlying temp directory
// is created lazily on the first Save.
func NewDiskStore() *DiskStore {
	return &DiskStore{}
}

// Save writes a snapshot as a JSON file to disk.
func (s *DiskStore) Save(status *run.Status) error {
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", status.ID, err)
	}
	path := filepath.Join(dir, status.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run %s: %w", status.ID, err)
	}
	return nil
}

// Load reads a snapshot from disk.
func (s *DiskStore) Load(runID string) (*run.Status, error) {
	if !validID(runID) {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	dir := s.dir
	s.mu.Unlock()
	if dir == "" {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(dir, runID+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var status run.Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	return &status, nil
}

// Dir returns the backing directory, or "" before the first Save.
func (s *DiskStore) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Close removes the backing directory.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.dir = ""
	return err
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "suiterun-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating history directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}

// validID rejects ids that could escape the store directory.
func validID(id string) bool {
	return id != "" && filepath.Base(id) == id && id != "." && id != ".."
}
