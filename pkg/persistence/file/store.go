package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const dirPerm = 0o755

// store is the shared JSON-file helper behind the repositories. One file per
// record under root/<collection>/<id>.json, guarded by a single lock per
// collection.
type store struct {
	dir string
	mu  sync.RWMutex
}

func newStore(root, collection string) *store {
	return &store{dir: filepath.Join(root, collection)}
}

func (s *store) write(id string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", id, err)
	}

	return os.WriteFile(s.path(id), data, 0o600)
}

// read decodes the record into out. Returns fs.ErrNotExist when absent.
func (s *store) read(id string, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}

func (s *store) remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// ids lists the record IDs present in the collection.
func (s *store) ids() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}

		ids = append(ids, name[:len(name)-len(".json")])
	}

	return ids, nil
}

func (s *store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
