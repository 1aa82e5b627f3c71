// internal/state/lastrun.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileLastRunStore keeps cron last-run times in a JSON file mapping job name
// to unix milliseconds. The file is guarded by a lock file so several
// processes can share it.
type FileLastRunStore struct {
	path  string
	mu    sync.Mutex
	flock *flock.Flock
}

// NewFileLastRunStore creates a store backed by the file at path.
func NewFileLastRunStore(path string) *FileLastRunStore {
	return &FileLastRunStore{
		path:  path,
		flock: flock.New(path + ".lock"),
	}
}

// Path returns the file path used by this store.
func (s *FileLastRunStore) Path() string {
	return s.path
}

func (s *FileLastRunStore) LastRun(_ context.Context, name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock(); err != nil {
		return time.Time{}, err
	}
	defer s.flock.Unlock()

	runs, err := s.load()
	if err != nil {
		return time.Time{}, err
	}
	ms, ok := runs[name]
	if !ok {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func (s *FileLastRunStore) SetLastRun(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock(); err != nil {
		return err
	}
	defer s.flock.Unlock()

	runs, err := s.load()
	if err != nil {
		return err
	}
	runs[name] = at.UnixMilli()
	return s.save(runs)
}

// All returns every recorded last run.
func (s *FileLastRunStore) All(_ context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.flock.Unlock()

	runs, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(runs))
	for name, ms := range runs {
		out[name] = time.UnixMilli(ms)
	}
	return out, nil
}

func (s *FileLastRunStore) lock() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create last run dir: %w", err)
	}
	if err := s.flock.Lock(); err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	return nil
}

// load reads the JSON file. A missing file is an empty map.
func (s *FileLastRunStore) load() (map[string]int64, error) {
	runs := make(map[string]int64)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return runs, nil
		}
		return nil, fmt.Errorf("read last run file: %w", err)
	}
	if len(data) == 0 {
		return runs, nil
	}
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("unmarshal last runs: %w", err)
	}
	return runs, nil
}

// save writes the map to disk using atomic write (temp file + rename).
func (s *FileLastRunStore) save(runs map[string]int64) error {
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal last runs: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp last run file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp last run file: %w", err)
	}
	return nil
}
