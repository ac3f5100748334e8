// Package checkpoint persists the set of already-processed files so a run
// can resume without reprocessing.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store tracks processed file paths in a JSON-array file. All
// read-modify-write cycles hold an internal mutex and writes go through a
// temp file plus rename, so a crash never leaves the file unparsable.
// A disabled store is a no-op that reports nothing processed.
type Store struct {
	mu      sync.Mutex
	path    string
	enabled bool
	done    map[string]bool
	logger  *slog.Logger
}

// New creates a store backed by path. When enabled is false the store
// ignores all operations.
func New(path string, enabled bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    path,
		enabled: enabled,
		done:    make(map[string]bool),
		logger:  logger,
	}
}

// Enabled reports whether checkpointing is active.
func (s *Store) Enabled() bool { return s.enabled }

// Load reads the checkpoint file. A missing or empty file is an empty set.
// A corrupted file is an error so the operator can decide whether to delete
// it rather than silently reprocess everything.
func (s *Store) Load() error {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("no checkpoint file, starting fresh", "path", s.path)
			return nil
		}
		return fmt.Errorf("read checkpoint file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return fmt.Errorf("parse checkpoint file %s: %w", s.path, err)
	}
	for _, p := range paths {
		s.done[p] = true
	}
	s.logger.Info("checkpoint loaded", "path", s.path, "entries", len(paths))
	return nil
}

// Contains reports whether the path is already recorded as processed.
func (s *Store) Contains(path string) bool {
	if !s.enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[path]
}

// MarkDone records a path and persists the whole set. Persistence failure
// is returned for logging but leaves the in-memory set updated; at worst
// the file is reprocessed on the next run.
func (s *Store) MarkDone(path string) error {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done[path] = true
	return s.persist()
}

// Paths returns the recorded set, sorted.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.done))
	for p := range s.done {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of recorded paths.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}

// persist writes the set atomically. Must be called with the lock held.
func (s *Store) persist() error {
	paths := make([]string, 0, len(s.done))
	for p := range s.done {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	data, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint file: %w", err)
	}
	return nil
}
