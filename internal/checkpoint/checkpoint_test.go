package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	s := New(path, true, nil)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() on missing file error = %v", err)
	}

	for _, p := range []string{"/in/b.txt", "/in/a.png"} {
		if err := s.MarkDone(p); err != nil {
			t.Fatalf("MarkDone(%s) error = %v", p, err)
		}
	}

	// A fresh store sees the persisted set.
	s2 := New(path, true, nil)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !s2.Contains("/in/a.png") || !s2.Contains("/in/b.txt") {
		t.Error("persisted paths missing after reload")
	}
	if s2.Contains("/in/c.jpg") {
		t.Error("Contains() reported an unrecorded path")
	}

	// File format: a sorted JSON array of strings.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		t.Fatalf("checkpoint file is not a JSON array: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/in/a.png" || paths[1] != "/in/b.txt" {
		t.Errorf("paths = %v, want sorted [/in/a.png /in/b.txt]", paths)
	}
}

func TestStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(path, true, nil)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() on empty file error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestStoreCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte(`{"not": "an array"`), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(path, true, nil)
	if err := s.Load(); err == nil {
		t.Error("expected error for corrupted checkpoint file")
	}
}

func TestStoreDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	s := New(path, false, nil)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.MarkDone("/in/a.png"); err != nil {
		t.Fatalf("MarkDone() error = %v", err)
	}
	if s.Contains("/in/a.png") {
		t.Error("disabled store should report nothing processed")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled store should not create a file")
	}
}

func TestStoreConcurrentMarkDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := New(path, true, nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.MarkDone(filepath.Join("/in", string(rune('a'+i%26)), "file.png")); err != nil {
				t.Errorf("MarkDone() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	// Every distinct path survives and the file stays parseable.
	s2 := New(path, true, nil)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load() after concurrent writes error = %v", err)
	}
	if s2.Len() != 26 {
		t.Errorf("Len() = %d, want 26", s2.Len())
	}
}
