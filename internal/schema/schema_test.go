package schema

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbeddedDefault(t *testing.T) {
	ext, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(ext.Raw) == 0 {
		t.Error("Raw schema is empty")
	}
	if ext.Compiled == nil {
		t.Fatal("Compiled schema is nil")
	}
	if ext.Examples == "" {
		t.Error("Examples is empty")
	}

	// The default schema requires a surname.
	if err := ext.Compiled.Validate(map[string]any{"surname": "Ivanov"}); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
	if err := ext.Compiled.Validate(map[string]any{"birth_year": 1893}); err == nil {
		t.Error("record without surname should not validate")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	custom := `{"type": "object", "properties": {"id": {"type": "integer"}}}`
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	ext, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(ext.Raw) != custom {
		t.Errorf("Raw = %s", ext.Raw)
	}
}

func TestLoadBrokenSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(path, []byte(`{"type": 42}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path, ""); err == nil {
		t.Error("expected compile error for broken schema")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json"), ""); err == nil {
		t.Error("expected error for missing schema file")
	}
}
