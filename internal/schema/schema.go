// Package schema loads and compiles the extraction schema that tells the
// model what records to emit.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed assets/personnel.json assets/examples.txt
var assets embed.FS

// Extraction bundles the schema document sent to the model with its
// compiled form and optional few-shot examples.
type Extraction struct {
	// Raw is the JSON Schema document included in the prompt.
	Raw json.RawMessage

	// Compiled validates parsed records (advisory).
	Compiled *jsonschema.Schema

	// Examples is free-form few-shot text appended to the prompt.
	Examples string
}

// Load reads the schema from schemaPath, or the embedded default when the
// path is empty. A schema that does not compile is an initialization error.
func Load(schemaPath, examplesPath string) (*Extraction, error) {
	raw, err := readAsset(schemaPath, "assets/personnel.json")
	if err != nil {
		return nil, fmt.Errorf("load extraction schema: %w", err)
	}

	compiled, err := Compile(raw)
	if err != nil {
		return nil, err
	}

	examples, err := readAsset(examplesPath, "assets/examples.txt")
	if err != nil {
		return nil, fmt.Errorf("load examples: %w", err)
	}

	return &Extraction{
		Raw:      json.RawMessage(raw),
		Compiled: compiled,
		Examples: string(examples),
	}, nil
}

// Compile compiles a JSON Schema document.
func Compile(raw []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	compiled, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	return compiled, nil
}

func readAsset(path, embedded string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return assets.ReadFile(embedded)
}
