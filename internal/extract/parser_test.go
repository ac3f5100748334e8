package extract

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func mustReader(s string) io.Reader { return strings.NewReader(s) }

func TestParseRepair(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int // record count
		wantErr error
	}{
		{
			name: "clean array",
			raw:  `[{"surname": "Ivanov", "year": 1893}]`,
			want: 1,
		},
		{
			name: "json fences",
			raw:  "```json\n[{\"surname\": \"Ivanov\"}, {\"surname\": \"Petrov\"}]\n```",
			want: 2,
		},
		{
			name: "bare fences",
			raw:  "```\n[{\"surname\": \"Ivanov\"}]\n```",
			want: 1,
		},
		{
			name: "prose before and after",
			raw:  `Here are the records: [{"n": 1}, {"n": 2}] Hope this helps!`,
			want: 2,
		},
		{
			name: "lone object wrapped",
			raw:  `{"surname": "Ivanov", "year": 1893}`,
			want: 1,
		},
		{
			name: "brackets inside strings",
			raw:  `[{"note": "born [approx] 1890", "n": 1}]`,
			want: 1,
		},
		{
			name:    "no brackets at all",
			raw:     `I could not find any records in this image.`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "empty response",
			raw:     "   ",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "unbalanced garbage",
			raw:     `[{"surname": "Iva`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "array of scalars",
			raw:     `[1, 2, 3]`,
			wantErr: ErrUnexpectedShape,
		},
	}

	p := NewParser(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := p.Parse(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("got %d records, want %d", len(records), tt.want)
			}
		})
	}
}

func TestParseValues(t *testing.T) {
	p := NewParser(nil, nil)

	records, err := p.Parse(`[{"surname": "Ivanov", "year": 1893, "note": null, "height": 1.75, "alive": false}]`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	rec := records[0]

	if v, _ := rec.Get("surname"); v.Text() != "Ivanov" {
		t.Errorf("surname = %q", v.Text())
	}
	if v, _ := rec.Get("year"); func() bool { i, ok := v.Int64(); return !ok || i != 1893 }() {
		t.Errorf("year = %v, want integer 1893", v)
	}
	if v, _ := rec.Get("note"); !v.IsNull() {
		t.Error("note should be null")
	}
	// Non-integer numbers and booleans are coerced to strings.
	if v, _ := rec.Get("height"); v.Text() != "1.75" {
		t.Errorf("height = %q, want \"1.75\"", v.Text())
	}
	if v, _ := rec.Get("alive"); v.Text() != "false" {
		t.Errorf("alive = %q, want \"false\"", v.Text())
	}
}

func TestParsePreservesFieldOrder(t *testing.T) {
	p := NewParser(nil, nil)

	records, err := p.Parse(`[{"z": 1, "a": 2, "m": 3}]`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{"z", "a", "m"}
	fields := records[0].Fields()
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(fields), len(want))
	}
	for i, f := range fields {
		if f.Name != want[i] {
			t.Errorf("fields[%d] = %s, want %s", i, f.Name, want[i])
		}
	}
}

func TestRecordMarshalRoundTrip(t *testing.T) {
	p := NewParser(nil, nil)

	records, err := p.Parse(`[{"surname": "Ivanov", "year": 1893, "note": null}]`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	data, err := records[0].MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	want := `{"surname":"Ivanov","year":1893,"note":null}`
	if string(data) != want {
		t.Errorf("marshalled = %s, want %s", data, want)
	}
}

func TestParseAdvisorySchema(t *testing.T) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", mustReader(`{
		"type": "object",
		"required": ["surname"],
		"properties": {"surname": {"type": "string"}}
	}`)); err != nil {
		t.Fatal(err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		t.Fatal(err)
	}

	p := NewParser(nil, schema)

	// Missing required field: advisory only, parse still succeeds.
	records, err := p.Parse(`[{"year": 1893}]`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}
