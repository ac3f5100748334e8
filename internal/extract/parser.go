// Package extract repairs and parses raw model output into structured
// records.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedResponse indicates no repair produced parseable JSON.
var ErrMalformedResponse = errors.New("malformed model response")

// ErrUnexpectedShape indicates the response parsed but is neither an array
// of objects nor a lone object.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// Parser repairs raw model output and parses it into records. The optional
// schema is advisory: mismatches are logged, never fatal, since field
// semantics belong to the output layer.
type Parser struct {
	logger *slog.Logger
	schema *jsonschema.Schema
}

// NewParser creates a parser. A nil logger defaults to slog.Default();
// a nil schema disables advisory validation.
func NewParser(logger *slog.Logger, schema *jsonschema.Schema) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger, schema: schema}
}

// Parse repairs raw text into a sequence of records:
//
//  1. strip leading/trailing code fences
//  2. discard everything before the first '['
//  3. discard everything after the last ']'
//  4. parse; a lone object is wrapped in a one-element sequence
//
// Each repair step is logged. When every avenue is exhausted the text is
// rejected with ErrMalformedResponse.
func (p *Parser) Parse(raw string) ([]Record, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	text = p.stripFences(text)
	candidate, err := p.bracketTrim(text)
	if err != nil {
		return nil, err
	}

	records, err := p.decode(candidate)
	if err != nil {
		return nil, err
	}

	if p.schema != nil {
		p.validate(records)
	}
	return records, nil
}

// stripFences removes a leading ``` or ```json marker and a trailing fence.
func (p *Parser) stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	p.logger.Warn("response wrapped in code fences, stripping")

	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		head := strings.TrimSpace(text[:nl])
		if strings.EqualFold(head, "json") || head == "" {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// bracketTrim isolates the outermost JSON array, or falls back to a lone
// object when no brackets exist.
func (p *Parser) bracketTrim(text string) (string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")

	if start == -1 || end == -1 || end < start {
		if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
			p.logger.Warn("response has no array brackets, trying lone object")
			return text, nil
		}
		return "", fmt.Errorf("%w: no JSON array found", ErrMalformedResponse)
	}

	if start > 0 || end < len(text)-1 {
		p.logger.Warn("response has surrounding text, trimming to array",
			"discarded_prefix", start, "discarded_suffix", len(text)-1-end)
	}
	return text[start : end+1], nil
}

// decode parses the candidate text into records. A lone object becomes a
// one-element sequence.
func (p *Parser) decode(candidate string) ([]Record, error) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: nothing left after repair", ErrMalformedResponse)
	}

	switch trimmed[0] {
	case '[':
		var elements []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &elements); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		records := make([]Record, 0, len(elements))
		for i, el := range elements {
			el = bytes.TrimSpace(el)
			if len(el) == 0 || el[0] != '{' {
				return nil, fmt.Errorf("%w: element %d is not an object", ErrUnexpectedShape, i)
			}
			rec, err := decodeRecord(el)
			if err != nil {
				return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedResponse, i, err)
			}
			records = append(records, rec)
		}
		return records, nil

	case '{':
		rec, err := decodeRecord(json.RawMessage(trimmed))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		p.logger.Warn("model returned a lone object, wrapping in a sequence")
		return []Record{rec}, nil
	}

	return nil, fmt.Errorf("%w: response is a scalar", ErrUnexpectedShape)
}

// validate checks each record against the extraction schema and logs
// mismatches.
func (p *Parser) validate(records []Record) {
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			continue
		}
		if err := p.schema.Validate(generic); err != nil {
			p.logger.Warn("record does not match extraction schema",
				"record", i, "error", err)
		}
	}
}
