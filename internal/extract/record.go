package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is the closed scalar variant a record field can hold: null, string,
// or integer. Non-integer numbers, booleans and nested structures from the
// model are coerced to their string representation.
type Value struct {
	kind valueKind
	str  string
	num  int64
}

type valueKind int

const (
	valueNull valueKind = iota
	valueString
	valueInt
)

// Null returns the null value.
func Null() Value { return Value{kind: valueNull} }

// String returns a string value.
func String(s string) Value { return Value{kind: valueString, str: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: valueInt, num: i} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == valueNull }

// Int64 returns the integer value and whether the value is an integer.
func (v Value) Int64() (int64, bool) { return v.num, v.kind == valueInt }

// Text renders the value for display; null renders as the empty string.
func (v Value) Text() string {
	switch v.kind {
	case valueString:
		return v.str
	case valueInt:
		return strconv.FormatInt(v.num, 10)
	}
	return ""
}

// Any returns the value as nil, string or int64, for sinks that take
// dynamic cell values.
func (v Value) Any() any {
	switch v.kind {
	case valueString:
		return v.str
	case valueInt:
		return v.num
	}
	return nil
}

// MarshalJSON renders the value in its native JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case valueString:
		return json.Marshal(v.str)
	case valueInt:
		return json.Marshal(v.num)
	}
	return []byte("null"), nil
}

// Field is one named cell of a record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered mapping of field name to Value. Field order follows
// the model's output so sinks can lay out columns the way the schema
// presented them.
type Record struct {
	fields []Field
}

// Fields returns the record's fields in original order.
func (r Record) Fields() []Field { return r.fields }

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Get returns the named field's value.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set appends or replaces the named field.
func (r *Record) Set(name string, v Value) {
	for i, f := range r.fields {
		if f.Name == name {
			r.fields[i].Value = v
			return
		}
	}
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

// MarshalJSON renders the record as an object preserving field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeRecord reads one JSON object into a Record, preserving key order.
func decodeRecord(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Record{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Record{}, fmt.Errorf("expected object, got %v", tok)
	}

	var rec Record
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Record{}, err
		}
		key := keyTok.(string)

		var rawVal json.RawMessage
		if err := dec.Decode(&rawVal); err != nil {
			return Record{}, err
		}
		rec.fields = append(rec.fields, Field{Name: key, Value: coerceValue(rawVal)})
	}
	return rec, nil
}

// coerceValue maps one JSON value onto the closed Value variant.
func coerceValue(raw json.RawMessage) Value {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Null()
	}
	switch trimmed[0] {
	case 'n':
		return Null()
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return String(string(trimmed))
		}
		return String(s)
	case 't', 'f':
		return String(string(trimmed))
	case '{', '[':
		// Nested structures are kept as their raw JSON text.
		return String(string(trimmed))
	default:
		if i, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
			return Int(i)
		}
		return String(string(trimmed))
	}
}
