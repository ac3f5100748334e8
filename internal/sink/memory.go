package sink

import (
	"errors"

	"github.com/archivista/muster/internal/extract"
)

// Memory is an in-memory Sink for tests.
type Memory struct {
	// PerFile maps source path to the records written for it.
	PerFile map[string][]extract.Record

	// WriteOrder lists source paths in the order Write was called.
	WriteOrder []string

	// FailWrites makes every Write return an error.
	FailWrites bool

	combined []extract.Record
	flushed  bool
}

// NewMemory creates an empty memory sink.
func NewMemory() *Memory {
	return &Memory{PerFile: make(map[string][]extract.Record)}
}

// Write records the batch in memory.
func (m *Memory) Write(sourcePath string, records []extract.Record) error {
	if m.FailWrites {
		return errors.New("memory sink configured to fail")
	}
	m.PerFile[sourcePath] = append(m.PerFile[sourcePath], records...)
	m.WriteOrder = append(m.WriteOrder, sourcePath)
	m.combined = append(m.combined, records...)
	return nil
}

// Combined returns every record written so far.
func (m *Memory) Combined() []extract.Record {
	return m.combined
}

// Flush marks the sink flushed.
func (m *Memory) Flush() (string, error) {
	m.flushed = true
	return "", nil
}

// Flushed reports whether Flush was called.
func (m *Memory) Flushed() bool { return m.flushed }

var _ Sink = (*Memory)(nil)
