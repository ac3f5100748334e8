// Package sink persists extracted records per source file and as a
// combined view across the run.
package sink

import (
	"github.com/archivista/muster/internal/extract"
)

// Sink accumulates structured records. Write is called once per processed
// source file; Flush persists the combined view and returns its path.
// Sinks are single-writer: the scheduler calls them only from its
// collection point.
type Sink interface {
	Write(sourcePath string, records []extract.Record) error
	Combined() []extract.Record
	Flush() (string, error)
}

// columnSet tracks the union of record field names in first-seen order, so
// spreadsheet columns follow the order the model emitted them.
type columnSet struct {
	names []string
	seen  map[string]bool
}

func newColumnSet() *columnSet {
	return &columnSet{seen: make(map[string]bool)}
}

func (c *columnSet) add(records []extract.Record) {
	for _, rec := range records {
		for _, f := range rec.Fields() {
			if !c.seen[f.Name] {
				c.seen[f.Name] = true
				c.names = append(c.names, f.Name)
			}
		}
	}
}
