package sink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/xuri/excelize/v2"

	"github.com/archivista/muster/internal/extract"
)

const sheetName = "Records"

// ExcelConfig configures an ExcelSink.
type ExcelConfig struct {
	// OutputDir receives per-file and combined workbooks.
	OutputDir string

	// WriteRetries bounds retry attempts on workbook saves. Defaults to 3.
	WriteRetries int

	Logger *slog.Logger
}

// ExcelSink writes one timestamped workbook per source file plus a combined
// workbook on Flush. Write failures are retried, then reported to the
// caller, who logs and continues; a lost artifact never fails the run.
type ExcelSink struct {
	cfg      ExcelConfig
	logger   *slog.Logger
	combined []extract.Record
	columns  *columnSet
	stamp    string
	stems    map[string]int
}

// NewExcel creates an Excel sink, creating the output directory if needed.
func NewExcel(cfg ExcelConfig) (*ExcelSink, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = 3
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &ExcelSink{
		cfg:     cfg,
		logger:  cfg.Logger,
		columns: newColumnSet(),
		stamp:   time.Now().Format("20060102_150405"),
		stems:   make(map[string]int),
	}, nil
}

// Write saves one source file's records to its own workbook and adds them
// to the combined view.
func (s *ExcelSink) Write(sourcePath string, records []extract.Record) error {
	s.combined = append(s.combined, records...)
	s.columns.add(records)

	if len(records) == 0 {
		s.logger.Warn("no records extracted, skipping workbook", "source", sourcePath)
		return nil
	}

	// Sources from different directories can share a base name (recursive
	// scans, staged PDF pages); a sequence suffix keeps a later write from
	// clobbering an earlier workbook.
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	s.stems[stem]++
	name := fmt.Sprintf("%s_%s.xlsx", stem, s.stamp)
	if n := s.stems[stem]; n > 1 {
		name = fmt.Sprintf("%s_%s_%d.xlsx", stem, s.stamp, n)
	}
	out := filepath.Join(s.cfg.OutputDir, name)

	cols := newColumnSet()
	cols.add(records)

	if err := s.save(out, cols.names, records); err != nil {
		return fmt.Errorf("write workbook for %s: %w", sourcePath, err)
	}
	s.logger.Info("workbook written", "path", out, "records", len(records))
	return nil
}

// Combined returns every record written so far, in write order.
func (s *ExcelSink) Combined() []extract.Record {
	return s.combined
}

// Flush writes the combined workbook and returns its path. With no records
// it writes nothing and returns an empty path.
func (s *ExcelSink) Flush() (string, error) {
	if len(s.combined) == 0 {
		s.logger.Warn("no records in run, skipping combined workbook")
		return "", nil
	}

	out := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("combined_output_%s.xlsx", s.stamp))
	if err := s.save(out, s.columns.names, s.combined); err != nil {
		return "", fmt.Errorf("write combined workbook: %w", err)
	}
	s.logger.Info("combined workbook written", "path", out, "records", len(s.combined))
	return out, nil
}

// save builds and persists one workbook, retrying transient save failures.
func (s *ExcelSink) save(path string, columns []string, records []extract.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for i, name := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, name)
	}

	for r, rec := range records {
		for c, name := range columns {
			v, ok := rec.Get(name)
			if !ok || v.IsNull() {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheetName, cell, v.Any())
		}
	}

	if len(columns) > 0 {
		last, _ := excelize.ColumnNumberToName(len(columns))
		_ = f.SetColWidth(sheetName, "A", last, 18)
	}

	return retry.Do(
		func() error { return f.SaveAs(path) },
		retry.Attempts(uint(s.cfg.WriteRetries)),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

var _ Sink = (*ExcelSink)(nil)
