// Package ingest stages PDF inputs as page images so they can feed the
// file catalog alongside plain images and text files.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"
)

// Stager extracts embedded page images from PDFs into a staging directory.
type Stager struct {
	logger *slog.Logger
}

// NewStager creates a stager. A nil logger defaults to slog.Default().
func NewStager(logger *slog.Logger) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{logger: logger}
}

// StageDir stages every PDF directly under inputDir into a fresh
// subdirectory of stagingRoot and returns that subdirectory. Per-PDF
// failures are logged and skipped; only an empty input set or an unusable
// staging root is an error.
func (s *Stager) StageDir(ctx context.Context, inputDir, stagingRoot string) (string, int, error) {
	pdfs, err := filepath.Glob(filepath.Join(inputDir, "*.pdf"))
	if err != nil {
		return "", 0, fmt.Errorf("glob pdfs: %w", err)
	}
	sort.Strings(pdfs)
	if len(pdfs) == 0 {
		s.logger.Warn("no PDFs to stage", "dir", inputDir)
		return "", 0, nil
	}

	stagingDir := filepath.Join(stagingRoot, "staged_"+uuid.NewString()[:8])
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create staging directory: %w", err)
	}

	staged := 0
	for _, pdf := range pdfs {
		if ctx.Err() != nil {
			return stagingDir, staged, ctx.Err()
		}
		pages, err := s.Stage(ctx, pdf, stagingDir)
		if err != nil {
			s.logger.Error("pdf staging failed", "file", pdf, "error", err)
			continue
		}
		s.logger.Info("pdf staged", "file", filepath.Base(pdf), "pages", pages)
		staged++
	}
	return stagingDir, staged, nil
}

// Stage extracts one PDF's page images into a per-PDF subdirectory of
// stagingDir. Pages are extracted concurrently, bounded by the CPU count.
// Returns the number of pages that yielded at least one image.
func (s *Stager) Stage(ctx context.Context, pdfPath, stagingDir string) (int, error) {
	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	if pageCount == 0 {
		return 0, nil
	}

	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	outDir := filepath.Join(stagingDir, stem)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create pdf staging directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for page := 1; page <= pageCount; page++ {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := api.ExtractImagesFile(pdfPath, outDir, []string{strconv.Itoa(page)}, nil); err != nil {
				return fmt.Errorf("extract page %d: %w", page, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return 0, fmt.Errorf("read staging directory: %w", err)
	}
	if len(entries) == 0 {
		// Vector-only PDFs carry no embedded images to extract.
		s.logger.Warn("pdf yielded no page images", "file", pdfPath)
	}
	return len(entries), nil
}
