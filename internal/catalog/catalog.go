// Package catalog discovers and reads the input files of an extraction run.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrNotADirectory is returned when a scan root is not a directory.
var ErrNotADirectory = errors.New("input path is not a directory")

// ErrUnsupportedType is returned for a file whose extension is not handled.
var ErrUnsupportedType = errors.New("unsupported file type")

// Kind classifies a discovered file.
type Kind int

const (
	KindImage Kind = iota
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindText:
		return "text"
	}
	return "unknown"
}

// imageExts are the supported scanned-page formats. Anything else except
// .txt is ignored during discovery.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".webp": true,
}

// FileDescriptor identifies one input file. Immutable once discovered;
// identity is the canonical Path string.
type FileDescriptor struct {
	Path string
	Kind Kind
	MIME string
}

// Catalog scans directories for eligible input files.
type Catalog struct {
	logger *slog.Logger
}

// New creates a catalog. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{logger: logger}
}

// Scan returns every supported file under root in lexicographic path order.
// A root that exists but contains no supported files yields an empty slice
// and a warning, not an error.
func (c *Catalog) Scan(root string, recursive bool) ([]FileDescriptor, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat input path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, root)
	}

	var files []FileDescriptor
	if recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if fd, ok := describe(path); ok {
				files = append(files, fd)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk input directory: %w", err)
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read input directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if fd, ok := describe(filepath.Join(root, entry.Name())); ok {
				files = append(files, fd)
			}
		}
	}

	// Stable ordering keeps checkpoint/resume behavior reproducible.
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	if len(files) == 0 {
		c.logger.Warn("no supported files found", "root", root, "recursive", recursive)
	}
	return files, nil
}

// Describe classifies a single file path, for single-file runs.
func (c *Catalog) Describe(path string) (FileDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("stat input path: %w", err)
	}
	if info.IsDir() {
		return FileDescriptor{}, fmt.Errorf("expected a file: %s", path)
	}
	fd, ok := describe(path)
	if !ok {
		return FileDescriptor{}, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
	return fd, nil
}

func describe(path string) (FileDescriptor, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return FileDescriptor{Path: abs, Kind: KindImage, MIME: mimeFor(ext)}, true
	case ext == ".txt":
		return FileDescriptor{Path: abs, Kind: KindText}, true
	}
	return FileDescriptor{}, false
}

func mimeFor(ext string) string {
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "image/jpeg"
}

// Read loads an image file's raw bytes.
func (c *Catalog) Read(fd FileDescriptor) ([]byte, error) {
	data, err := os.ReadFile(fd.Path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// ReadText loads a text file as UTF-8, falling back to Windows-1251 for
// legacy OCR exports.
func (c *Catalog) ReadText(fd FileDescriptor) (string, error) {
	data, err := os.ReadFile(fd.Path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode text file: %w", err)
	}
	c.logger.Debug("decoded text file as windows-1251", "path", fd.Path)
	return string(decoded), nil
}
