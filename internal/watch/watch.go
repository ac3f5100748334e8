// Package watch emits newly arrived input files for continuous extraction.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Allowed extensions (lowercase, without '.').
var defaultExts = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"bmp":  {},
	"tiff": {},
	"webp": {},
	"txt":  {},
}

// Config configures a directory watcher.
type Config struct {
	// Root is watched recursively; newly created subdirectories are added.
	Root string

	// AllowedExts overrides the supported extension set.
	AllowedExts map[string]struct{}

	// InitialScan emits files already present under Root at startup.
	InitialScan bool

	// Debounce coalesces rapid create/write bursts for the same file, so
	// a file still being copied in is emitted once, after it settles.
	Debounce time.Duration

	Logger *slog.Logger
}

// Start watches Root and returns a channel of file paths ready for
// processing. The channel closes when ctx is cancelled.
func Start(ctx context.Context, cfg Config) (<-chan string, error) {
	if cfg.Root == "" {
		return nil, errors.New("watch: no root directory provided")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = defaultExts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	files := make(chan string, 256)

	err = filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if cfg.InitialScan && allowed(path, cfg.AllowedExts) {
			select {
			case files <- path:
			default:
				cfg.Logger.Warn("watch queue full, dropping initial file", "file", path)
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return nil, err
	}

	go run(ctx, w, cfg, files)
	return files, nil
}

func run(ctx context.Context, w *fsnotify.Watcher, cfg Config, files chan<- string) {
	defer close(files)
	defer w.Close()

	var debounce *time.Timer
	var due <-chan time.Time
	pending := map[string]struct{}{}

	flush := func() {
		for p := range pending {
			select {
			case files <- p:
			default:
				cfg.Logger.Warn("watch queue full, dropping event", "file", p)
			}
			delete(pending, p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-due:
			flush()
			due = nil

		case e, ok := <-w.Events:
			if !ok {
				return
			}
			if e.Op.Has(fsnotify.Create) {
				// New subdirectories join the watch set; Add on a plain
				// file fails and is ignored.
				if err := w.Add(e.Name); err == nil {
					cfg.Logger.Debug("watching new directory", "path", e.Name)
				}
			}
			if allowed(e.Name, cfg.AllowedExts) && e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				pending[e.Name] = struct{}{}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.NewTimer(cfg.Debounce)
				due = debounce.C
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			cfg.Logger.Error("watcher error", "error", err)
		}
	}
}

func allowed(path string, exts map[string]struct{}) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := exts[ext]
	return ok
}
