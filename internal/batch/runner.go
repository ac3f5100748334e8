// Package batch orchestrates an extraction run: discovery, dispatch,
// response parsing, cost aggregation, checkpointing and sink output.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archivista/muster/internal/catalog"
	"github.com/archivista/muster/internal/checkpoint"
	"github.com/archivista/muster/internal/cost"
	"github.com/archivista/muster/internal/extract"
	"github.com/archivista/muster/internal/providers"
	"github.com/archivista/muster/internal/schema"
	"github.com/archivista/muster/internal/sink"
)

// Config wires a Runner's collaborators.
type Config struct {
	Catalog    *catalog.Catalog
	Factory    providers.Factory
	Parser     *extract.Parser
	Pricing    *cost.Table
	Checkpoint *checkpoint.Store
	Sink       sink.Sink
	Schema     *schema.Extraction

	// Thinking enables extended reasoning on recognizer calls.
	Thinking bool

	// LogThinking logs per-call thinking token consumption.
	LogThinking bool

	// CalculateCost prices each call against the pricing table. When off,
	// usage is still aggregated but the cost total stays zero.
	CalculateCost bool

	// Parallel selects the worker-pool path. Workers of 0 auto-detects
	// from the CPU count.
	Parallel bool
	Workers  int

	Logger *slog.Logger
}

// Runner executes batch extraction runs. It exclusively owns the run's
// metadata, file-status ledger and cost ledger; in the parallel path all
// mutations of those funnel through the collection loop.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	meta   RunMetadata
	status *FileStatus
	ledger *cost.Ledger
}

// RunStats is the outcome of one run, handed to report generation.
type RunStats struct {
	Meta         RunMetadata
	Status       *FileStatus
	Cost         cost.Summary
	CombinedPath string
}

// outcome carries one file's result from a worker to the collection point.
type outcome struct {
	fd      catalog.FileDescriptor
	records []extract.Record
	usage   *providers.Usage
	model   string
	// called is set once the recognizer was invoked, so files that fail
	// earlier (read error, unsupported type) never count as API calls.
	called bool
	err    error
}

// NewRunner validates the configuration and creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Catalog == nil || cfg.Factory == nil || cfg.Parser == nil ||
		cfg.Checkpoint == nil || cfg.Sink == nil || cfg.Schema == nil {
		return nil, fmt.Errorf("batch: incomplete runner configuration")
	}
	if cfg.Pricing == nil {
		cfg.Pricing = cost.DefaultTable(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: cfg.Logger}, nil
}

// ProcessDirectory scans root and processes every discovered file.
func (r *Runner) ProcessDirectory(ctx context.Context, root string, recursive bool) (*RunStats, error) {
	files, err := r.cfg.Catalog.Scan(root, recursive)
	if err != nil {
		return nil, err
	}
	return r.ProcessFiles(ctx, files)
}

// ProcessFile processes a single input file.
func (r *Runner) ProcessFile(ctx context.Context, path string) (*RunStats, error) {
	fd, err := r.cfg.Catalog.Describe(path)
	if err != nil {
		return nil, err
	}
	return r.ProcessFiles(ctx, []catalog.FileDescriptor{fd})
}

// ProcessFiles runs the full pipeline over an already-discovered file list.
// Run state is reset on entry, so a Runner can execute several runs in
// sequence. Per-file failures never abort the run; the returned error is
// non-nil only for initialization failures or interruption.
func (r *Runner) ProcessFiles(ctx context.Context, files []catalog.FileDescriptor) (*RunStats, error) {
	r.meta = RunMetadata{
		RunID:      uuid.NewString(),
		TotalFiles: len(files),
		Parallel:   r.cfg.Parallel,
		StartedAt:  time.Now(),
	}
	r.status = newFileStatus()
	r.ledger = cost.NewLedger()

	r.logger.Info("run started",
		"run_id", r.meta.RunID,
		"files", len(files),
		"parallel", r.cfg.Parallel,
		"checkpoint", r.cfg.Checkpoint.Enabled())

	var runErr error
	if r.cfg.Parallel {
		runErr = r.runParallel(ctx, files)
	} else {
		runErr = r.runSequential(ctx, files)
	}

	stats := r.finalize()
	if runErr != nil {
		return stats, runErr
	}
	return stats, nil
}

// runSequential processes files one at a time in catalog order. Each
// file's full life-cycle completes before the next begins.
func (r *Runner) runSequential(ctx context.Context, files []catalog.FileDescriptor) error {
	rec, err := r.cfg.Factory(ctx)
	if err != nil {
		return fmt.Errorf("build recognizer: %w", err)
	}
	defer closeRecognizer(rec)
	r.meta.Model = rec.Model()

	for _, fd := range files {
		if ctx.Err() != nil {
			r.logger.Warn("interrupted, abandoning remaining files")
			return ctx.Err()
		}
		if r.cfg.Checkpoint.Contains(fd.Path) {
			r.skip(fd.Path)
			continue
		}
		r.collect(r.safeProcess(ctx, rec, fd))
	}
	return nil
}

// runParallel processes the non-skipped files with a bounded worker pool.
// Each worker builds its own recognizer; shared state is touched only in
// the collection loop below.
func (r *Runner) runParallel(ctx context.Context, files []catalog.FileDescriptor) error {
	var pending []catalog.FileDescriptor
	for _, fd := range files {
		if r.cfg.Checkpoint.Contains(fd.Path) {
			r.skip(fd.Path)
		} else {
			pending = append(pending, fd)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(pending) {
		workers = len(pending)
	}
	r.meta.Workers = workers
	r.logger.Info("worker pool started", "workers", workers, "pending", len(pending))

	// Submission follows catalog order; buffered channels let workers run
	// ahead and keep an interrupt from leaking blocked goroutines.
	jobs := make(chan catalog.FileDescriptor, len(pending))
	results := make(chan outcome, len(pending))
	for _, fd := range pending {
		r.status.markDispatched(fd.Path)
		jobs <- fd
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			rec, err := r.cfg.Factory(ctx)
			if err != nil {
				for fd := range jobs {
					results <- outcome{fd: fd, err: fmt.Errorf("build recognizer: %w", err)}
				}
				return
			}
			defer closeRecognizer(rec)
			for fd := range jobs {
				if ctx.Err() != nil {
					return
				}
				results <- r.safeProcess(ctx, rec, fd)
			}
		}(i)
	}

	for collected := 0; collected < len(pending); collected++ {
		select {
		case o := <-results:
			r.collect(o)
		case <-ctx.Done():
			// In-flight files stay unresolved and are retried next run.
			r.logger.Warn("interrupted, abandoning in-flight files",
				"unresolved", len(r.status.InProgress()))
			wg.Wait()
			return ctx.Err()
		}
	}
	wg.Wait()
	return nil
}

// safeProcess runs one file's pipeline, converting a panic into a Failed
// outcome so the pool keeps draining.
func (r *Runner) safeProcess(ctx context.Context, rec providers.Recognizer, fd catalog.FileDescriptor) (o outcome) {
	defer func() {
		if p := recover(); p != nil {
			o = outcome{fd: fd, model: rec.Model(), err: fmt.Errorf("worker panic: %v", p)}
		}
	}()
	return r.processOne(ctx, rec, fd)
}

// processOne reads, recognizes and parses a single file. Stateless apart
// from the recognizer handed in, so it is safe inside pool workers.
func (r *Runner) processOne(ctx context.Context, rec providers.Recognizer, fd catalog.FileDescriptor) outcome {
	o := outcome{fd: fd, model: rec.Model()}

	req := &providers.Request{
		Schema:    r.cfg.Schema.Raw,
		Examples:  r.cfg.Schema.Examples,
		Thinking:  r.cfg.Thinking,
		RequestID: fd.Path,
	}
	switch fd.Kind {
	case catalog.KindImage:
		data, err := r.cfg.Catalog.Read(fd)
		if err != nil {
			o.err = err
			return o
		}
		req.Image = data
		req.MIME = fd.MIME
	case catalog.KindText:
		text, err := r.cfg.Catalog.ReadText(fd)
		if err != nil {
			o.err = err
			return o
		}
		req.Text = text
	default:
		o.err = fmt.Errorf("%w: %s", catalog.ErrUnsupportedType, fd.Path)
		return o
	}

	o.called = true
	result, err := rec.Recognize(ctx, req)
	if result != nil {
		// Usage survives failed calls (e.g. content blocked after tokens
		// were counted) so cost accounting stays complete.
		o.usage = result.Usage
	}
	if err != nil {
		o.err = fmt.Errorf("recognize: %w", err)
		return o
	}

	records, err := r.cfg.Parser.Parse(result.Text)
	if err != nil {
		o.err = fmt.Errorf("parse response: %w", err)
		return o
	}
	o.records = records
	return o
}

// skip marks a checkpointed file.
func (r *Runner) skip(path string) {
	r.logger.Info("skipping already-processed file", "file", path)
	r.status.markSkipped(path)
	r.meta.Skipped++
}

// collect folds one outcome into the run state. This is the single point
// where the ledger, status, sink and checkpoint are mutated.
func (r *Runner) collect(o outcome) {
	if r.meta.Model == "" && o.model != "" {
		r.meta.Model = o.model
	}

	if o.called {
		var price float64
		if r.cfg.CalculateCost && o.usage != nil {
			price = r.cfg.Pricing.Price(o.model, o.usage)
		}
		r.ledger.Add(o.usage, price)
	}

	if r.cfg.LogThinking && o.usage != nil && o.usage.ThinkingEnabled {
		r.logger.Info("thinking usage",
			"file", o.fd.Path,
			"thinking_tokens", o.usage.ThinkingTokens,
			"budget", o.usage.ThinkingBudget,
			"budget_exceeded", o.usage.BudgetExceeded)
	}

	if o.err != nil {
		r.logger.Error("file failed", "file", o.fd.Path, "error", o.err)
		r.status.markFailed(o.fd.Path, o.err.Error())
		r.meta.Failed++
		return
	}

	// Persistence failures are logged and ignored: the file still counts
	// as succeeded, at worst it is reprocessed on the next run.
	if err := r.cfg.Sink.Write(o.fd.Path, o.records); err != nil {
		r.logger.Error("sink write failed", "file", o.fd.Path, "error", err)
	}
	if err := r.cfg.Checkpoint.MarkDone(o.fd.Path); err != nil {
		r.logger.Error("checkpoint update failed", "file", o.fd.Path, "error", err)
	}

	r.status.markSucceeded(o.fd.Path)
	r.meta.Succeeded++
	r.logger.Info("file processed", "file", o.fd.Path, "records", len(o.records))
}

// finalize closes out run metadata and flushes the sink.
func (r *Runner) finalize() *RunStats {
	r.meta.FinishedAt = time.Now()
	r.meta.Elapsed = r.meta.FinishedAt.Sub(r.meta.StartedAt)

	combined, err := r.cfg.Sink.Flush()
	if err != nil {
		r.logger.Error("combined output write failed", "error", err)
	}

	summary := r.ledger.Summarize(r.cfg.Pricing)
	r.logger.Info("run finished",
		"run_id", r.meta.RunID,
		"succeeded", r.meta.Succeeded,
		"failed", r.meta.Failed,
		"skipped", r.meta.Skipped,
		"elapsed", r.meta.Elapsed.Round(time.Millisecond),
		"cost_usd", summary.TotalUSD)

	return &RunStats{
		Meta:         r.meta,
		Status:       r.status,
		Cost:         summary,
		CombinedPath: combined,
	}
}

func closeRecognizer(rec providers.Recognizer) {
	if c, ok := rec.(io.Closer); ok {
		c.Close()
	}
}
