package batch

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/archivista/muster/internal/catalog"
	"github.com/archivista/muster/internal/checkpoint"
	"github.com/archivista/muster/internal/cost"
	"github.com/archivista/muster/internal/extract"
	"github.com/archivista/muster/internal/providers"
	"github.com/archivista/muster/internal/schema"
	"github.com/archivista/muster/internal/sink"
)

// threeFileDir builds the canonical test directory: a.png with a clean
// two-record response, b.txt whose recognizer call fails, c.jpg with a
// fenced one-record response.
func threeFileDir(t *testing.T) (dir string, mock *providers.Mock, paths map[string]string) {
	t.Helper()
	dir = t.TempDir()

	paths = make(map[string]string)
	for _, name := range []string{"a.png", "b.txt", "c.jpg"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("content"), 0o644); err != nil {
			t.Fatal(err)
		}
		abs, _ := filepath.Abs(p)
		paths[name] = abs
	}

	mock = providers.NewMock()
	mock.PromptTokens = 1000
	mock.OutputTokens = 500
	mock.Responses = map[string]string{
		paths["a.png"]: `[{"surname": "Ivanov", "year": 1893}, {"surname": "Petrov", "year": 1895}]`,
		paths["c.jpg"]: "```json\n[{\"surname\": \"Sidorov\"}]\n```",
	}
	mock.FailRequests = map[string]error{
		paths["b.txt"]: errors.New("api unavailable"),
	}
	return dir, mock, paths
}

func testConfig(t *testing.T, mock *providers.Mock, cp *checkpoint.Store, mem *sink.Memory, parallel bool) Config {
	t.Helper()
	ext, err := schema.Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil {
		cp = checkpoint.New(filepath.Join(t.TempDir(), "cp.json"), false, nil)
	}
	return Config{
		Catalog:       catalog.New(nil),
		Factory:       providers.MockFactory(mock),
		Parser:        extract.NewParser(nil, nil),
		Pricing:       cost.DefaultTable(nil),
		Checkpoint:    cp,
		Sink:          mem,
		Schema:        ext,
		CalculateCost: true,
		Parallel:      parallel,
		Workers:       2,
	}
}

func sorted(in []string) map[string]bool {
	m := make(map[string]bool, len(in))
	for _, s := range in {
		m[s] = true
	}
	return m
}

func TestRunnerThreeFileScenario(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			dir, mock, paths := threeFileDir(t)
			mem := sink.NewMemory()

			r, err := NewRunner(testConfig(t, mock, nil, mem, parallel))
			if err != nil {
				t.Fatal(err)
			}
			stats, err := r.ProcessDirectory(context.Background(), dir, false)
			if err != nil {
				t.Fatalf("ProcessDirectory() error = %v", err)
			}

			if stats.Meta.TotalFiles != 3 {
				t.Errorf("TotalFiles = %d, want 3", stats.Meta.TotalFiles)
			}
			succ := sorted(stats.Status.Successful)
			if len(succ) != 2 || !succ[paths["a.png"]] || !succ[paths["c.jpg"]] {
				t.Errorf("Successful = %v, want a.png and c.jpg", stats.Status.Successful)
			}
			if len(stats.Status.Failed) != 1 || stats.Status.Failed[0] != paths["b.txt"] {
				t.Errorf("Failed = %v, want b.txt", stats.Status.Failed)
			}
			if got := len(mem.Combined()); got != 3 {
				t.Errorf("combined records = %d, want 3", got)
			}
			if stats.Cost.TotalUSD <= 0 {
				t.Errorf("TotalUSD = %v, want > 0", stats.Cost.TotalUSD)
			}
			if !mem.Flushed() {
				t.Error("sink was not flushed at run end")
			}

			// Partition invariant.
			total := stats.Meta.Succeeded + stats.Meta.Failed + stats.Meta.Skipped
			if total != stats.Meta.TotalFiles {
				t.Errorf("succeeded+failed+skipped = %d, want %d", total, stats.Meta.TotalFiles)
			}
		})
	}
}

func TestRunnerResume(t *testing.T) {
	dir, mock, paths := threeFileDir(t)

	cpPath := filepath.Join(t.TempDir(), "cp.json")
	seed := checkpoint.New(cpPath, true, nil)
	if err := seed.MarkDone(paths["a.png"]); err != nil {
		t.Fatal(err)
	}

	cp := checkpoint.New(cpPath, true, nil)
	if err := cp.Load(); err != nil {
		t.Fatal(err)
	}
	mem := sink.NewMemory()

	r, err := NewRunner(testConfig(t, mock, cp, mem, false))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.ProcessDirectory(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("ProcessDirectory() error = %v", err)
	}

	if len(stats.Status.Skipped) != 1 || stats.Status.Skipped[0] != paths["a.png"] {
		t.Errorf("Skipped = %v, want a.png", stats.Status.Skipped)
	}
	if !sorted(stats.Status.Successful)[paths["c.jpg"]] {
		t.Errorf("Successful = %v, want c.jpg", stats.Status.Successful)
	}
	if len(stats.Status.Failed) != 1 {
		t.Errorf("Failed = %v, want b.txt", stats.Status.Failed)
	}

	// TotalFiles counts discovered files, including skipped ones.
	if stats.Meta.TotalFiles != 3 {
		t.Errorf("TotalFiles = %d, want 3", stats.Meta.TotalFiles)
	}
	if got := stats.Meta.Succeeded + stats.Meta.Failed + stats.Meta.Skipped; got != 3 {
		t.Errorf("partition = %d, want 3", got)
	}

	// The skipped file's recognizer was never called.
	if mock.RequestCount() != 2 {
		t.Errorf("RequestCount = %d, want 2", mock.RequestCount())
	}
}

func TestRunnerCheckpointIdempotence(t *testing.T) {
	dir, mock, _ := threeFileDir(t)
	// Make b.txt succeed so every file checkpoints.
	mock.FailRequests = nil

	cpPath := filepath.Join(t.TempDir(), "cp.json")

	run := func() *RunStats {
		cp := checkpoint.New(cpPath, true, nil)
		if err := cp.Load(); err != nil {
			t.Fatal(err)
		}
		r, err := NewRunner(testConfig(t, mock, cp, sink.NewMemory(), false))
		if err != nil {
			t.Fatal(err)
		}
		stats, err := r.ProcessDirectory(context.Background(), dir, false)
		if err != nil {
			t.Fatal(err)
		}
		return stats
	}

	first := run()
	if first.Meta.Succeeded != 3 {
		t.Fatalf("first run Succeeded = %d, want 3", first.Meta.Succeeded)
	}

	second := run()
	if second.Meta.Skipped != 3 || second.Meta.Succeeded != 0 {
		t.Errorf("second run skipped=%d succeeded=%d, want 3/0",
			second.Meta.Skipped, second.Meta.Succeeded)
	}
}

func TestRunnerCostEquality(t *testing.T) {
	runCost := func(parallel bool) float64 {
		dir, mock, _ := threeFileDir(t)
		r, err := NewRunner(testConfig(t, mock, nil, sink.NewMemory(), parallel))
		if err != nil {
			t.Fatal(err)
		}
		stats, err := r.ProcessDirectory(context.Background(), dir, false)
		if err != nil {
			t.Fatal(err)
		}
		return stats.Cost.TotalUSD
	}

	seq := runCost(false)
	par := runCost(true)
	if math.Abs(seq-par) > 1e-12 {
		t.Errorf("sequential cost %v != parallel cost %v", seq, par)
	}
	if seq <= 0 {
		t.Errorf("cost = %v, want > 0", seq)
	}
}

func TestRunnerBlockedCallStillPriced(t *testing.T) {
	dir, mock, paths := threeFileDir(t)
	mock.FailRequests = nil
	mock.BlockRequests = map[string]string{paths["b.txt"]: "SAFETY"}

	r, err := NewRunner(testConfig(t, mock, nil, sink.NewMemory(), false))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.ProcessDirectory(context.Background(), dir, false)
	if err != nil {
		t.Fatal(err)
	}

	if len(stats.Status.Failed) != 1 {
		t.Fatalf("Failed = %v, want b.txt only", stats.Status.Failed)
	}
	// The blocked call reported usage, so all three calls contribute tokens.
	if stats.Cost.Calls != 3 {
		t.Errorf("Calls = %d, want 3", stats.Cost.Calls)
	}
	if stats.Cost.PromptTokens != 3000 {
		t.Errorf("PromptTokens = %d, want 3000", stats.Cost.PromptTokens)
	}
}

func TestRunnerCallsExcludePreRecognizerFailures(t *testing.T) {
	_, mock, paths := threeFileDir(t)

	// ghost.png fails at read, before any recognizer call.
	files := []catalog.FileDescriptor{
		{Path: paths["a.png"], Kind: catalog.KindImage, MIME: "image/png"},
		{Path: filepath.Join(t.TempDir(), "ghost.png"), Kind: catalog.KindImage, MIME: "image/png"},
	}

	r, err := NewRunner(testConfig(t, mock, nil, sink.NewMemory(), false))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.ProcessFiles(context.Background(), files)
	if err != nil {
		t.Fatalf("ProcessFiles() error = %v", err)
	}

	if stats.Meta.Succeeded != 1 || stats.Meta.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 1/1", stats.Meta.Succeeded, stats.Meta.Failed)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
	}
	if stats.Cost.Calls != 1 {
		t.Errorf("Calls = %d, want 1 (read failure is not an API call)", stats.Cost.Calls)
	}
}

// panicky wraps a recognizer and panics on a chosen request.
type panicky struct {
	providers.Recognizer
	panicOn string
}

func (p *panicky) Recognize(ctx context.Context, req *providers.Request) (*providers.Result, error) {
	if req.RequestID == p.panicOn {
		panic("recognizer blew up")
	}
	return p.Recognizer.Recognize(ctx, req)
}

func TestRunnerPanicIsolation(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			dir, mock, paths := threeFileDir(t)
			mock.FailRequests = nil

			cfg := testConfig(t, mock, nil, sink.NewMemory(), parallel)
			cfg.Factory = func(ctx context.Context) (providers.Recognizer, error) {
				return &panicky{Recognizer: mock, panicOn: paths["b.txt"]}, nil
			}

			r, err := NewRunner(cfg)
			if err != nil {
				t.Fatal(err)
			}
			stats, err := r.ProcessDirectory(context.Background(), dir, false)
			if err != nil {
				t.Fatalf("ProcessDirectory() error = %v", err)
			}

			if len(stats.Status.Failed) != 1 || stats.Status.Failed[0] != paths["b.txt"] {
				t.Errorf("Failed = %v, want b.txt", stats.Status.Failed)
			}
			if stats.Meta.Succeeded != 2 {
				t.Errorf("Succeeded = %d, want 2", stats.Meta.Succeeded)
			}
		})
	}
}

func TestRunnerSinkFailureNonFatal(t *testing.T) {
	dir, mock, _ := threeFileDir(t)
	mock.FailRequests = nil

	mem := sink.NewMemory()
	mem.FailWrites = true

	r, err := NewRunner(testConfig(t, mock, nil, mem, false))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.ProcessDirectory(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("ProcessDirectory() error = %v", err)
	}
	if stats.Meta.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3 despite sink failures", stats.Meta.Succeeded)
	}
}

func TestRunnerSingleFile(t *testing.T) {
	dir, mock, paths := threeFileDir(t)
	_ = dir

	r, err := NewRunner(testConfig(t, mock, nil, sink.NewMemory(), false))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.ProcessFile(context.Background(), paths["a.png"])
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if stats.Meta.TotalFiles != 1 || stats.Meta.Succeeded != 1 {
		t.Errorf("stats = %+v", stats.Meta)
	}
}

func TestRunnerBadDirectory(t *testing.T) {
	_, mock, _ := threeFileDir(t)

	r, err := NewRunner(testConfig(t, mock, nil, sink.NewMemory(), false))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ProcessDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"), false); err == nil {
		t.Error("expected error for missing directory")
	}
}
