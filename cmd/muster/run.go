package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/archivista/muster/internal/batch"
	"github.com/archivista/muster/internal/catalog"
	"github.com/archivista/muster/internal/ingest"
	"github.com/archivista/muster/internal/report"
)

var runFlags struct {
	input            string
	output           string
	recursive        bool
	parallel         bool
	workers          int
	enableCheckpoint bool
	checkpointFile   string
	resume           bool
	logThinking      bool
	calculateCost    bool
	stagePDFs        bool
	schemaFile       string
	examplesFile     string
	pricingFile      string
	model            string
	provider         string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a directory (or single file) of scanned inputs",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.input, "input", "i", "", "input directory or file (required)")
	f.StringVarP(&runFlags.output, "output", "o", "", "output directory")
	f.BoolVarP(&runFlags.recursive, "recursive", "r", false, "scan input directory recursively")
	f.BoolVarP(&runFlags.parallel, "parallel", "p", false, "process files with a worker pool")
	f.IntVarP(&runFlags.workers, "workers", "w", 0, "worker count (0 = number of CPUs)")
	f.BoolVar(&runFlags.enableCheckpoint, "enable-checkpoint", false, "record processed files to the checkpoint file")
	f.StringVar(&runFlags.checkpointFile, "checkpoint-file", "", "checkpoint file path")
	f.BoolVar(&runFlags.resume, "resume", false, "skip files already recorded in the checkpoint file")
	f.BoolVar(&runFlags.logThinking, "log-thinking", false, "log per-call thinking token usage")
	f.BoolVar(&runFlags.calculateCost, "calculate-cost", false, "price calls against the pricing table")
	f.BoolVar(&runFlags.stagePDFs, "stage-pdfs", false, "extract page images from PDFs in the input directory first")
	f.StringVar(&runFlags.schemaFile, "schema", "", "extraction schema file (JSON Schema)")
	f.StringVar(&runFlags.examplesFile, "examples", "", "few-shot examples file")
	f.StringVar(&runFlags.pricingFile, "pricing", "", "pricing table file (YAML)")
	f.StringVar(&runFlags.model, "model", "", "model identifier override")
	f.StringVar(&runFlags.provider, "provider", "", "recognizer backend: gemini or mock")

	_ = runCmd.MarkFlagRequired("input")
}

// applyRunFlags overlays changed flags onto the loaded configuration.
func applyRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.Run.OutputDir = runFlags.output
	}
	if f.Changed("recursive") {
		cfg.Run.Recursive = runFlags.recursive
	}
	if f.Changed("parallel") {
		cfg.Run.Parallel = runFlags.parallel
	}
	if f.Changed("workers") {
		cfg.Run.Workers = runFlags.workers
	}
	if f.Changed("enable-checkpoint") {
		cfg.Run.EnableCheckpoint = runFlags.enableCheckpoint
	}
	if f.Changed("checkpoint-file") {
		cfg.Run.CheckpointFile = runFlags.checkpointFile
	}
	if f.Changed("log-thinking") {
		cfg.Run.LogThinking = runFlags.logThinking
	}
	if f.Changed("calculate-cost") {
		cfg.Run.CalculateCost = runFlags.calculateCost
	}
	if f.Changed("stage-pdfs") {
		cfg.Run.StagePDFs = runFlags.stagePDFs
	}
	if f.Changed("schema") {
		cfg.Run.SchemaFile = runFlags.schemaFile
	}
	if f.Changed("examples") {
		cfg.Run.ExamplesFile = runFlags.examplesFile
	}
	if f.Changed("pricing") {
		cfg.Run.PricingFile = runFlags.pricingFile
	}
	if f.Changed("model") {
		cfg.Provider.Model = runFlags.model
	}
	if f.Changed("provider") {
		cfg.Provider.Name = runFlags.provider
	}
	// Resuming without checkpointing enabled would silently reprocess
	// everything, so --resume implies recording too.
	if runFlags.resume {
		cfg.Run.EnableCheckpoint = true
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	ctx := cmd.Context()

	info, err := os.Stat(runFlags.input)
	if err != nil {
		return fmt.Errorf("input path: %w", err)
	}

	runner, err := buildRunner(cfg.Run, cfg.Provider, runFlags.resume)
	if err != nil {
		return err
	}

	var stats *batch.RunStats
	if info.IsDir() {
		stats, err = processDirectory(ctx, runner, runFlags.input)
	} else {
		stats, err = runner.ProcessFile(ctx, runFlags.input)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted, partial results flushed")
			err = nil
		} else {
			return err
		}
	}

	if stats != nil {
		if _, rerr := report.Generate(cfg.Run.OutputDir, stats, logger); rerr != nil {
			logger.Error("report generation failed", "error", rerr)
		}
	}
	return nil
}

// processDirectory scans the input directory, optionally staging PDFs
// first so their page images join the run.
func processDirectory(ctx context.Context, runner *batch.Runner, input string) (*batch.RunStats, error) {
	cat := catalog.New(logger)
	files, err := cat.Scan(input, cfg.Run.Recursive)
	if err != nil {
		return nil, err
	}

	if cfg.Run.StagePDFs {
		stagingDir, staged, err := ingest.NewStager(logger).StageDir(ctx, input, cfg.Run.OutputDir)
		if err != nil {
			return nil, err
		}
		if staged > 0 {
			stagedFiles, err := cat.Scan(stagingDir, true)
			if err != nil {
				return nil, err
			}
			files = append(files, stagedFiles...)
		}
	}

	return runner.ProcessFiles(ctx, files)
}
