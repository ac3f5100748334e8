package main

import (
	"github.com/spf13/cobra"

	"github.com/archivista/muster/internal/watch"
)

var watchFlags struct {
	input       string
	output      string
	initialScan bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously process files as they arrive in a directory",
	Long: `Watch monitors the input directory (recursively) and runs extraction on
each new or updated file once it settles. Checkpointing applies, so a file
already processed in an earlier run is skipped.`,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVarP(&watchFlags.input, "input", "i", "", "directory to watch (required)")
	f.StringVarP(&watchFlags.output, "output", "o", "", "output directory")
	f.BoolVar(&watchFlags.initialScan, "initial-scan", false, "also process files already present")

	_ = watchCmd.MarkFlagRequired("input")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("output") {
		cfg.Run.OutputDir = watchFlags.output
	}
	// Continuous mode leans on the checkpoint to stay idempotent across
	// restarts and duplicate events.
	cfg.Run.EnableCheckpoint = true
	ctx := cmd.Context()

	runner, err := buildRunner(cfg.Run, cfg.Provider, true)
	if err != nil {
		return err
	}

	files, err := watch.Start(ctx, watch.Config{
		Root:        watchFlags.input,
		InitialScan: watchFlags.initialScan,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("watching for new files", "dir", watchFlags.input)
	for path := range files {
		if _, err := runner.ProcessFile(ctx, path); err != nil {
			// Unsupported or vanished files are per-event problems.
			logger.Error("watched file failed", "file", path, "error", err)
		}
	}
	logger.Info("watch stopped")
	return nil
}
