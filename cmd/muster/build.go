package main

import (
	"context"
	"fmt"
	"time"

	"github.com/archivista/muster/internal/batch"
	"github.com/archivista/muster/internal/catalog"
	"github.com/archivista/muster/internal/checkpoint"
	"github.com/archivista/muster/internal/config"
	"github.com/archivista/muster/internal/cost"
	"github.com/archivista/muster/internal/extract"
	"github.com/archivista/muster/internal/providers"
	"github.com/archivista/muster/internal/schema"
	"github.com/archivista/muster/internal/sink"
)

// buildFactory returns a recognizer factory for the configured provider.
// Parallel workers call the factory independently, so each gets its own
// client.
func buildFactory(pc config.ProviderConfig) (providers.Factory, error) {
	switch pc.Name {
	case providers.MockName:
		m := providers.NewMock()
		m.ModelName = pc.Model
		return providers.MockFactory(m), nil
	case providers.GeminiName, "":
		return func(ctx context.Context) (providers.Recognizer, error) {
			return providers.NewGemini(ctx, providers.GeminiConfig{
				ProjectID:       pc.ProjectID,
				Region:          pc.Region,
				ModelName:       pc.Model,
				Temperature:     pc.Temperature,
				TopP:            pc.TopP,
				TopK:            pc.TopK,
				MaxOutputTokens: pc.MaxOutputTokens,
				CandidateCount:  pc.CandidateCount,
				ThinkingBudget:  pc.ThinkingBudget,
				RPM:             pc.RPM,
				MaxRetries:      pc.MaxRetries,
				RetryDelay:      time.Duration(pc.RetryDelayMilli) * time.Millisecond,
				Logger:          logger,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Name)
	}
}

// buildRunner wires the full pipeline from resolved configuration. All
// failures here are initialization errors and abort the command.
func buildRunner(rc config.RunConfig, pc config.ProviderConfig, resume bool) (*batch.Runner, error) {
	ext, err := schema.Load(rc.SchemaFile, rc.ExamplesFile)
	if err != nil {
		return nil, err
	}

	pricing, err := cost.LoadTable(rc.PricingFile, logger)
	if err != nil {
		return nil, err
	}

	store := checkpoint.New(rc.CheckpointFile, rc.EnableCheckpoint, logger)
	if resume {
		if err := store.Load(); err != nil {
			return nil, err
		}
	}

	excel, err := sink.NewExcel(sink.ExcelConfig{OutputDir: rc.OutputDir, Logger: logger})
	if err != nil {
		return nil, err
	}

	factory, err := buildFactory(pc)
	if err != nil {
		return nil, err
	}

	return batch.NewRunner(batch.Config{
		Catalog:       catalog.New(logger),
		Factory:       factory,
		Parser:        extract.NewParser(logger, ext.Compiled),
		Pricing:       pricing,
		Checkpoint:    store,
		Sink:          excel,
		Schema:        ext,
		Thinking:      pc.ThinkingEnabled,
		LogThinking:   rc.LogThinking,
		CalculateCost: rc.CalculateCost,
		Parallel:      rc.Parallel,
		Workers:       rc.Workers,
		Logger:        logger,
	})
}
