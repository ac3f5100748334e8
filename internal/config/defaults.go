package config

import (
	"github.com/spf13/viper"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:            "gemini",
			Region:          "us-central1",
			Model:           "gemini-2.5-flash",
			Temperature:     0.1,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 65535,
			CandidateCount:  1,
			ThinkingEnabled: false,
			ThinkingBudget:  8192,
			RPM:             60,
			MaxRetries:      3,
			RetryDelayMilli: 500,
		},
		Run: RunConfig{
			OutputDir:      "output",
			CheckpointFile: "checkpoint.json",
			CalculateCost:  true,
		},
		LogLevel: "info",
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.project_id", d.Provider.ProjectID)
	v.SetDefault("provider.region", d.Provider.Region)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.temperature", d.Provider.Temperature)
	v.SetDefault("provider.top_p", d.Provider.TopP)
	v.SetDefault("provider.top_k", d.Provider.TopK)
	v.SetDefault("provider.max_output_tokens", d.Provider.MaxOutputTokens)
	v.SetDefault("provider.candidate_count", d.Provider.CandidateCount)
	v.SetDefault("provider.thinking_enabled", d.Provider.ThinkingEnabled)
	v.SetDefault("provider.thinking_budget", d.Provider.ThinkingBudget)
	v.SetDefault("provider.rpm", d.Provider.RPM)
	v.SetDefault("provider.max_retries", d.Provider.MaxRetries)
	v.SetDefault("provider.retry_delay_ms", d.Provider.RetryDelayMilli)

	v.SetDefault("run.output_dir", d.Run.OutputDir)
	v.SetDefault("run.recursive", d.Run.Recursive)
	v.SetDefault("run.parallel", d.Run.Parallel)
	v.SetDefault("run.workers", d.Run.Workers)
	v.SetDefault("run.enable_checkpoint", d.Run.EnableCheckpoint)
	v.SetDefault("run.checkpoint_file", d.Run.CheckpointFile)
	v.SetDefault("run.log_thinking", d.Run.LogThinking)
	v.SetDefault("run.calculate_cost", d.Run.CalculateCost)
	v.SetDefault("run.stage_pdfs", d.Run.StagePDFs)
	v.SetDefault("run.schema_file", d.Run.SchemaFile)
	v.SetDefault("run.examples_file", d.Run.ExamplesFile)
	v.SetDefault("run.pricing_file", d.Run.PricingFile)

	v.SetDefault("log_level", d.LogLevel)
}
