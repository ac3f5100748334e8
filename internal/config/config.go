// Package config loads application configuration from file, environment
// and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProviderConfig selects and tunes the recognizer backend.
type ProviderConfig struct {
	// Name selects the backend: "gemini" or "mock".
	Name string `mapstructure:"name" yaml:"name"`

	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	Region    string `mapstructure:"region" yaml:"region"`
	Model     string `mapstructure:"model" yaml:"model"`

	Temperature     float32 `mapstructure:"temperature" yaml:"temperature"`
	TopP            float32 `mapstructure:"top_p" yaml:"top_p"`
	TopK            int32   `mapstructure:"top_k" yaml:"top_k"`
	MaxOutputTokens int32   `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	CandidateCount  int32   `mapstructure:"candidate_count" yaml:"candidate_count"`

	ThinkingEnabled bool `mapstructure:"thinking_enabled" yaml:"thinking_enabled"`
	ThinkingBudget  int  `mapstructure:"thinking_budget" yaml:"thinking_budget"`

	RPM             int `mapstructure:"rpm" yaml:"rpm"`
	MaxRetries      int `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayMilli int `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// RunConfig holds batch-run settings. CLI flags override these.
type RunConfig struct {
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	Recursive bool   `mapstructure:"recursive" yaml:"recursive"`

	Parallel bool `mapstructure:"parallel" yaml:"parallel"`
	Workers  int  `mapstructure:"workers" yaml:"workers"`

	EnableCheckpoint bool   `mapstructure:"enable_checkpoint" yaml:"enable_checkpoint"`
	CheckpointFile   string `mapstructure:"checkpoint_file" yaml:"checkpoint_file"`

	LogThinking   bool `mapstructure:"log_thinking" yaml:"log_thinking"`
	CalculateCost bool `mapstructure:"calculate_cost" yaml:"calculate_cost"`
	StagePDFs     bool `mapstructure:"stage_pdfs" yaml:"stage_pdfs"`

	SchemaFile   string `mapstructure:"schema_file" yaml:"schema_file"`
	ExamplesFile string `mapstructure:"examples_file" yaml:"examples_file"`
	PricingFile  string `mapstructure:"pricing_file" yaml:"pricing_file"`
}

// Config is the full application configuration.
type Config struct {
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
}

// Load reads configuration from cfgFile (or config.yaml in ./ and
// ~/.muster), environment variables with the MUSTER_ prefix, and built-in
// defaults, in that order of precedence.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.muster")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if cfgFile != "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes a commented default configuration to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	header := []byte(`# muster configuration
# Values can be overridden by MUSTER_-prefixed environment variables
# (e.g. MUSTER_PROVIDER_MODEL) and by command-line flags.
# Gemini access uses Application Default Credentials; run
# "gcloud auth application-default login" or set GOOGLE_APPLICATION_CREDENTIALS.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
