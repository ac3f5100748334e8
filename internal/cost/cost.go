// Package cost prices model calls and aggregates usage across a run.
package cost

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/archivista/muster/internal/providers"
)

// DefaultUSDToINR converts totals for display in run reports. Override via
// the pricing file.
const DefaultUSDToINR = 83.5

// Rates holds per-million-token prices for one model.
type Rates struct {
	InputPerMTok    float64 `yaml:"input_per_mtok"`
	OutputPerMTok   float64 `yaml:"output_per_mtok"`
	ThinkingPerMTok float64 `yaml:"thinking_per_mtok"`
}

// Table maps model identifiers to rates. Unlisted models fall back to the
// default entry with a warning.
type Table struct {
	Models   map[string]Rates `yaml:"models"`
	Default  Rates            `yaml:"default"`
	USDToINR float64          `yaml:"usd_to_inr"`

	logger *slog.Logger
}

// DefaultTable returns the built-in pricing table. Prices are illustrative
// and should be replaced with a pricing file for real accounting.
func DefaultTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	def := Rates{InputPerMTok: 0.15, OutputPerMTok: 0.60, ThinkingPerMTok: 3.50}
	return &Table{
		Models: map[string]Rates{
			"gemini-2.5-flash": def,
		},
		Default:  def,
		USDToINR: DefaultUSDToINR,
		logger:   logger,
	}
}

// LoadTable reads a pricing table from a YAML file. An empty path returns
// the built-in default.
func LoadTable(path string, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultTable(logger), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	t := &Table{logger: logger}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	if t.USDToINR <= 0 {
		t.USDToINR = DefaultUSDToINR
	}
	if t.Default == (Rates{}) {
		t.Default = DefaultTable(logger).Default
	}
	return t, nil
}

// Rates returns the rates for a model, falling back to the default entry
// with a warning for unlisted models.
func (t *Table) Rates(model string) Rates {
	if r, ok := t.Models[model]; ok {
		return r
	}
	logger := t.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("model not in pricing table, using default rates", "model", model)
	return t.Default
}

// Price computes the cost of one call in USD. Thinking tokens are billed
// only when thinking was enabled.
func (t *Table) Price(model string, u *providers.Usage) float64 {
	if u == nil {
		return 0
	}
	r := t.Rates(model)
	cost := float64(u.PromptTokens)/1e6*r.InputPerMTok +
		float64(u.OutputTokens)/1e6*r.OutputPerMTok
	if u.ThinkingEnabled {
		cost += float64(u.ThinkingTokens) / 1e6 * r.ThinkingPerMTok
	}
	return cost
}

// Ledger accumulates usage and cost across one run. It is single-writer:
// only the scheduler's collection point calls Add.
type Ledger struct {
	totalUSD float64
	usages   []*providers.Usage
	calls    int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Add records one priced call. A nil usage still counts the call.
func (l *Ledger) Add(u *providers.Usage, costUSD float64) {
	l.calls++
	l.totalUSD += costUSD
	if u != nil {
		l.usages = append(l.usages, u)
	}
}

// TotalUSD returns the running cost total.
func (l *Ledger) TotalUSD() float64 { return l.totalUSD }

// Usages returns the recorded usage list.
func (l *Ledger) Usages() []*providers.Usage { return l.usages }

// Summary aggregates the ledger for reporting.
type Summary struct {
	Calls          int     `json:"calls"`
	PromptTokens   int     `json:"prompt_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	ThinkingTokens int     `json:"thinking_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	TotalUSD       float64 `json:"total_usd"`
	TotalINR       float64 `json:"total_inr"`
	Estimated      bool    `json:"estimated"`
}

// Summarize computes run totals, converting USD at the table's INR rate.
func (l *Ledger) Summarize(t *Table) Summary {
	s := Summary{Calls: l.calls, TotalUSD: l.totalUSD}
	for _, u := range l.usages {
		s.PromptTokens += u.PromptTokens
		s.OutputTokens += u.OutputTokens
		s.ThinkingTokens += u.ThinkingTokens
		s.TotalTokens += u.TotalTokens
		if u.Estimated {
			s.Estimated = true
		}
	}
	rate := DefaultUSDToINR
	if t != nil && t.USDToINR > 0 {
		rate = t.USDToINR
	}
	s.TotalINR = s.TotalUSD * rate
	return s
}
