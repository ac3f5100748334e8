// Package report renders a human-readable Markdown summary of a run.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/archivista/muster/internal/batch"
)

// maxListedFiles caps each per-category file list so reports stay readable
// on very large runs.
const maxListedFiles = 100

// Generate writes reports/extraction_report_<ts>.md under outputDir and
// returns its path. Report generation is best-effort; callers log the
// error and continue.
func Generate(outputDir string, stats *batch.RunStats, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reportDir := filepath.Join(outputDir, "reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	path := filepath.Join(reportDir, fmt.Sprintf("extraction_report_%s.md",
		stats.Meta.FinishedAt.Format("20060102_150405")))

	if err := os.WriteFile(path, []byte(render(stats)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	logger.Info("run report written", "path", path)
	return path, nil
}

func render(stats *batch.RunStats) string {
	meta := stats.Meta
	var b strings.Builder

	b.WriteString("# Extraction Run Report\n\n")
	fmt.Fprintf(&b, "- **Run ID**: %s\n", meta.RunID)
	fmt.Fprintf(&b, "- **Model**: %s\n", orDash(meta.Model))
	fmt.Fprintf(&b, "- **Started**: %s\n", meta.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Finished**: %s\n", meta.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Elapsed**: %s\n", meta.Elapsed.Round(time.Millisecond))
	mode := "sequential"
	if meta.Parallel {
		mode = fmt.Sprintf("parallel (%d workers)", meta.Workers)
	}
	fmt.Fprintf(&b, "- **Mode**: %s\n\n", mode)

	b.WriteString("## Summary\n\n")
	b.WriteString("| Total | Succeeded | Failed | Skipped |\n")
	b.WriteString("|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d |\n\n",
		meta.TotalFiles, meta.Succeeded, meta.Failed, meta.Skipped)

	c := stats.Cost
	b.WriteString("## Tokens & Cost\n\n")
	fmt.Fprintf(&b, "- Calls: %d\n", c.Calls)
	fmt.Fprintf(&b, "- Prompt tokens: %d\n", c.PromptTokens)
	fmt.Fprintf(&b, "- Output tokens: %d\n", c.OutputTokens)
	if c.ThinkingTokens > 0 {
		fmt.Fprintf(&b, "- Thinking tokens: %d\n", c.ThinkingTokens)
	}
	fmt.Fprintf(&b, "- Total tokens: %d\n", c.TotalTokens)
	fmt.Fprintf(&b, "- Estimated cost: $%.6f (₹%.2f)\n", c.TotalUSD, c.TotalINR)
	if c.Estimated {
		b.WriteString("- Note: some token counts were estimated locally.\n")
	}
	if stats.CombinedPath != "" {
		fmt.Fprintf(&b, "\nCombined output: `%s`\n", stats.CombinedPath)
	}
	b.WriteString("\n")

	writeFileList(&b, "Successful Files", stats.Status.Successful)
	writeFileList(&b, "Skipped Files", stats.Status.Skipped)

	if len(stats.Status.Failed) > 0 {
		b.WriteString("## Failed Files\n\n")
		b.WriteString("| File | Reason |\n|---|---|\n")
		failed := append([]string(nil), stats.Status.Failed...)
		sort.Strings(failed)
		for i, f := range failed {
			if i == maxListedFiles {
				fmt.Fprintf(&b, "\n…and %d more.\n", len(failed)-maxListedFiles)
				break
			}
			fmt.Fprintf(&b, "| %s | %s |\n", filepath.Base(f), stats.Status.Failures[f])
		}
		b.WriteString("\n")
	}

	return b.String()
}

func writeFileList(b *strings.Builder, title string, files []string) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s (%d)\n\n", title, len(files))
	listed := append([]string(nil), files...)
	sort.Strings(listed)
	for i, f := range listed {
		if i == maxListedFiles {
			fmt.Fprintf(b, "…and %d more.\n", len(listed)-maxListedFiles)
			break
		}
		fmt.Fprintf(b, "- %s\n", filepath.Base(f))
	}
	b.WriteString("\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
