package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Recognizer is the interface the batch runner consumes. A recognizer takes
// raw file content plus an extraction schema and returns the model's raw
// response text along with token-usage accounting.
//
// Calls are network-bound and fallible independently of local state. Usage
// metadata must be surfaced even on partial failure (e.g. a content-safety
// block still reports token counts). Recognizers do not retry failed calls
// on behalf of the caller beyond provider-internal transient-error handling.
type Recognizer interface {
	// Recognize submits one file's content for extraction.
	Recognize(ctx context.Context, req *Request) (*Result, error)

	// Name returns the provider identifier (e.g., "gemini", "mock").
	Name() string

	// Model returns the model identifier used for pricing and reporting.
	Model() string
}

// Factory builds a fresh Recognizer. Parallel workers each construct their
// own client through a factory so no mutable client state is shared.
type Factory func(ctx context.Context) (Recognizer, error)

// ErrBlocked indicates the provider refused the request on content-safety
// grounds. Usage metadata may still be attached to the Result.
var ErrBlocked = errors.New("content blocked by provider")

// ErrEmptyResponse indicates the provider returned no usable content.
var ErrEmptyResponse = errors.New("empty response from provider")

// Request carries one file's content to a recognizer. Exactly one of Image
// or Text is set.
type Request struct {
	// Image content and its MIME type, for image inputs.
	Image []byte
	MIME  string

	// Text content, for OCR text inputs.
	Text string

	// Extraction schema (a JSON Schema document) describing the records
	// the model should emit.
	Schema json.RawMessage

	// Optional few-shot examples appended to the prompt.
	Examples string

	// Thinking enables extended reasoning and its token accounting.
	Thinking bool

	// RequestID is echoed into logs; callers usually set the source path.
	RequestID string
}

// Usage is the token accounting for a single recognizer call. It is created
// once per call and never mutated afterwards.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	ThinkingEnabled bool `json:"thinking_enabled"`
	ThinkingBudget  int  `json:"thinking_budget"`
	// ThinkingTokens is derived as max(0, total-prompt-output) when the
	// provider does not report it directly.
	ThinkingTokens int `json:"thinking_tokens"`
	// BudgetExceeded records that thinking consumption passed the configured
	// budget. The budget is a target, not a hard limit, so this is a
	// reporting note rather than an error.
	BudgetExceeded bool `json:"budget_exceeded"`

	// Estimated is set when token counts were reconstructed by counting
	// locally because the provider omitted usage metadata.
	Estimated bool `json:"estimated,omitempty"`
}

// DeriveThinking fills ThinkingTokens and BudgetExceeded from the raw
// counters. Safe to call on a nil receiver.
func (u *Usage) DeriveThinking(budget int) {
	if u == nil || !u.ThinkingEnabled {
		return
	}
	u.ThinkingBudget = budget
	t := u.TotalTokens - u.PromptTokens - u.OutputTokens
	if t < 0 {
		t = 0
	}
	u.ThinkingTokens = t
	u.BudgetExceeded = t > budget
}

// Result is the outcome of a single recognizer call.
type Result struct {
	// Raw response text. Empty on failure.
	Text string

	// Usage is present whenever the provider reported token counts,
	// including on blocked or otherwise failed calls.
	Usage *Usage

	Blocked     bool
	BlockReason string

	Elapsed  time.Duration
	Attempts int
}
