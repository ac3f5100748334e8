package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/avast/retry-go/v4"
	"google.golang.org/api/googleapi"
)

const GeminiName = "gemini"

// extractionInstruction frames every request. The schema and few-shot
// examples are appended per call; the model is told to answer with a bare
// JSON array so the response parser has as little repair work as possible.
const extractionInstruction = `You are a data extraction engine. Extract every record visible in the
provided document into a JSON array of objects. Each object must conform to
the JSON Schema below. Output ONLY the JSON array - no markdown fences, no
commentary. Use null for unreadable or absent values.`

// GeminiConfig configures a Gemini recognizer.
type GeminiConfig struct {
	ProjectID string
	Region    string
	ModelName string

	// Generation parameters.
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	CandidateCount  int32

	// ThinkingBudget is the reporting budget for thinking tokens when a
	// request enables thinking. The budget is a target, not a hard limit.
	ThinkingBudget int

	// Rate limiting (requests per minute). 0 uses the default.
	RPM int

	// Transient-error retry inside the provider. These cover 429s and
	// transient 5xx responses only; a definitive failure is returned to the
	// caller without retry.
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Gemini is a Recognizer backed by Vertex AI generative models.
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	name    string
	limiter *RateLimiter
	cfg     GeminiConfig
	logger  *slog.Logger
}

// NewGemini creates a Gemini recognizer. Each parallel worker should hold
// its own instance; the underlying client is not shared.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("gemini: project ID and region are required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("gemini: model name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      genai.Ptr(cfg.Temperature),
		TopP:             genai.Ptr(cfg.TopP),
		TopK:             genai.Ptr(cfg.TopK),
		MaxOutputTokens:  genai.Ptr(cfg.MaxOutputTokens),
		CandidateCount:   genai.Ptr(cfg.CandidateCount),
		ResponseMIMEType: "application/json",
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockMediumAndAbove},
	}

	logger.Info("gemini client initialized", "model", cfg.ModelName, "region", cfg.Region)

	return &Gemini{
		client:  client,
		model:   model,
		name:    GeminiName,
		limiter: NewRateLimiter(cfg.RPM),
		cfg:     cfg,
		logger:  logger.With("provider", GeminiName, "model", cfg.ModelName),
	}, nil
}

// Name returns the provider identifier.
func (g *Gemini) Name() string { return g.name }

// Model returns the configured model identifier.
func (g *Gemini) Model() string { return g.cfg.ModelName }

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }

// Recognize submits one file's content and returns raw text plus usage.
func (g *Gemini) Recognize(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gemini: rate limit wait: %w", err)
	}

	parts := g.buildParts(req)

	attempts := 0
	resp, err := retry.DoWithData(
		func() (*genai.GenerateContentResponse, error) {
			attempts++
			return g.model.GenerateContent(ctx, parts...)
		},
		retry.Context(ctx),
		retry.Attempts(uint(g.cfg.MaxRetries)),
		retry.Delay(g.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return &Result{Elapsed: time.Since(start), Attempts: attempts},
			fmt.Errorf("gemini: generate content: %w", err)
	}

	result := &Result{
		Elapsed:  time.Since(start),
		Attempts: attempts,
		Usage:    g.usageFrom(resp, req.Thinking),
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		result.Blocked = true
		result.BlockReason = fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		g.logger.Error("content blocked", "request", req.RequestID, "reason", result.BlockReason)
		return result, fmt.Errorf("%w: %s", ErrBlocked, result.BlockReason)
	}

	text := responseText(resp)
	if text == "" {
		g.logger.Error("empty response", "request", req.RequestID)
		return result, ErrEmptyResponse
	}
	result.Text = text

	// The API occasionally omits usage metadata; reconstruct output tokens
	// locally so cost accounting still has something to work with.
	if result.Usage == nil {
		result.Usage = g.countFallback(ctx, parts, text, req.Thinking)
	}

	return result, nil
}

// buildParts assembles the prompt parts for one request.
func (g *Gemini) buildParts(req *Request) []genai.Part {
	var b strings.Builder
	b.WriteString(extractionInstruction)
	b.WriteString("\n\nJSON Schema:\n")
	b.Write(req.Schema)
	if req.Examples != "" {
		b.WriteString("\n\nExamples:\n")
		b.WriteString(req.Examples)
	}

	parts := []genai.Part{genai.Text(b.String())}
	if len(req.Image) > 0 {
		parts = append(parts, genai.Blob{MIMEType: req.MIME, Data: req.Image})
	} else {
		parts = append(parts, genai.Text("\n\nDocument text:\n"+req.Text))
	}
	return parts
}

// usageFrom converts API usage metadata, deriving thinking tokens.
func (g *Gemini) usageFrom(resp *genai.GenerateContentResponse, thinking bool) *Usage {
	if resp.UsageMetadata == nil {
		return nil
	}
	u := &Usage{
		PromptTokens:    int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens:    int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:     int(resp.UsageMetadata.TotalTokenCount),
		ThinkingEnabled: thinking,
	}
	u.DeriveThinking(g.cfg.ThinkingBudget)
	if u.BudgetExceeded {
		g.logger.Warn("thinking tokens exceeded budget",
			"used", u.ThinkingTokens, "budget", u.ThinkingBudget)
	}
	return u
}

// countFallback estimates usage by counting tokens locally.
func (g *Gemini) countFallback(ctx context.Context, parts []genai.Part, text string, thinking bool) *Usage {
	g.logger.Warn("usage metadata missing from response, counting tokens locally")

	u := &Usage{ThinkingEnabled: thinking, Estimated: true}

	if tc, err := g.model.CountTokens(ctx, parts...); err == nil {
		u.PromptTokens = int(tc.TotalTokens)
	} else {
		g.logger.Warn("prompt token count failed", "error", err)
	}
	if tc, err := g.model.CountTokens(ctx, genai.Text(text)); err == nil {
		u.OutputTokens = int(tc.TotalTokens)
	} else {
		g.logger.Warn("response token count failed", "error", err)
	}
	u.TotalTokens = u.PromptTokens + u.OutputTokens
	u.DeriveThinking(g.cfg.ThinkingBudget)
	return u
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

// isTransient reports whether an API error is worth retrying: rate limits
// and transient upstream failures.
func isTransient(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// gRPC transport surfaces unavailability as a plain error string.
	msg := err.Error()
	return strings.Contains(msg, "Unavailable") || strings.Contains(msg, "ResourceExhausted")
}

var _ Recognizer = (*Gemini)(nil)
