package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const MockName = "mock"

// Mock is a Recognizer for testing.
type Mock struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string

	// Responses scripts per-request responses keyed by RequestID. When a
	// request's ID is present here it overrides ResponseText.
	Responses map[string]string

	// FailRequests marks specific RequestIDs that should fail.
	FailRequests map[string]error

	// BlockRequests marks specific RequestIDs that should be refused on
	// content-safety grounds, with the given reason.
	BlockRequests map[string]string

	// Synthetic usage per call. When zero, token counts are estimated from
	// content length.
	PromptTokens int
	OutputTokens int

	// ThinkingTokens are added to TotalTokens for requests with Thinking
	// set, so derivation can be exercised.
	ThinkingTokens int
	ThinkingBudget int

	ModelName string

	// State
	requestCount atomic.Int64
}

// NewMock creates a new mock recognizer with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		Latency:      time.Millisecond,
		ResponseText: `[{"name": "mock", "age": 1}]`,
		ModelName:    "mock-model",
	}
}

// Name returns the provider identifier.
func (m *Mock) Name() string {
	return MockName
}

// Model returns the model identifier.
func (m *Mock) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Recognize returns the scripted response for the request.
func (m *Mock) Recognize(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	count := m.requestCount.Add(1)

	if m.ShouldFail {
		return nil, fmt.Errorf("mock recognizer configured to fail")
	}
	if m.FailAfter > 0 && int(count) > m.FailAfter {
		return nil, fmt.Errorf("mock recognizer failed after %d requests", m.FailAfter)
	}
	if err, ok := m.FailRequests[req.RequestID]; ok {
		return nil, err
	}

	// Simulate latency
	select {
	case <-time.After(m.Latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	usage := m.usageFor(req)

	if reason, ok := m.BlockRequests[req.RequestID]; ok {
		result := &Result{
			Usage:       usage,
			Blocked:     true,
			BlockReason: reason,
			Elapsed:     time.Since(start),
			Attempts:    1,
		}
		return result, fmt.Errorf("%w: %s", ErrBlocked, reason)
	}

	text := m.ResponseText
	if scripted, ok := m.Responses[req.RequestID]; ok {
		text = scripted
	}

	return &Result{
		Text:     text,
		Usage:    usage,
		Elapsed:  time.Since(start),
		Attempts: 1,
	}, nil
}

func (m *Mock) usageFor(req *Request) *Usage {
	prompt := m.PromptTokens
	if prompt == 0 {
		prompt = (len(req.Image) + len(req.Text) + len(req.Schema)) / 4
	}
	output := m.OutputTokens
	if output == 0 {
		output = len(m.ResponseText) / 4
	}
	u := &Usage{
		PromptTokens:    prompt,
		OutputTokens:    output,
		TotalTokens:     prompt + output,
		ThinkingEnabled: req.Thinking,
	}
	if req.Thinking {
		u.TotalTokens += m.ThinkingTokens
	}
	u.DeriveThinking(m.ThinkingBudget)
	return u
}

// RequestCount returns the number of requests made.
func (m *Mock) RequestCount() int64 {
	return m.requestCount.Load()
}

// Reset resets the request counter.
func (m *Mock) Reset() {
	m.requestCount.Store(0)
}

// Verify interface
var _ Recognizer = (*Mock)(nil)

// MockFactory returns a Factory that hands out the same mock instance, so
// tests can script responses and inspect counters across workers.
func MockFactory(m *Mock) Factory {
	return func(ctx context.Context) (Recognizer, error) {
		return m, nil
	}
}
