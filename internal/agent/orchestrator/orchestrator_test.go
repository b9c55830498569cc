package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrwong99/viewpointrag/internal/mcp"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm/mock"
)

type fakeHost struct {
	mu    sync.Mutex
	calls []string
}

func (h *fakeHost) AvailableTools(_ mcp.BudgetTier) []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "search_popular"}}
}

func (h *fakeHost) ExecuteTool(_ context.Context, name string, _ string) (*mcp.ToolResult, error) {
	h.mu.Lock()
	h.calls = append(h.calls, name)
	h.mu.Unlock()
	return &mcp.ToolResult{Content: `{"candidates":[]}`}, nil
}

func (h *fakeHost) Calibrate(_ context.Context) error { return nil }
func (h *fakeHost) Close() error                      { return nil }

func TestRun_StopsOnFinalAnswer(t *testing.T) {
	provider := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Here are some viewpoints."}}
	host := &fakeHost{}
	o := New(provider, host, 5)

	result, err := o.Run(context.Background(), "find a mountain", mcp.BudgetStandard)
	require.NoError(t, err)
	assert.Equal(t, "Here are some viewpoints.", result.Answer)
	assert.Empty(t, result.Trace)
	assert.False(t, result.BudgetExhausted)
}

func TestRun_ExecutesToolCallsAndRecordsTrace(t *testing.T) {
	calls := 0
	provider := &toolCallOnceProvider{}
	host := &fakeHost{}
	o := New(provider, host, 5)

	result, err := o.Run(context.Background(), "find a mountain", mcp.BudgetStandard)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Answer)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "search_popular", result.Trace[0].Name)
	_ = calls
}

func TestRun_BudgetExhausted(t *testing.T) {
	provider := &alwaysToolCallProvider{}
	host := &fakeHost{}
	o := New(provider, host, 2)

	result, err := o.Run(context.Background(), "find a mountain", mcp.BudgetStandard)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExhausted))
	assert.True(t, result.BudgetExhausted)
	assert.Len(t, result.Trace, 2)
}

// toolCallOnceProvider returns one tool call, then a final answer.
type toolCallOnceProvider struct {
	mock.Provider
	n int
}

func (p *toolCallOnceProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.n++
	if p.n == 1 {
		return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "1", Name: "search_popular", Arguments: "{}"}}}, nil
	}
	return &llm.CompletionResponse{Content: "done"}, nil
}

// alwaysToolCallProvider always requests a tool call, exhausting any budget.
type alwaysToolCallProvider struct {
	mock.Provider
}

func (p *alwaysToolCallProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "1", Name: "search_popular", Arguments: "{}"}}}, nil
}
