// Package orchestrator implements the agent orchestrator (§4.7): a bounded
// tool-calling loop over the fixed seven-tool catalogue, giving the LLM the
// same search and ranking primitives the direct query path uses, but let
// the model decide which to call and in what order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrwong99/viewpointrag/internal/mcp"
	"github.com/mrwong99/viewpointrag/internal/viewpoint"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
)

// DefaultMaxIterations is the default bound on tool-calling rounds and on the
// total number of tool calls in one run (§4.7).
const DefaultMaxIterations = 5

// ErrBudgetExhausted is surfaced as a result flag (§7), never as a hard
// request failure: the caller gets back whatever Result the loop produced
// before running out of iterations, alongside this wrapped error.
var ErrBudgetExhausted = errors.New("agent: exhausted tool-call budget")

const systemPrompt = `You are a viewpoint search agent. Use the available tools to fulfil the user's request, then produce a final natural-language answer summarising the viewpoints you found.

Always call extract_query_intent first if the request includes free text or images you have not yet interpreted. Prefer the most specific search tool for the signal you have: search_by_name for a named place, search_by_category for a kind of place, search_by_tags for a described look or feel, search_popular only when nothing else applies. Call rank_and_explain_results once you have candidates worth ranking, and get_viewpoint_details when the user needs more detail about one specific result.

Stop calling tools and answer directly once you have enough information.`

// Orchestrator runs the bounded tool-calling loop.
type Orchestrator struct {
	provider      llm.Provider
	host          mcp.Host
	maxIterations int
}

// New builds an Orchestrator. maxIterations <= 0 uses DefaultMaxIterations.
func New(provider llm.Provider, host mcp.Host, maxIterations int) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Orchestrator{provider: provider, host: host, maxIterations: maxIterations}
}

// Result is the outcome of one agent run.
type Result struct {
	// Answer is the model's final natural-language response.
	Answer string

	// Trace records every tool call made during the run, in order.
	Trace []viewpoint.ToolTraceEntry

	// BudgetExhausted is true when the loop stopped because maxIterations
	// was reached rather than because the model produced a final answer.
	BudgetExhausted bool
}

// Run drives the tool-calling loop for userText against tier's tool
// catalogue, returning the model's final answer and a full tool trace.
func (o *Orchestrator) Run(ctx context.Context, userText string, tier mcp.BudgetTier) (Result, error) {
	tools := o.host.AvailableTools(tier)
	messages := []llm.Message{{Role: "user", Content: userText}}

	var trace []viewpoint.ToolTraceEntry

	for i := 0; i < o.maxIterations; i++ {
		resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        tools,
		})
		if err != nil {
			return Result{Trace: trace}, fmt.Errorf("agent: completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return Result{Answer: resp.Content, Trace: trace}, nil
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			if len(trace) >= o.maxIterations {
				return Result{Trace: trace, BudgetExhausted: true}, fmt.Errorf("%w: %d tool calls", ErrBudgetExhausted, o.maxIterations)
			}
			result, err := o.host.ExecuteTool(ctx, call.Name, call.Arguments)
			if err != nil {
				result = &mcp.ToolResult{Content: fmt.Sprintf("unknown tool %q: %v", call.Name, err), IsError: true}
			}
			trace = append(trace, viewpoint.ToolTraceEntry{
				Name:      call.Name,
				Arguments: call.Arguments,
				Result:    result.Content,
				IsError:   result.IsError,
			})
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result.Content,
				ToolCallID: call.ID,
			})
		}
	}

	return Result{Trace: trace, BudgetExhausted: true}, fmt.Errorf("%w: %d iterations", ErrBudgetExhausted, o.maxIterations)
}
