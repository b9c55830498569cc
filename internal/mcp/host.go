// Package mcp defines the interface for a tool host used by the agent
// orchestrator (spec §4.7).
//
// Every tool the agent can call — extract_query_intent, search_by_name,
// search_by_category, search_by_tags, search_popular, get_viewpoint_details,
// rank_and_explain_results — is an in-process Go function registered as a
// builtin tool. There is no external MCP server in this deployment: the
// interface still speaks in terms of a tool catalogue, latency-based budget
// tiers, and calibration because that is the substrate the orchestrator is
// built on, but "host" here means "in-process registry", not a network peer.
//
// Lifecycle:
//
//  1. Call [Host.RegisterBuiltin] (on a concrete implementation) for each tool.
//  2. Optionally call [Host.Calibrate] to measure real tool latencies and
//     assign tiers based on observed performance.
//  3. Use [Host.AvailableTools] to enumerate tools valid for a budget tier.
//  4. Use [Host.ExecuteTool] to run tools on behalf of the orchestrator.
//  5. Call [Host.Close] to release background state.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"

	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
)

// BudgetTier controls which tools are visible to the agent loop based on
// latency constraints. A request under time pressure (or with a small
// max_iterations budget) can be restricted to only the fastest tools.
type BudgetTier int

const (
	// BudgetFast allows only tools with ≤ 500ms estimated latency.
	BudgetFast BudgetTier = iota

	// BudgetStandard allows tools with ≤ 1500ms estimated latency.
	BudgetStandard

	// BudgetDeep allows all tools regardless of latency.
	BudgetDeep
)

// String returns the human-readable name of the budget tier.
func (t BudgetTier) String() string {
	switch t {
	case BudgetFast:
		return "FAST"
	case BudgetStandard:
		return "STANDARD"
	case BudgetDeep:
		return "DEEP"
	default:
		return "UNKNOWN"
	}
}

// MaxLatencyMs returns the nominal latency figure for this tier: 500 for
// Fast, 1500 for Standard, 4000 for Deep. Tier assignment does not consult
// it, and BudgetDeep admits tools of any latency.
func (t BudgetTier) MaxLatencyMs() int {
	switch t {
	case BudgetFast:
		return 500
	case BudgetStandard:
		return 1500
	case BudgetDeep:
		return 4000
	default:
		return 500
	}
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output, a JSON string ready for insertion
	// into the LLM context window as a tool-role message.
	Content string

	// IsError indicates that the tool returned an application-level error
	// (as opposed to a transport/protocol failure returned via the Go error
	// return value). When IsError is true, Content contains the error message.
	IsError bool

	// DurationMs is the wall-clock time in milliseconds the call took.
	DurationMs int64
}

// ToolHealth captures the measured runtime performance of a single tool,
// populated by [Host.Calibrate] and used to assign [BudgetTier] values.
type ToolHealth struct {
	// Name is the tool's unique identifier, matching [llm.ToolDefinition.Name].
	Name string

	// MeasuredP50Ms is the observed median execution latency in milliseconds.
	MeasuredP50Ms int64

	// MeasuredP99Ms is the observed 99th-percentile execution latency.
	MeasuredP99Ms int64

	// CallCount is the total number of times this tool has been invoked.
	CallCount int

	// ErrorRate is the fraction of calls that resulted in an error (0.0–1.0).
	ErrorRate float64

	// Tier is the [BudgetTier] assigned to this tool based on measured latency.
	Tier BudgetTier
}

// Host routes tool calls on behalf of the agent orchestrator and tracks
// per-tool performance metrics for latency-based budget tier assignment.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// AvailableTools returns all tools whose assigned [BudgetTier] is ≤ tier,
	// sorted by estimated latency ascending (fastest first).
	AvailableTools(tier BudgetTier) []llm.ToolDefinition

	// ExecuteTool calls the named tool with JSON-encoded args and returns the
	// result. name must exactly match a [llm.ToolDefinition.Name] returned by
	// [Host.AvailableTools].
	//
	// A non-nil *ToolResult is returned on success even when
	// [ToolResult.IsError] is true (application-level error). A Go error is
	// returned only when name is unknown.
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)

	// Calibrate sends lightweight probe requests to every registered tool,
	// measures round-trip latency, and updates each tool's assigned
	// [BudgetTier]. Probes must run concurrently and respect ctx for
	// cancellation and deadline propagation.
	Calibrate(ctx context.Context) error

	// Close releases resources held by the host. After Close returns the Host
	// must not be used again.
	Close() error
}
