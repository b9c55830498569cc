// Package mcphost provides a concrete implementation of the [mcp.Host]
// interface for in-process tool hosting.
//
// Every tool the agent orchestrator calls is a Go function registered via
// [Host.RegisterBuiltin] — there is no external MCP server in this
// deployment. The host still enforces latency-based budget tiers and
// calibrates tool performance through measured rolling-window percentiles,
// exactly as it would for network-hosted tools; only the transport is
// trivial (a direct function call instead of a wire protocol).
//
// Typical usage:
//
//	h := mcphost.New()
//
//	h.RegisterBuiltin(mcphost.BuiltinTool{
//	    Definition:  llm.ToolDefinition{Name: "search_by_name", ...},
//	    Handler:     searchByName,
//	    DeclaredP50: 40,
//	})
//
//	h.Calibrate(ctx)
//
//	tools := h.AvailableTools(mcp.BudgetDeep)
//	result, err := h.ExecuteTool(ctx, "search_by_name", `{"pattern":"fuji"}`)
//
//	h.Close()
package mcphost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mrwong99/viewpointrag/internal/mcp"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
)

// defaultWindowSize is the default capacity of each tool's rolling window.
const defaultWindowSize = 100

// toolEntry holds all metadata for a single registered tool.
type toolEntry struct {
	def           llm.ToolDefinition
	serverName    string
	declaredP50Ms int64
	declaredMaxMs int64
	measuredP50Ms int64
	measuredP99Ms int64
	callCount     int64
	errorCount    int64
	tier          mcp.BudgetTier
	degraded      bool // true if health-demoted to a higher tier
	measurements  *rollingWindow

	builtinFn func(ctx context.Context, args string) (string, error)
}

// Host is a concrete implementation of [mcp.Host] backed entirely by
// in-process Go functions.
//
// The zero value is NOT usable; create instances with [New].
type Host struct {
	mu    sync.RWMutex
	tools map[string]toolEntry // key: tool name

	enforcer BudgetEnforcer
}

// Compile-time check: Host must implement mcp.Host.
var _ mcp.Host = (*Host)(nil)

// New creates and returns a ready-to-use Host.
func New() *Host {
	return &Host{
		tools: make(map[string]toolEntry),
	}
}

// AvailableTools returns all tools whose assigned [mcp.BudgetTier] is ≤ tier,
// sorted by estimated latency ascending (fastest first).
//
// If [Host.Calibrate] has not been called, tools retain the tiers implied by
// their declared P50 latency values.
func (h *Host) AvailableTools(tier mcp.BudgetTier) []llm.ToolDefinition {
	h.mu.RLock()
	entries := make([]toolEntry, 0, len(h.tools))
	for _, e := range h.tools {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	return h.enforcer.FilterTools(entries, tier)
}

// ExecuteTool calls the named tool's handler with JSON-encoded args and
// returns the result. name must exactly match a [llm.ToolDefinition.Name]
// returned by [Host.AvailableTools].
//
// args must be a valid JSON object string. An empty object ("{}") is valid
// for parameter-less tools.
//
// A non-nil *ToolResult is returned on success even when
// [mcp.ToolResult.IsError] is true (application-level error, e.g. a retrieval
// primitive reporting no rows). A Go error is returned only when name is
// unknown.
func (h *Host) ExecuteTool(ctx context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp host: tool %q not found", name)
	}

	start := time.Now()
	output, execErr := entry.builtinFn(ctx, args)
	durationMs := time.Since(start).Milliseconds()

	h.recordAndUpdateTier(name, durationMs, execErr != nil)

	if execErr != nil {
		return &mcp.ToolResult{Content: execErr.Error(), IsError: true, DurationMs: durationMs}, nil
	}
	return &mcp.ToolResult{Content: output, DurationMs: durationMs}, nil
}

// recordAndUpdateTier records a measurement and re-evaluates the tool's tier.
func (h *Host) recordAndUpdateTier(name string, durationMs int64, isError bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.tools[name]
	if !ok {
		return
	}

	entry.measurements.Record(durationMs, isError)
	entry.callCount++
	if isError {
		entry.errorCount++
	}

	p50 := entry.measurements.P50()
	p99 := entry.measurements.P99()
	entry.measuredP50Ms = p50
	entry.measuredP99Ms = p99

	newTier := tierFromMeasuredP50(p50)

	// Health demotion: if error rate exceeds 30%, bump tier by one.
	errRate := entry.measurements.ErrorRate()
	entry.degraded = errRate > 0.3
	if entry.degraded && newTier < mcp.BudgetDeep {
		newTier++
	}

	entry.tier = newTier
	h.tools[name] = entry
}

// tierFromMeasuredP50 maps a measured P50 latency to a BudgetTier.
func tierFromMeasuredP50(p50Ms int64) mcp.BudgetTier {
	switch {
	case p50Ms <= 500:
		return mcp.BudgetFast
	case p50Ms <= 1500:
		return mcp.BudgetStandard
	default:
		return mcp.BudgetDeep
	}
}

// Close clears the tool registry. After Close returns the Host must not be
// used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools = make(map[string]toolEntry)
	return nil
}
