// Package mediator implements the request mediator (§4.8): the single entry
// point the HTTP layer calls into. It drives the agent orchestrator, drains
// its tool trace to recover whatever intent/candidates/ranked results the
// model already produced, and reconciles the three near-duplicate pipeline
// paths the original implementation kept separate into one strategy over
// the same retrieval/ranking primitives.
package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mrwong99/viewpointrag/internal/agent/orchestrator"
	"github.com/mrwong99/viewpointrag/internal/mcp"
	"github.com/mrwong99/viewpointrag/internal/viewpoint"
	"github.com/mrwong99/viewpointrag/pkg/store/postgres"
)

// ErrEmptyText is returned when Request.UserText is empty — the only
// InputInvalid condition the mediator itself enforces (§7).
var ErrEmptyText = errors.New("mediator: user_text must not be empty")

// DefaultTopK is used when Request.TopK is unset.
const DefaultTopK = 5

// intentExtractor is the subset of *intent.Extractor the mediator falls
// back to when the agent trace never extracted an intent.
type intentExtractor interface {
	Extract(ctx context.Context, userText string, userImages []string) (viewpoint.QueryIntent, error)
}

// retriever is the subset of *retrieval.Retriever the mediator falls back
// to when candidates are needed but the agent trace never searched.
type retriever interface {
	Fallback(ctx context.Context, intent viewpoint.QueryIntent, limit int) (result postgres.FindResult, step string, err error)
}

// ranker is the subset of *ranking.Ranker the mediator depends on.
type ranker interface {
	Rank(ctx context.Context, candidates []viewpoint.Candidate, queryTags []string, season string, k int) ([]viewpoint.ViewpointResult, error)
}

// querylogger is the subset of *postgres.Store the mediator depends on for
// best-effort invocation persistence.
type querylogger interface {
	LogQuery(ctx context.Context, rec viewpoint.QueryLogRecord) error
}

// Request is the mediator's entry point payload (§4.8).
type Request struct {
	UserText   string   `json:"user_text"`
	UserImages []string `json:"user_images,omitempty"`
	Language   string   `json:"language,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
}

// Response is the mediator's response envelope (§4.8/§6).
type Response struct {
	QueryIntent      *viewpoint.QueryIntent      `json:"query_intent"`
	Results          []viewpoint.ViewpointResult `json:"candidates"`
	SQLQueries       []string                    `json:"sql_queries"`
	ToolCalls        []viewpoint.ToolTraceEntry  `json:"tool_calls"`
	ExecutionTimeMs  int64                       `json:"execution_time_ms"`
	TagSchemaVersion string                      `json:"tag_schema_version"`
	Warning          string                      `json:"warning,omitempty"`
	Error            string                      `json:"error,omitempty"`
}

// Mediator wires the orchestrator and the direct retrieval/ranking
// primitives behind one reconciliation strategy.
type Mediator struct {
	orchestrator *orchestrator.Orchestrator
	extractor    intentExtractor
	retriever    retriever
	ranker       ranker
	store        querylogger
	schemaVer    string
	log          *slog.Logger
}

// New builds a Mediator. store may be nil, in which case invocation
// persistence is skipped entirely (still best-effort by design, just a
// no-op rather than a logged warning).
func New(orch *orchestrator.Orchestrator, extractor intentExtractor, retriever retriever, ranker ranker, store querylogger, schemaVersion string, log *slog.Logger) *Mediator {
	if log == nil {
		log = slog.Default()
	}
	return &Mediator{
		orchestrator: orch,
		extractor:    extractor,
		retriever:    retriever,
		ranker:       ranker,
		store:        store,
		schemaVer:    schemaVersion,
		log:          log,
	}
}

// Handle runs req through the agent, reconciles its trace against the
// direct primitives, and best-effort persists the invocation record.
func (m *Mediator) Handle(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if req.UserText == "" {
		return Response{}, ErrEmptyText
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	result, err := m.orchestrator.Run(ctx, req.UserText, mcp.BudgetStandard)

	var warning, agentErr string
	if err != nil {
		if errors.Is(err, orchestrator.ErrBudgetExhausted) {
			agentErr = "max_iterations_reached"
		} else {
			return Response{}, fmt.Errorf("mediator: agent run: %w", err)
		}
	}

	intentPtr, candidates, ranked, sqlQueries, traceWarning := drainTrace(result.Trace)
	if traceWarning != "" {
		warning = traceWarning
	}

	var results []viewpoint.ViewpointResult
	switch {
	case len(ranked) > 0:
		results = ranked

	case len(candidates) > 0 && intentPtr != nil:
		results, err = m.ranker.Rank(ctx, candidates, intentPtr.QueryTags, string(intentPtr.SeasonHint), topK)
		if err != nil {
			return Response{}, fmt.Errorf("mediator: rank: %w", err)
		}

	case intentPtr == nil:
		extracted, err := m.extractor.Extract(ctx, req.UserText, req.UserImages)
		if err != nil {
			return Response{}, fmt.Errorf("mediator: extract intent: %w", err)
		}
		intentPtr = &extracted

		fallbackResult, _, err := m.retriever.Fallback(ctx, extracted, 0)
		if err != nil {
			m.log.Warn("mediator: fallback cascade failed", "error", err)
			warning = "fallback cascade failed: " + err.Error()
		} else {
			if fallbackResult.SQL != "" {
				sqlQueries = append(sqlQueries, fallbackResult.SQL)
			}
			if fallbackResult.Warning != "" {
				warning = fallbackResult.Warning
			}
			results, err = m.ranker.Rank(ctx, fallbackResult.Candidates, extracted.QueryTags, string(extracted.SeasonHint), topK)
			if err != nil {
				return Response{}, fmt.Errorf("mediator: rank fallback candidates: %w", err)
			}
		}

	default:
		// Intent known, no candidates, no ranked results: nothing to show.
	}

	if len(results) > topK {
		results = results[:topK]
	}

	resp := Response{
		QueryIntent:      intentPtr,
		Results:          results,
		SQLQueries:       sqlQueries,
		ToolCalls:        result.Trace,
		ExecutionTimeMs:  time.Since(start).Milliseconds(),
		TagSchemaVersion: m.schemaVer,
		Warning:          warning,
		Error:            agentErr,
	}

	m.persist(ctx, req, resp)
	return resp, nil
}

// persist best-effort writes the invocation record (§6/§7 LogFailed):
// failures are logged and swallowed, never surfaced to the caller.
func (m *Mediator) persist(ctx context.Context, req Request, resp Response) {
	if m.store == nil {
		return
	}
	rec := viewpoint.QueryLogRecord{
		ID:            uuid.NewString(),
		UserText:      req.UserText,
		UserImageRefs: req.UserImages,
		Intent:        resp.QueryIntent,
		SQLQueries:    resp.SQLQueries,
		ToolTrace:     resp.ToolCalls,
		Results:       resp.Results,
		ElapsedMs:     resp.ExecutionTimeMs,
	}
	if err := m.store.LogQuery(ctx, rec); err != nil {
		m.log.Warn("mediator: best-effort query log write failed", "error", err)
	}
}

// drainTrace walks a tool trace in order, recovering the last extracted
// intent, every candidate harvested from a search tool call, the results of
// the last rank_and_explain_results call, every SQL string a search tool
// reported, and the last non-empty relaxed-match warning a search tool
// attached (e.g. a country-restricted category search that fell back to
// category-only).
func drainTrace(trace []viewpoint.ToolTraceEntry) (intentPtr *viewpoint.QueryIntent, candidates []viewpoint.Candidate, ranked []viewpoint.ViewpointResult, sqlQueries []string, warning string) {
	for _, entry := range trace {
		if entry.IsError {
			continue
		}
		switch entry.Name {
		case "extract_query_intent":
			var got viewpoint.QueryIntent
			if json.Unmarshal([]byte(entry.Result), &got) == nil {
				intentPtr = &got
			}
		case "search_by_name", "search_by_category", "search_by_tags", "search_popular":
			var got struct {
				Candidates []viewpoint.Candidate `json:"candidates"`
				SQL        string                `json:"sql,omitempty"`
				Warning    string                `json:"warning,omitempty"`
			}
			if json.Unmarshal([]byte(entry.Result), &got) == nil {
				candidates = append(candidates, got.Candidates...)
				if got.SQL != "" {
					sqlQueries = append(sqlQueries, got.SQL)
				}
				if got.Warning != "" {
					warning = got.Warning
				}
			}
		case "rank_and_explain_results":
			var got struct {
				Results []viewpoint.ViewpointResult `json:"results"`
			}
			if json.Unmarshal([]byte(entry.Result), &got) == nil {
				ranked = got.Results
			}
		}
	}
	return intentPtr, candidates, ranked, sqlQueries, warning
}
