// Package viewpointtools exposes the retrieval, enrichment, and ranking
// primitives as the seven built-in tools the agent orchestrator drives
// (§4.7): extract_query_intent, search_by_name, search_by_category,
// search_by_tags, search_popular, get_viewpoint_details, and
// rank_and_explain_results. Each tool wraps an already-constructed
// internal/intent, internal/retrieval, internal/ranking, or
// pkg/store/postgres component — this package only adapts their Go APIs to
// the JSON-in/JSON-out shape [tools.Tool] requires.
package viewpointtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mrwong99/viewpointrag/internal/mcp/tools"
	"github.com/mrwong99/viewpointrag/internal/viewpoint"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
	"github.com/mrwong99/viewpointrag/pkg/store/postgres"
)

// intentExtractor is the subset of *intent.Extractor the extract_query_intent
// tool depends on.
type intentExtractor interface {
	Extract(ctx context.Context, userText string, userImages []string) (viewpoint.QueryIntent, error)
}

// retriever is the subset of *retrieval.Retriever the search tools depend on.
type retriever interface {
	SearchByName(ctx context.Context, name string, limit int) (postgres.FindResult, error)
	SearchByCategory(ctx context.Context, category, country string, limit int) (postgres.FindResult, error)
	SearchByTags(ctx context.Context, tags []string, season string, limit int) (postgres.FindResult, error)
	SearchPopular(ctx context.Context, limit int) (postgres.FindResult, error)
}

// detailsStore is the subset of *postgres.Store the get_viewpoint_details
// tool depends on.
type detailsStore interface {
	FetchViewpoint(ctx context.Context, id int64) (viewpoint.Viewpoint, error)
	FetchEncyclopedia(ctx context.Context, id int64) (*viewpoint.EncyclopediaEntry, error)
	FetchKnowledgeGraph(ctx context.Context, id int64) (*viewpoint.KnowledgeGraphEntry, error)
}

// ranker is the subset of *ranking.Ranker the rank_and_explain_results tool
// depends on.
type ranker interface {
	Rank(ctx context.Context, candidates []viewpoint.Candidate, queryTags []string, season string, k int) ([]viewpoint.ViewpointResult, error)
}

func jsonErrorf(tool string, format string, args ...any) error {
	return fmt.Errorf("viewpointtools: %s: %s", tool, fmt.Sprintf(format, args...))
}

// --- extract_query_intent ---

type extractIntentArgs struct {
	UserText   string   `json:"user_text"`
	UserImages []string `json:"user_images,omitempty"`
}

func extractIntentHandler(e intentExtractor) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a extractIntentArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", jsonErrorf("extract_query_intent", "parse arguments: %v", err)
		}
		if a.UserText == "" && len(a.UserImages) == 0 {
			return "", jsonErrorf("extract_query_intent", "user_text or user_images must be provided")
		}
		intent, err := e.Extract(ctx, a.UserText, a.UserImages)
		if err != nil {
			return "", err
		}
		res, err := json.Marshal(intent)
		if err != nil {
			return "", jsonErrorf("extract_query_intent", "encode result: %v", err)
		}
		return string(res), nil
	}
}

// --- search_by_name / search_by_category / search_by_tags / search_popular ---

// candidatesResponse is the JSON-serialised shape of a search tool's
// result: the candidates found plus the SQL that produced them, so the
// request mediator can harvest sql_queries from the tool trace without a
// side channel. Warning carries forward a relaxed-match notice (e.g. a
// country-restricted category search that fell back to category-only) so
// the mediator can surface it in the response envelope.
type candidatesResponse struct {
	Candidates []viewpoint.Candidate `json:"candidates"`
	SQL        string                `json:"sql,omitempty"`
	Warning    string                `json:"warning,omitempty"`
}

func marshalCandidates(result postgres.FindResult, toolName string) (string, error) {
	candidates := result.Candidates
	if candidates == nil {
		candidates = []viewpoint.Candidate{}
	}
	res, err := json.Marshal(candidatesResponse{Candidates: candidates, SQL: result.SQL, Warning: result.Warning})
	if err != nil {
		return "", jsonErrorf(toolName, "encode result: %v", err)
	}
	return string(res), nil
}

type searchByNameArgs struct {
	Name  string `json:"name"`
	Limit int    `json:"limit,omitempty"`
}

func searchByNameHandler(r retriever) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a searchByNameArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", jsonErrorf("search_by_name", "parse arguments: %v", err)
		}
		if a.Name == "" {
			return "", jsonErrorf("search_by_name", "name must not be empty")
		}
		result, err := r.SearchByName(ctx, a.Name, a.Limit)
		if err != nil {
			return "", err
		}
		return marshalCandidates(result, "search_by_name")
	}
}

type searchByCategoryArgs struct {
	Category string `json:"category"`
	Country  string `json:"country,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func searchByCategoryHandler(r retriever) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a searchByCategoryArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", jsonErrorf("search_by_category", "parse arguments: %v", err)
		}
		if a.Category == "" {
			return "", jsonErrorf("search_by_category", "category must not be empty")
		}
		result, err := r.SearchByCategory(ctx, a.Category, a.Country, a.Limit)
		if err != nil {
			return "", err
		}
		return marshalCandidates(result, "search_by_category")
	}
}

type searchByTagsArgs struct {
	Tags   []string `json:"tags"`
	Season string   `json:"season,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

func searchByTagsHandler(r retriever) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a searchByTagsArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", jsonErrorf("search_by_tags", "parse arguments: %v", err)
		}
		if len(a.Tags) == 0 {
			return "", jsonErrorf("search_by_tags", "tags must not be empty")
		}
		result, err := r.SearchByTags(ctx, a.Tags, a.Season, a.Limit)
		if err != nil {
			return "", err
		}
		return marshalCandidates(result, "search_by_tags")
	}
}

type searchPopularArgs struct {
	Limit int `json:"limit,omitempty"`
}

func searchPopularHandler(r retriever) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a searchPopularArgs
		if args != "" && args != "{}" {
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", jsonErrorf("search_popular", "parse arguments: %v", err)
			}
		}
		result, err := r.SearchPopular(ctx, a.Limit)
		if err != nil {
			return "", err
		}
		return marshalCandidates(result, "search_popular")
	}
}

// --- get_viewpoint_details ---

type getViewpointDetailsArgs struct {
	ViewpointID int64 `json:"viewpoint_id"`
}

type viewpointDetails struct {
	Viewpoint      viewpoint.Viewpoint            `json:"viewpoint"`
	Encyclopedia   *viewpoint.EncyclopediaEntry   `json:"encyclopedia,omitempty"`
	KnowledgeGraph *viewpoint.KnowledgeGraphEntry `json:"knowledge_graph,omitempty"`
}

func getViewpointDetailsHandler(store detailsStore) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getViewpointDetailsArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", jsonErrorf("get_viewpoint_details", "parse arguments: %v", err)
		}
		if a.ViewpointID == 0 {
			return "", jsonErrorf("get_viewpoint_details", "viewpoint_id must be provided")
		}
		vp, err := store.FetchViewpoint(ctx, a.ViewpointID)
		if err != nil {
			return "", err
		}
		encyclopedia, err := store.FetchEncyclopedia(ctx, a.ViewpointID)
		if err != nil {
			return "", err
		}
		kg, err := store.FetchKnowledgeGraph(ctx, a.ViewpointID)
		if err != nil {
			return "", err
		}

		res, err := json.Marshal(viewpointDetails{Viewpoint: vp, Encyclopedia: encyclopedia, KnowledgeGraph: kg})
		if err != nil {
			return "", jsonErrorf("get_viewpoint_details", "encode result: %v", err)
		}
		return string(res), nil
	}
}

// --- rank_and_explain_results ---

type rankAndExplainArgs struct {
	Candidates []viewpoint.Candidate `json:"candidates"`
	QueryTags  []string              `json:"query_tags,omitempty"`
	Season     string                `json:"season,omitempty"`
	TopK       int                   `json:"top_k,omitempty"`
}

type rankAndExplainResponse struct {
	Results []viewpoint.ViewpointResult `json:"results"`
}

func rankAndExplainHandler(rk ranker) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a rankAndExplainArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", jsonErrorf("rank_and_explain_results", "parse arguments: %v", err)
		}
		if len(a.Candidates) == 0 {
			return "", jsonErrorf("rank_and_explain_results", "candidates must not be empty")
		}
		topK := a.TopK
		if topK <= 0 {
			topK = 10
		}
		results, err := rk.Rank(ctx, a.Candidates, a.QueryTags, a.Season, topK)
		if err != nil {
			return "", err
		}
		res, err := json.Marshal(rankAndExplainResponse{Results: results})
		if err != nil {
			return "", jsonErrorf("rank_and_explain_results", "encode result: %v", err)
		}
		return string(res), nil
	}
}

// Tools returns the seven built-in tools ready for registration with the MCP
// Host. r, store, and rk are already-constructed pipeline components;
// extractor is the intent extractor.
func Tools(extractor intentExtractor, r retriever, store detailsStore, rk ranker) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "extract_query_intent",
				Description: "Interpret free-form user text and/or image references into a structured query intent: name candidates, query tags, season hint, scene hints, and geo hints. Call this first when the user's request has not yet been interpreted.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"user_text": map[string]any{
							"type":        "string",
							"description": "The user's free-form request text.",
						},
						"user_images": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Image references (URLs, file paths, or data URLs) the user attached.",
						},
					},
					"required": []string{"user_text"},
				},
				EstimatedDurationMs: 2000,
				MaxDurationMs:       8000,
				Idempotent:          true,
			},
			Handler:     extractIntentHandler(extractor),
			DeclaredP50: 2000,
			DeclaredMax: 8000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "search_by_name",
				Description: "Search viewpoints whose name or localised name variants match the given name. Use for a specifically named place.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":  map[string]any{"type": "string", "description": "The place name or name fragment to search for."},
						"limit": map[string]any{"type": "integer", "description": "Maximum candidates to return (default 50)."},
					},
					"required": []string{"name"},
				},
				EstimatedDurationMs: 100,
				MaxDurationMs:       1000,
				Idempotent:          true,
				CacheableSeconds:    60,
			},
			Handler:     searchByNameHandler(r),
			DeclaredP50: 100,
			DeclaredMax: 1000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "search_by_category",
				Description: "Search viewpoints by registry category (e.g. mountain, temple, waterfall), optionally narrowed to a country. Use for a kind of place rather than a named one.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category": map[string]any{"type": "string", "description": "A normalised category (e.g. mountain, temple)."},
						"country":  map[string]any{"type": "string", "description": "Optional country name or alias to narrow the search."},
						"limit":    map[string]any{"type": "integer", "description": "Maximum candidates to return (default 50)."},
					},
					"required": []string{"category"},
				},
				EstimatedDurationMs: 100,
				MaxDurationMs:       1000,
				Idempotent:          true,
				CacheableSeconds:    60,
			},
			Handler:     searchByCategoryHandler(r),
			DeclaredP50: 100,
			DeclaredMax: 1000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "search_by_tags",
				Description: "Search viewpoints by controlled visual tags (e.g. snow_peak, sunset, lantern), optionally scoped to a season. Use when the user describes a look or feel rather than a name or category.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tags":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Controlled-vocabulary visual tags to search for."},
						"season": map[string]any{"type": "string", "description": "Optional season to scope the tag match (spring, summer, autumn, winter)."},
						"limit":  map[string]any{"type": "integer", "description": "Maximum candidates to return (default 50)."},
					},
					"required": []string{"tags"},
				},
				EstimatedDurationMs: 150,
				MaxDurationMs:       1500,
				Idempotent:          true,
				CacheableSeconds:    60,
			},
			Handler:     searchByTagsHandler(r),
			DeclaredP50: 150,
			DeclaredMax: 1500,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "search_popular",
				Description: "Return the highest-popularity viewpoints, unconditionally. Use only when no more specific search applies.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"limit": map[string]any{"type": "integer", "description": "Maximum candidates to return (default 50)."},
					},
				},
				EstimatedDurationMs: 80,
				MaxDurationMs:       800,
				Idempotent:          true,
				CacheableSeconds:    300,
			},
			Handler:     searchPopularHandler(r),
			DeclaredP50: 80,
			DeclaredMax: 800,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_viewpoint_details",
				Description: "Fetch the full record for one viewpoint by id: its core attributes, encyclopedia entry, and knowledge-graph claims. Use when the user wants more detail about a specific result.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"viewpoint_id": map[string]any{"type": "integer", "description": "The viewpoint id to fetch."},
					},
					"required": []string{"viewpoint_id"},
				},
				EstimatedDurationMs: 100,
				MaxDurationMs:       1000,
				Idempotent:          true,
				CacheableSeconds:    300,
			},
			Handler:     getViewpointDetailsHandler(store),
			DeclaredP50: 100,
			DeclaredMax: 1000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "rank_and_explain_results",
				Description: "Fuse and rank a set of retrieval candidates into final viewpoint results, each with a match_confidence score, a human-readable match_explanation, and enrichment (historical summary, season tags). Call once candidates are worth ranking.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"candidates": map[string]any{
							"type":        "array",
							"description": "Candidates previously returned by a search tool.",
							"items":       map[string]any{"type": "object"},
						},
						"query_tags": map[string]any{
							"type":        "array",
							"description": "Query tags from the extracted intent, used to score visual-tag overlap.",
							"items":       map[string]any{"type": "string"},
						},
						"season": map[string]any{"type": "string", "description": "Optional season to favour when selecting season tags."},
						"top_k":  map[string]any{"type": "integer", "description": "Maximum results to return (default 10)."},
					},
					"required": []string{"candidates"},
				},
				EstimatedDurationMs: 800,
				MaxDurationMs:       4000,
				Idempotent:          true,
			},
			Handler:     rankAndExplainHandler(rk),
			DeclaredP50: 800,
			DeclaredMax: 4000,
		},
	}
}
