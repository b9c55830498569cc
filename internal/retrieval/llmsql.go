package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mrwong99/viewpointrag/internal/viewpoint"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
	"github.com/mrwong99/viewpointrag/pkg/store/postgres"
)

// dbSchemaDescription is embedded verbatim into the SQL generation prompt so
// the model knows the exact table and column names it may reference. It must
// stay in sync with pkg/store/postgres/schema.go.
const dbSchemaDescription = `
Tables:
  viewpoint(id, name, name_variants jsonb, category, source_tags jsonb, geo geography, admin_regions jsonb, popularity)
  encyclopedia_entry(viewpoint_id, title, language, extract, sections jsonb, citations jsonb)
  knowledge_graph_entry(viewpoint_id, qid, claims jsonb, sitelinks_count)
  media_asset(id, viewpoint_id, source_file_id, caption, categories jsonb, depicted_ids jsonb, license, geo geography, width_pixels, height_pixels, format)
  visual_tag_record(viewpoint_id, season, tag_source, tags jsonb, confidence, evidence jsonb)

Notes:
  - admin_regions is a JSONB array of region/country strings; filter it with admin_regions::text ILIKE $n.
  - visual_tag_record.tags is a JSONB array; test membership with tags @> $n::jsonb where $n is a JSON array literal like '["snow_peak"]'.
  - Always use PostgreSQL positional placeholders ($1, $2, ...), never string interpolation.
`

// llmSQLResultColumns is the fixed column contract every generated query
// must project, in this order, so postgres.ExecuteGeneratedQuery can scan it
// the same way as every built-in primitive.
const llmSQLResultColumns = "id, name, name_variants, category, popularity, name_score, geo_score, category_score"

var forbiddenSQLKeywords = []string{"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE", "EXEC", "EXECUTE"}

var codeFence = regexp.MustCompile("(?i)^```(?:sql)?\\s*|```\\s*$")

var placeholderPattern = regexp.MustCompile(`\$([0-9]+)`)

// validateGeneratedSQL applies the allow-list safety check (§7): only a
// single SELECT statement is permitted, and no DDL/DML keyword may appear
// anywhere in the text, including inside subqueries or CTEs.
func validateGeneratedSQL(sql string) error {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("%w: statement does not start with SELECT", ErrUnsafeGeneratedSQL)
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("%w: multiple statements are not allowed", ErrUnsafeGeneratedSQL)
	}
	for _, kw := range forbiddenSQLKeywords {
		if strings.Contains(upper, kw) {
			return fmt.Errorf("%w: forbidden keyword %q", ErrUnsafeGeneratedSQL, kw)
		}
	}
	return nil
}

// SearchWithLLMSQL asks provider to draft a parameterised SELECT against the
// schema above, validates it, accounts for its placeholders, executes it,
// and falls back to the deterministic cascade when the statement is unsafe,
// has an irreconcilable placeholder/parameter mismatch, fails to execute, or
// returns zero rows.
func (r *Retriever) SearchWithLLMSQL(ctx context.Context, provider llm.Provider, intent viewpoint.QueryIntent, limit int) (postgres.FindResult, bool, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	sql, params, err := r.generateSQL(ctx, provider, intent, limit)
	if err != nil {
		r.log.Warn("retrieval: llm sql generation failed, falling back", "error", err)
		return r.fallbackEnvelope(ctx, intent, limit, "LLM SQL generation failed: "+err.Error())
	}

	if err := validateGeneratedSQL(sql); err != nil {
		r.log.Warn("retrieval: llm sql rejected by safety check, falling back", "error", err)
		return r.fallbackEnvelope(ctx, intent, limit, "generated SQL rejected: "+err.Error())
	}

	reconciled, ok := reconcileSQLParams(sql, params)
	if !ok {
		r.log.Warn("retrieval: llm sql placeholder count could not be reconciled, falling back",
			"placeholders", countPlaceholders(sql), "params", len(params))
		return r.fallbackEnvelope(ctx, intent, limit, fmt.Sprintf(
			"generated SQL rejected: placeholder count did not match parameter count (%d placeholders, %d params)",
			countPlaceholders(sql), len(params)))
	}
	params = reconciled

	candidates, err := r.store.ExecuteGeneratedQuery(ctx, sql, params)
	if err != nil {
		r.log.Warn("retrieval: llm sql execution failed, falling back", "error", err)
		return r.fallbackEnvelope(ctx, intent, limit, "generated SQL execution failed: "+err.Error())
	}

	if len(candidates) == 0 {
		res, _, ferr := r.Fallback(ctx, intent, limit)
		if ferr != nil {
			return res, false, ferr
		}
		return res, true, nil
	}

	return postgres.FindResult{Candidates: candidates, SQL: sql, Params: params}, false, nil
}

func (r *Retriever) fallbackEnvelope(ctx context.Context, intent viewpoint.QueryIntent, limit int, warning string) (postgres.FindResult, bool, error) {
	res, _, err := r.Fallback(ctx, intent, limit)
	if err == nil {
		res.Warning = warning
	}
	return res, true, err
}

// countPlaceholders returns the highest positional placeholder index ($n)
// referenced anywhere in sql, i.e. the number of distinct parameter slots
// the query expects. A placeholder may be referenced more than once (e.g.
// reused in both a WHERE clause and a CASE expression) without consuming an
// additional slot.
func countPlaceholders(sql string) int {
	max := 0
	for _, m := range placeholderPattern.FindAllStringSubmatch(sql, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

// reconcileSQLParams implements the mandatory placeholder-count accounting
// (§4.4/§9, invariant 6): it counts the $n placeholders the generated SQL
// references and reconciles params against that count — padding with nil or
// trimming while preserving the trailing limit parameter — mirroring the
// original's %s-occurrence pad/trim repair (sql_search_tool.py:374-398),
// adapted from occurrence counting to distinct dollar-index counting since
// Go's driver uses numbered rather than repeated positional placeholders.
// It reports ok=false, refusing the reconciliation (and therefore
// execution), only when the placeholder numbering itself is malformed —
// non-contiguous indices such as $1 and $3 with no $2 — since no safe
// repair exists for that case.
func reconcileSQLParams(sql string, params []any) (reconciled []any, ok bool) {
	seen := make(map[int]bool)
	max := 0
	for _, m := range placeholderPattern.FindAllStringSubmatch(sql, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, false
		}
		seen[n] = true
		if n > max {
			max = n
		}
	}
	for n := 1; n <= max; n++ {
		if !seen[n] {
			return nil, false
		}
	}

	if len(params) == max {
		return params, true
	}

	reconciled = make([]any, len(params))
	copy(reconciled, params)

	if len(reconciled) < max {
		for len(reconciled) < max {
			reconciled = append(reconciled, nil)
		}
		return reconciled, true
	}

	// len(reconciled) > max: trim, keeping the trailing limit parameter.
	if max == 0 {
		return []any{}, true
	}
	last := reconciled[len(reconciled)-1]
	reconciled = append(reconciled[:max-1], last)
	return reconciled, true
}

func (r *Retriever) generateSQL(ctx context.Context, provider llm.Provider, intent viewpoint.QueryIntent, limit int) (string, []any, error) {
	systemPrompt := fmt.Sprintf(`You are a SQL query generator for a tourist viewpoint search system.

%s

CRITICAL RULES:
1. ONLY generate a single SELECT statement — never INSERT, UPDATE, DELETE, DROP, CREATE, ALTER, TRUNCATE, EXEC.
2. Always use PostgreSQL positional placeholders ($1, $2, ...), never literal values.
3. The query must return exactly these columns in this order: %s.
4. Return ONLY the SQL text, no explanation, no markdown fences.
5. Always include a LIMIT clause.`, dbSchemaDescription, llmSQLResultColumns)

	userPrompt := fmt.Sprintf(`Query intent:
  name_candidates: %v
  query_tags: %v
  season_hint: %s
  scene_hints: %v
  geo_hints.country: %q
  limit: %d

Generate the SQL query now.`, intent.NameCandidates, intent.QueryTags, intent.SeasonHint, intent.SceneHints, intent.GeoHints.Country, limit)

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: userPrompt}},
		Temperature:  0.1,
		MaxTokens:    1000,
	})
	if err != nil {
		return "", nil, fmt.Errorf("retrieval: llm sql completion: %w", err)
	}

	sql := codeFence.ReplaceAllString(strings.TrimSpace(resp.Content), "")
	sql = strings.TrimSpace(sql)

	params := buildLLMSQLParams(intent, r.schema, limit)
	return sql, params, nil
}

// buildLLMSQLParams derives a deterministic parameter list from intent, in
// this order: name patterns, then the query tags that are registry
// categories (other tags are not included), then scene-hint text patterns,
// then country variants, then season, then the limit last.
func buildLLMSQLParams(intent viewpoint.QueryIntent, schema interface {
	IsCategory(string) bool
}, limit int) []any {
	var params []any

	for _, name := range intent.NameCandidates {
		params = append(params, "%"+name+"%")
	}
	for _, t := range intent.QueryTags {
		if schema != nil && schema.IsCategory(t) {
			params = append(params, t)
		}
	}
	for _, scene := range intent.SceneHints {
		params = append(params, "%"+scene+"%")
	}
	if intent.GeoHints.Country != "" {
		for _, v := range NormalizeCountry(intent.GeoHints.Country) {
			params = append(params, "%"+v+"%")
		}
	}
	if intent.SeasonHint != "" && intent.SeasonHint != viewpoint.SeasonUnknown {
		params = append(params, string(intent.SeasonHint))
	}
	params = append(params, limit)
	return params
}
