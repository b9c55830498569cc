// Package retrieval implements the six named search primitives (§4.4), their
// composite fan-out, and the deterministic fallback cascade that the agent
// orchestrator and request mediator fall back on when a direct search comes
// back empty.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mrwong99/viewpointrag/internal/tagschema"
	"github.com/mrwong99/viewpointrag/internal/viewpoint"
	"github.com/mrwong99/viewpointrag/pkg/store/postgres"
)

// DefaultLimit is the candidate count used when a caller does not specify
// one explicitly.
const DefaultLimit = 50

// store is the subset of *postgres.Store the retrieval layer depends on,
// narrowed so tests can supply an in-memory fake.
type store interface {
	FindByName(ctx context.Context, pattern string, limit int) (postgres.FindResult, error)
	FindByCategory(ctx context.Context, category string, countryVariants []string, limit int) (postgres.FindResult, error)
	FindByTags(ctx context.Context, tags []string, categoryHints []string, season string, limit int) (postgres.FindResult, error)
	FindByHistoryTerms(ctx context.Context, terms []string, limit int) (postgres.FindResult, error)
	FindPopular(ctx context.Context, limit int) (postgres.FindResult, error)
	ExecuteGeneratedQuery(ctx context.Context, sql string, params []any) ([]viewpoint.Candidate, error)
}

// visualToCategoryHint mirrors the category implied by a handful of visual
// tags whose presence strongly suggests a landform category — e.g. a
// snow-capped peak is almost certainly a mountain. Only tags worth hinting
// are listed; everything else is searched as a pure visual tag.
var visualToCategoryHint = map[string]string{
	"snow_peak": "mountain",
	"snowy":     "mountain",
	"waterfall": "waterfall",
}

// Retriever executes the six search primitives against a Postgres-backed
// store, gating every tag-bearing query against the active tag schema.
type Retriever struct {
	store  store
	schema *tagschema.Registry
	log    *slog.Logger
}

// New builds a Retriever over store, validating tag-bearing queries against
// schema.
func New(store store, schema *tagschema.Registry, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{store: store, schema: schema, log: log}
}

// SearchByName matches name against Viewpoint.Name and its NameVariants.
func (r *Retriever) SearchByName(ctx context.Context, name string, limit int) (postgres.FindResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	result, err := r.store.FindByName(ctx, name, limit)
	if err != nil {
		return result, fmt.Errorf("%w: search by name: %v", ErrRetrievalFailed, err)
	}
	return result, nil
}

// SearchByCategory matches viewpoints in category, optionally narrowed to
// country. An unrecognised category is still searched verbatim: unlike
// SearchByTags, this method does not check its input against the tag schema.
// When the country filter yields zero rows the store silently relaxes to a
// category-only match; the returned FindResult.Warning explains the
// relaxation and FindResult.SQL records both attempted queries.
func (r *Retriever) SearchByCategory(ctx context.Context, category, country string, limit int) (postgres.FindResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var variants []string
	if country != "" {
		variants = NormalizeCountry(country)
	}
	result, err := r.store.FindByCategory(ctx, category, variants, limit)
	if err != nil {
		return result, fmt.Errorf("%w: search by category: %v", ErrRetrievalFailed, err)
	}
	return result, nil
}

// SearchByTags matches viewpoints whose visual_tag_record contains any of
// tags, optionally scoped to season. Tags outside the active schema are
// dropped with a logged warning before the query is built.
func (r *Retriever) SearchByTags(ctx context.Context, tags []string, season string, limit int) (postgres.FindResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	kept := tags
	if r.schema != nil {
		var dropped []string
		kept, dropped = r.schema.Validate(tags)
		if len(dropped) > 0 {
			r.log.Warn("retrieval: dropping tags outside active schema", "dropped", dropped)
		}
	}
	if len(kept) == 0 {
		return postgres.FindResult{}, nil
	}

	var categoryHints []string
	for _, t := range kept {
		if hint, ok := visualToCategoryHint[t]; ok {
			categoryHints = append(categoryHints, hint)
		}
	}

	result, err := r.store.FindByTags(ctx, kept, categoryHints, season, limit)
	if err != nil {
		return result, fmt.Errorf("%w: search by tags: %v", ErrRetrievalFailed, err)
	}
	return result, nil
}

// SearchByHistoryTerms full-text searches encyclopedia extracts for any of
// terms.
func (r *Retriever) SearchByHistoryTerms(ctx context.Context, terms []string, limit int) (postgres.FindResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	result, err := r.store.FindByHistoryTerms(ctx, terms, limit)
	if err != nil {
		return result, fmt.Errorf("%w: search by history terms: %v", ErrRetrievalFailed, err)
	}
	return result, nil
}

// SearchPopular returns the highest-popularity viewpoints, unconditionally.
func (r *Retriever) SearchPopular(ctx context.Context, limit int) (postgres.FindResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	result, err := r.store.FindPopular(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("%w: search popular: %v", ErrRetrievalFailed, err)
	}
	return result, nil
}

// Composite fans a QueryIntent out across every primitive its fields
// populate and concatenates the results, without deduplication — ranking
// (internal/ranking) owns merging candidates that resolve to the same
// viewpoint id.
func (r *Retriever) Composite(ctx context.Context, intent viewpoint.QueryIntent, limit int) ([]postgres.FindResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var results []postgres.FindResult

	for _, name := range intent.NameCandidates {
		res, err := r.SearchByName(ctx, name, limit)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	var categories, visualTags []string
	for _, t := range intent.QueryTags {
		if r.schema != nil && r.schema.IsCategory(t) {
			categories = append(categories, t)
		} else {
			visualTags = append(visualTags, t)
		}
	}
	for _, category := range categories {
		res, err := r.SearchByCategory(ctx, category, intent.GeoHints.Country, limit)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if len(visualTags) > 0 {
		res, err := r.SearchByTags(ctx, visualTags, string(intent.SeasonHint), limit)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if len(intent.SceneHints) > 0 {
		res, err := r.SearchByHistoryTerms(ctx, intent.SceneHints, limit)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	if len(results) == 0 {
		res, err := r.SearchPopular(ctx, limit)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Fallback runs the deterministic, priority-ordered cascade (§4.4): name,
// then category (with country, then without), then tags, then a fuzzy
// partial-name retry, then popular as a last resort. It stops at the first
// primitive that returns at least one candidate.
func (r *Retriever) Fallback(ctx context.Context, intent viewpoint.QueryIntent, limit int) (postgres.FindResult, string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if len(intent.NameCandidates) > 0 {
		res, err := r.SearchByName(ctx, intent.NameCandidates[0], limit)
		if err != nil {
			return res, "", err
		}
		if len(res.Candidates) > 0 {
			return res, "name", nil
		}
	}

	var categories, visualTags []string
	for _, t := range intent.QueryTags {
		if r.schema != nil && r.schema.IsCategory(t) {
			categories = append(categories, t)
		} else {
			visualTags = append(visualTags, t)
		}
	}
	if len(categories) > 0 {
		res, err := r.SearchByCategory(ctx, categories[0], intent.GeoHints.Country, limit)
		if err != nil {
			return res, "", err
		}
		if len(res.Candidates) > 0 {
			return res, "category", nil
		}
	}

	if len(visualTags) > 0 {
		res, err := r.SearchByTags(ctx, visualTags, string(intent.SeasonHint), limit)
		if err != nil {
			return res, "", err
		}
		if len(res.Candidates) > 0 {
			return res, "tags", nil
		}
	}

	for _, name := range intent.NameCandidates {
		if len(name) <= 2 {
			continue
		}
		partial := name
		if len(name) > 4 {
			partial = name[:len(name)/2]
		}
		res, err := r.SearchByName(ctx, partial, limit)
		if err != nil {
			return res, "", err
		}
		if len(res.Candidates) > 0 {
			return res, "partial_name", nil
		}
	}

	res, err := r.SearchPopular(ctx, limit)
	if err != nil {
		return res, "", err
	}
	return res, "popular", nil
}
