// Package ranking implements the ranking/fusion layer (§4.6): merging
// per-candidate enrichment payloads and deriving a single fused
// ViewpointResult with a weighted match_confidence and a deterministic
// match_explanation string.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mrwong99/viewpointrag/internal/viewpoint"
)

// Weights are the four fusion coefficients (§4.6), defaulting to
// 0.4/0.2/0.3/0.1 (name/category/tag-overlap/season-match) and overridable
// via internal/config (Open Question (b)).
type Weights struct {
	Name       float64
	Category   float64
	TagOverlap float64
	Season     float64
}

// DefaultWeights is the spec-mandated fusion weighting.
var DefaultWeights = Weights{Name: 0.4, Category: 0.2, TagOverlap: 0.3, Season: 0.1}

// enricher is the subset of *enrichment.Enricher the ranking layer depends
// on.
type enricher interface {
	HistoricalSummary(ctx context.Context, id int64) (string, []viewpoint.Evidence, error)
	VisualTags(ctx context.Context, id int64, season string) ([]viewpoint.VisualTagRecord, error)
}

// Ranker fuses candidate subscores into a ranked, enriched result set.
type Ranker struct {
	enricher enricher
	weights  Weights
}

// New builds a Ranker. A zero-value weights argument is replaced with
// DefaultWeights.
func New(enricher enricher, weights Weights) *Ranker {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Ranker{enricher: enricher, weights: weights}
}

// provisionalScore orders candidates before enrichment, when tag_overlap_score
// and season_match_bonus are not yet known. It is only used to pick the top
// 2*k shortlist (§4.6 step 0); the final order always comes from fuse.
func provisionalScore(c viewpoint.Candidate) float64 {
	return 0.4*c.NameScore + 0.2*c.CategoryScore + 0.1*c.Popularity
}

// fuse computes the weighted match confidence for one candidate (§4.6 step
// 4). tagOverlap and seasonMatch are derived from the candidate's enriched
// visual tags against the query's tags/season_hint; they cannot be known
// until enrichOne has fetched visual tags.
func (r *Ranker) fuse(c viewpoint.Candidate, tagOverlap, seasonMatch float64) float64 {
	return r.weights.Name*c.NameScore +
		r.weights.Category*c.CategoryScore +
		r.weights.TagOverlap*tagOverlap +
		r.weights.Season*seasonMatch
}

// Rank merges candidates (deduplicating by viewpoint id, keeping the
// highest-scoring subscores seen for each), concurrently enriches the top
// 2*k survivors against queryTags/season, and returns the top k fused
// ViewpointResults ordered by descending match_confidence. season, when
// non-empty, is forwarded to the visual-tag enrichment fetch so results
// favour season-matched tags.
func (r *Ranker) Rank(ctx context.Context, candidates []viewpoint.Candidate, queryTags []string, season string, k int) ([]viewpoint.ViewpointResult, error) {
	merged := dedupeBest(candidates)

	sort.Slice(merged, func(i, j int) bool {
		return provisionalScore(merged[i]) > provisionalScore(merged[j])
	})

	fanout := 2 * k
	if fanout <= 0 || fanout > len(merged) {
		fanout = len(merged)
	}
	shortlist := merged[:fanout]

	results := make([]viewpoint.ViewpointResult, len(shortlist))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, c := range shortlist {
		i, c := i, c
		g.Go(func() error {
			result, err := r.enrichOne(gctx, c, queryTags, season)
			if err != nil {
				return fmt.Errorf("ranking: enrich %d: %w", c.ViewpointID, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MatchConfidence > results[j].MatchConfidence
	})

	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (r *Ranker) enrichOne(ctx context.Context, c viewpoint.Candidate, queryTags []string, season string) (viewpoint.ViewpointResult, error) {
	summary, evidence, err := r.enricher.HistoricalSummary(ctx, c.ViewpointID)
	if err != nil {
		return viewpoint.ViewpointResult{}, err
	}

	tagRecords, err := r.enricher.VisualTags(ctx, c.ViewpointID, season)
	if err != nil {
		return viewpoint.ViewpointResult{}, err
	}
	seasonTags := make([]viewpoint.SeasonTagBlock, 0, len(tagRecords))
	candidateTags := make(map[string]struct{})
	var seasonMatch float64
	for _, rec := range tagRecords {
		seasonTags = append(seasonTags, viewpoint.SeasonTagBlock{
			Season:     rec.Season,
			Tags:       rec.Tags,
			Confidence: rec.Confidence,
			Evidence:   rec.Evidence,
		})
		for _, t := range rec.Tags {
			candidateTags[t] = struct{}{}
		}
		if string(rec.Season) == season && rec.Confidence > seasonMatch {
			seasonMatch = rec.Confidence
		}
	}

	tagOverlap := tagOverlapScore(candidateTags, queryTags)

	return viewpoint.ViewpointResult{
		ViewpointID:       c.ViewpointID,
		Name:              c.Name,
		NameVariants:      c.NameVariants,
		Category:          c.Category,
		HistoricalSummary: summary,
		Evidence:          evidence,
		SeasonTags:        seasonTags,
		MatchConfidence:   r.fuse(c, tagOverlap, seasonMatch),
		MatchExplanation:  explain(c, tagOverlap, seasonMatch, r.weights),
	}, nil
}

// tagOverlapScore computes |candidate_tags ∩ query_tags| / |query_tags|
// (§4.6 step 2), 0 when query_tags is empty.
func tagOverlapScore(candidateTags map[string]struct{}, queryTags []string) float64 {
	if len(queryTags) == 0 {
		return 0
	}
	var hits int
	for _, t := range queryTags {
		if _, ok := candidateTags[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTags))
}

// dedupeBest collapses candidates sharing a viewpoint id down to one,
// keeping the maximum of each subscore independently — a name-primitive hit
// and a tags-primitive hit for the same viewpoint should not shadow each
// other's evidence of relevance.
func dedupeBest(candidates []viewpoint.Candidate) []viewpoint.Candidate {
	byID := make(map[int64]viewpoint.Candidate, len(candidates))
	order := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		existing, ok := byID[c.ViewpointID]
		if !ok {
			byID[c.ViewpointID] = c
			order = append(order, c.ViewpointID)
			continue
		}
		existing.NameScore = maxFloat(existing.NameScore, c.NameScore)
		existing.GeoScore = maxFloat(existing.GeoScore, c.GeoScore)
		existing.CategoryScore = maxFloat(existing.CategoryScore, c.CategoryScore)
		if c.Popularity > existing.Popularity {
			existing.Popularity = c.Popularity
		}
		byID[c.ViewpointID] = existing
	}

	merged := make([]viewpoint.Candidate, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return merged
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

// explain builds a deterministic, human-readable breakdown of which
// subscores drove a candidate's match_confidence: name match, category,
// visual-tag overlap, strong season match, high popularity, in that fixed
// order so identical inputs always produce an identical string (§4.6 step 5).
func explain(c viewpoint.Candidate, tagOverlap, seasonMatch float64, w Weights) string {
	var parts []string
	if c.NameScore > 0 {
		parts = append(parts, fmt.Sprintf("name match %.2f (weight %.1f)", c.NameScore, w.Name))
	}
	if c.CategoryScore > 0 {
		parts = append(parts, fmt.Sprintf("category match %.2f (weight %.1f)", c.CategoryScore, w.Category))
	}
	if tagOverlap > 0 {
		parts = append(parts, fmt.Sprintf("visual-tag overlap %.2f (weight %.1f)", tagOverlap, w.TagOverlap))
	}
	if seasonMatch >= 0.5 {
		parts = append(parts, fmt.Sprintf("strong season match %.2f (weight %.1f)", seasonMatch, w.Season))
	}
	if c.Popularity >= 0.5 {
		parts = append(parts, fmt.Sprintf("high popularity %.2f", c.Popularity))
	}
	if len(parts) == 0 {
		return "no contributing signal"
	}
	return strings.Join(parts, "; ")
}
