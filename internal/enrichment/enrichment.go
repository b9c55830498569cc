// Package enrichment implements the enrichment layer (§4.5): four
// independent payload fetchers — encyclopedia, knowledge graph, visual
// tags, media assets — plus a historical-summary helper that composes the
// encyclopedia payload into evidence-backed text.
package enrichment

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/mrwong99/viewpointrag/internal/viewpoint"
)

const historicalSummaryExcerptLen = 200

// store is the subset of *postgres.Store the enrichment layer depends on.
type store interface {
	FetchEncyclopedia(ctx context.Context, id int64) (*viewpoint.EncyclopediaEntry, error)
	FetchKnowledgeGraph(ctx context.Context, id int64) (*viewpoint.KnowledgeGraphEntry, error)
	FetchVisualTags(ctx context.Context, id int64, season string) ([]viewpoint.VisualTagRecord, error)
	FetchAssets(ctx context.Context, id int64, limit int, includeBytes bool) ([]viewpoint.MediaAsset, error)
}

// Enricher fetches the four independent enrichment payloads for a single
// candidate viewpoint.
type Enricher struct {
	store store
}

// New builds an Enricher over store.
func New(store store) *Enricher {
	return &Enricher{store: store}
}

// Encyclopedia fetches the 1:1 encyclopedia entry for id, or nil if none
// exists — absence is not an error (§7 EnrichmentPartial covers this).
func (e *Enricher) Encyclopedia(ctx context.Context, id int64) (*viewpoint.EncyclopediaEntry, error) {
	entry, err := e.store.FetchEncyclopedia(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("enrichment: encyclopedia %d: %w", id, err)
	}
	return entry, nil
}

// KnowledgeGraph fetches the 1:1 knowledge-graph entry for id, or nil if
// none exists.
func (e *Enricher) KnowledgeGraph(ctx context.Context, id int64) (*viewpoint.KnowledgeGraphEntry, error) {
	entry, err := e.store.FetchKnowledgeGraph(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("enrichment: knowledge graph %d: %w", id, err)
	}
	return entry, nil
}

// VisualTags fetches visual tag records for id, optionally scoped to
// season. When season is a concrete (non-"unknown") value, season-specific
// records are returned ahead of "unknown"-season records, by confidence
// within each group — general-purpose tags still surface when no
// season-specific tag exists.
func (e *Enricher) VisualTags(ctx context.Context, id int64, season string) ([]viewpoint.VisualTagRecord, error) {
	records, err := e.store.FetchVisualTags(ctx, id, season)
	if err != nil {
		return nil, fmt.Errorf("enrichment: visual tags %d: %w", id, err)
	}
	return records, nil
}

// MediaAssets fetches up to limit media assets for id. includeBytes should
// be false for any payload that will be serialised into an HTTP response —
// media bytes are only needed by the visual-tag extraction pipeline that
// populates the corpus, never by a search response.
func (e *Enricher) MediaAssets(ctx context.Context, id int64, limit int, includeBytes bool) ([]viewpoint.MediaAsset, error) {
	assets, err := e.store.FetchAssets(ctx, id, limit, includeBytes)
	if err != nil {
		return nil, fmt.Errorf("enrichment: media assets %d: %w", id, err)
	}
	return assets, nil
}

// HistoricalSummary composes the encyclopedia payload into a summary string
// plus its evidence trail: the extract itself (truncated to
// historicalSummaryExcerptLen for the evidence excerpt, though the summary
// text returned is never truncated) and one evidence entry per citation.
// Returns ("", nil) when no encyclopedia entry exists for id — callers
// should fall back to any precomputed AI summary they hold rather than
// treat this as a hard failure.
func (e *Enricher) HistoricalSummary(ctx context.Context, id int64) (string, []viewpoint.Evidence, error) {
	entry, err := e.Encyclopedia(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if entry == nil || entry.Extract == "" {
		return "", nil, nil
	}

	excerpt := entry.Extract
	if len(excerpt) > historicalSummaryExcerptLen {
		excerpt = truncateRunes(excerpt, historicalSummaryExcerptLen) + "..."
	}

	evidence := []viewpoint.Evidence{{
		Source:    "wikipedia",
		Reference: entry.Title,
		Excerpt:   excerpt,
	}}
	for _, c := range entry.Citations {
		evidence = append(evidence, viewpoint.Evidence{
			Source:    "wikipedia_citation",
			Reference: c.Ref,
			Excerpt:   c.Text,
		})
	}

	return entry.Extract, evidence, nil
}

// truncateRunes cuts s to at most n bytes without splitting a multi-byte
// rune, backing off byte-by-byte from the n-th byte until it lands on a
// rune boundary.
func truncateRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
