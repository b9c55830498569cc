// Package viewpoint defines the data model manipulated by the retrieval core:
// the corpus entities (Viewpoint, EncyclopediaEntry, KnowledgeGraphEntry,
// MediaAsset, VisualTagRecord) and the transient request/response shapes
// (QueryIntent, Candidate, ViewpointResult) that flow through the pipeline.
//
// All types are plain structs with JSON tags; persistence and transport
// concerns live in pkg/store/postgres and internal/httpapi respectively, not
// here.
package viewpoint

import "time"

// Season is the controlled enum used by visual tags and query intents.
type Season string

const (
	SeasonSpring  Season = "spring"
	SeasonSummer  Season = "summer"
	SeasonAutumn  Season = "autumn"
	SeasonWinter  Season = "winter"
	SeasonUnknown Season = "unknown"
)

// IsValid reports whether s is one of the five controlled season values.
func (s Season) IsValid() bool {
	switch s {
	case SeasonSpring, SeasonSummer, SeasonAutumn, SeasonWinter, SeasonUnknown:
		return true
	default:
		return false
	}
}

// GeoPoint is a WGS84 geographic coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Viewpoint is a single point of interest (mountain, temple, park, bridge, …)
// materialised from the preindexed corpus. Id is unique; Geo is non-nil when
// the viewpoint participates in spatial queries.
type Viewpoint struct {
	// ID is the stable integer identifier.
	ID int64 `json:"id"`

	// Name is the primary display name.
	Name string `json:"name"`

	// NameVariants maps a language code to a localised name.
	NameVariants map[string]string `json:"name_variants,omitempty"`

	// Category is a normalised registry category (e.g. "mountain", "temple").
	Category string `json:"category"`

	// SourceTags is the raw, uncontrolled tag bag as ingested from OSM/source
	// data — distinct from the controlled VisualTagRecord.Tags.
	SourceTags []string `json:"source_tags,omitempty"`

	// Geo is the WGS84 point. Nil when the viewpoint has no known location.
	Geo *GeoPoint `json:"geo,omitempty"`

	// AdminRegions is an opaque list of administrative-region identifiers
	// (country, province, …) used for country-scoped search.
	AdminRegions []string `json:"admin_regions,omitempty"`

	// Popularity is a score in [0,1], monotone in source authority
	// (sitelink count, visitor statistics, …).
	Popularity float64 `json:"popularity"`
}

// Section is one heading-delimited block of an EncyclopediaEntry's body.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Level   int    `json:"level"`
}

// Citation is a single reference backing an EncyclopediaEntry.
type Citation struct {
	Ref  string `json:"ref"`
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// EncyclopediaEntry is the 1:1 encyclopedia mirror for a Viewpoint. Present
// implies Extract is non-empty.
type EncyclopediaEntry struct {
	ViewpointID int64      `json:"viewpoint_id"`
	Title       string     `json:"title"`
	Language    string     `json:"language"`
	Extract     string     `json:"extract"`
	Sections    []Section  `json:"sections,omitempty"`
	Citations   []Citation `json:"citations,omitempty"`
}

// KnowledgeGraphEntry is the 1:1 knowledge-graph record for a Viewpoint.
type KnowledgeGraphEntry struct {
	ViewpointID    int64             `json:"viewpoint_id"`
	QID            string            `json:"qid"`
	Claims         map[string][]any  `json:"claims,omitempty"`
	SitelinksCount int               `json:"sitelinks_count"`
}

// MediaAsset is one image or media record attached N:1 to a Viewpoint.
// Geo, when present, is WGS84 — from EXIF or the source's own declaration.
type MediaAsset struct {
	ID            string    `json:"id"`
	ViewpointID   int64     `json:"viewpoint_id"`
	SourceFileID  string    `json:"source_file_id"`
	Caption       string    `json:"caption,omitempty"`
	Categories    []string  `json:"categories,omitempty"`
	DepictedIDs   []string  `json:"depicted_entity_ids,omitempty"`
	License       string    `json:"license,omitempty"`
	ImageBytes    []byte    `json:"-"`
	Geo           *GeoPoint `json:"geo,omitempty"`
	WidthPixels   int       `json:"width_pixels,omitempty"`
	HeightPixels  int       `json:"height_pixels,omitempty"`
	Format        string    `json:"format,omitempty"`
}

// VisualTagEvidence points at the record that justifies a VisualTagRecord —
// an encyclopedia sentence, an image, or a model run.
type VisualTagEvidence struct {
	Source    string `json:"source"` // "encyclopedia_sentence" | "image" | "model_run"
	Reference string `json:"reference"`
	Detail    string `json:"detail,omitempty"`
}

// VisualTagRecord is an LLM-extracted, season-scoped, controlled-vocabulary
// tag profile for a Viewpoint, keyed N:1 by (viewpoint id, season, tag
// source). Tags must be a subset of the active tag schema's allowed tags.
type VisualTagRecord struct {
	ViewpointID int64               `json:"viewpoint_id"`
	Season      Season              `json:"season"`
	TagSource   string              `json:"tag_source"`
	Tags        []string            `json:"tags"`
	Confidence  float64             `json:"confidence"`
	Evidence    []VisualTagEvidence `json:"evidence,omitempty"`
}

// GeoHints narrows a QueryIntent to a place name and/or country.
type GeoHints struct {
	PlaceName string `json:"place_name,omitempty"`
	Country   string `json:"country,omitempty"`
}

// QueryIntent is the structured interpretation of a user request, produced
// by the intent extractor (transient — owned by the request).
type QueryIntent struct {
	NameCandidates  []string `json:"name_candidates,omitempty"`
	QueryTags       []string `json:"query_tags,omitempty"`
	SeasonHint      Season   `json:"season_hint"`
	SceneHints      []string `json:"scene_hints,omitempty"`
	GeoHints        GeoHints `json:"geo_hints,omitempty"`
	ConfidenceNotes []string `json:"confidence_notes,omitempty"`
}

// Candidate is a retrieval-layer hit carrying source-attributed subscores,
// prior to fusion/ranking.
type Candidate struct {
	ViewpointID   int64   `json:"viewpoint_id"`
	Name          string  `json:"name"`
	NameVariants  map[string]string `json:"name_variants,omitempty"`
	Category      string  `json:"category"`
	Popularity    float64 `json:"popularity"`
	NameScore     float64 `json:"name_score"`
	GeoScore      float64 `json:"geo_score"`
	CategoryScore float64 `json:"category_score"`
}

// Evidence is a single piece of provenance attached to a ViewpointResult —
// it must point at a real record of a known source kind.
type Evidence struct {
	Source    string `json:"source"` // "wikipedia" | "wikipedia_citation" | "ai_summary"
	Reference string `json:"reference"`
	Excerpt   string `json:"excerpt,omitempty"`
}

// SeasonTagBlock pairs a season's controlled tags with their evidence for
// inclusion in a ViewpointResult.
type SeasonTagBlock struct {
	Season     Season              `json:"season"`
	Tags       []string            `json:"tags"`
	Confidence float64             `json:"confidence"`
	Evidence   []VisualTagEvidence `json:"evidence,omitempty"`
}

// ViewpointResult is the fused, ranked, user-facing result for one viewpoint
// (transient — owned by the request, freed once the response is serialised).
type ViewpointResult struct {
	ViewpointID       int64             `json:"viewpoint_id"`
	Name              string            `json:"name"`
	NameVariants      map[string]string `json:"name_variants,omitempty"`
	Category          string            `json:"category"`
	HistoricalSummary string            `json:"historical_summary,omitempty"`
	Evidence          []Evidence        `json:"evidence,omitempty"`
	SeasonTags        []SeasonTagBlock  `json:"season_tags,omitempty"`
	MatchConfidence   float64           `json:"match_confidence"`
	MatchExplanation  string            `json:"match_explanation"`
}

// QueryLogRecord is one append-only row of the query_log table (§6):
// a best-effort audit trail of a served request.
type QueryLogRecord struct {
	ID             string            `json:"id"`
	UserText       string            `json:"user_text"`
	UserImageRefs  []string          `json:"user_image_refs,omitempty"`
	Intent         *QueryIntent      `json:"intent,omitempty"`
	SQLQueries     []string          `json:"sql_queries,omitempty"`
	ToolTrace      []ToolTraceEntry  `json:"tool_trace,omitempty"`
	Results        []ViewpointResult `json:"results,omitempty"`
	ElapsedMs      int64             `json:"elapsed_ms"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ToolTraceEntry records one agent tool invocation: name, arguments, result.
type ToolTraceEntry struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error,omitempty"`
}
