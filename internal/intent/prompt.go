package intent

import (
	"fmt"
	"strings"

	"github.com/mrwong99/viewpointrag/internal/tagschema"
)

// systemPrompt builds the extraction constraints, embedding the active tag
// schema's three controlled vocabularies verbatim so the model never has to
// be told them twice — it both reads the allowed values here and has its
// query_tags re-validated against the same Registry after the call returns.
func systemPrompt(schema *tagschema.Registry) string {
	return fmt.Sprintf(`You are a query intent extraction tool for a viewpoint/tourist attraction search system.

Your ONLY job is to extract structured query intent from user input (text and optional images).

CRITICAL CONSTRAINTS:
1. query_tags MUST come from the controlled vocabulary below. Never invent a free-text tag.
2. If uncertain about season, set season_hint to "unknown" and explain why in confidence_notes.
3. You ONLY extract intent — you do NOT identify a specific viewpoint, fetch data, or state facts about any place.

CONTROLLED TAG VOCABULARY (schema version %s):
- Categories: %s
- Visual Tags: %s
- Scene Tags: %s

Respond with a single JSON object matching exactly this shape:
{
  "name_candidates": ["string"],
  "query_tags": ["string"],
  "season_hint": "spring|summer|autumn|winter|unknown",
  "scene_hints": ["string"],
  "geo_hints": {"place_name": "string or empty", "country": "string or empty"},
  "confidence_notes": ["string"]
}`,
		schema.Version(),
		strings.Join(schema.Categories(), ", "),
		strings.Join(schema.VisualTags(), ", "),
		strings.Join(schema.SceneTags(), ", "),
	)
}

const imageOnlyPrompt = "Analyze this image and extract query intent for a viewpoint/tourist attraction search system. Identify visual features, season, scene type, and any place names you can recognize."
