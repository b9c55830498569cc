// Package intent implements the intent extractor (§4.3): the only pipeline
// stage that directly interprets free-form user text and images, turning
// them into a structured, schema-validated QueryIntent. It never identifies
// a specific viewpoint, fetches data, or states facts about any place.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mrwong99/viewpointrag/internal/tagschema"
	"github.com/mrwong99/viewpointrag/internal/viewpoint"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
)

// Extractor turns user input into a QueryIntent using a vision-capable LLM
// provider, gating its query_tags output against the active tag schema.
type Extractor struct {
	provider llm.Provider
	schema   *tagschema.Registry
}

// New builds an Extractor. provider.Capabilities().SupportsVision is checked
// lazily on the first call that actually supplies images; a text-only
// provider remains usable for text-only requests.
func New(provider llm.Provider, schema *tagschema.Registry) *Extractor {
	return &Extractor{provider: provider, schema: schema}
}

// rawIntent is the JSON shape the model is instructed to emit — it mirrors
// viewpoint.QueryIntent but keeps geo_hints inline rather than requiring a
// populated pointer, so an empty response still unmarshals cleanly.
type rawIntent struct {
	NameCandidates []string `json:"name_candidates"`
	QueryTags      []string `json:"query_tags"`
	SeasonHint     string   `json:"season_hint"`
	SceneHints     []string `json:"scene_hints"`
	GeoHints       struct {
		PlaceName string `json:"place_name"`
		Country   string `json:"country"`
	} `json:"geo_hints"`
	ConfidenceNotes []string `json:"confidence_notes"`
}

// Extract converts userText and userImages (file paths, URLs, or raw
// base64, in any mix) into a QueryIntent. Supplying neither is not an
// error: it returns a default intent with season_hint "unknown" and a
// confidence note, matching the no-signal case described in §4.3.
func (e *Extractor) Extract(ctx context.Context, userText string, userImages []string) (viewpoint.QueryIntent, error) {
	if strings.TrimSpace(userText) == "" && len(userImages) == 0 {
		return viewpoint.QueryIntent{
			SeasonHint:      viewpoint.SeasonUnknown,
			ConfidenceNotes: []string{"no user input provided"},
		}, nil
	}

	if len(userImages) > 0 && !e.provider.Capabilities().SupportsVision {
		return viewpoint.QueryIntent{}, fmt.Errorf("%w: provider does not support vision input", ErrExtractionFailed)
	}

	content := userText
	if content == "" {
		content = imageOnlyPrompt
	}
	// llm.Message carries no dedicated image field; each reference is
	// canonicalised to a data URL and appended as its own line so a
	// vision-capable provider adapter can split it back out before the
	// call reaches the underlying API.
	for _, ref := range userImages {
		dataURL, err := canonicalizeImageRef(ref)
		if err != nil {
			return viewpoint.QueryIntent{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		content += "\n[image: " + dataURL + "]"
	}

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(e.schema),
		Messages:     []llm.Message{{Role: "user", Content: content}},
		Temperature:  0.1,
	})
	if err != nil {
		return viewpoint.QueryIntent{}, fmt.Errorf("%w: completion: %v", ErrExtractionFailed, err)
	}

	var raw rawIntent
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &raw); err != nil {
		return viewpoint.QueryIntent{}, fmt.Errorf("%w: parse response: %v", ErrExtractionFailed, err)
	}

	kept, dropped := e.schema.Validate(raw.QueryTags)
	notes := raw.ConfidenceNotes
	if len(dropped) > 0 {
		notes = append(notes, fmt.Sprintf("dropped %d tag(s) outside the controlled vocabulary", len(dropped)))
	}

	season := viewpoint.Season(strings.ToLower(raw.SeasonHint))
	if !season.IsValid() {
		season = viewpoint.SeasonUnknown
		notes = append(notes, "model returned an unrecognised season_hint; defaulted to unknown")
	}

	return viewpoint.QueryIntent{
		NameCandidates: raw.NameCandidates,
		QueryTags:      kept,
		SeasonHint:     season,
		SceneHints:     raw.SceneHints,
		GeoHints: viewpoint.GeoHints{
			PlaceName: raw.GeoHints.PlaceName,
			Country:   raw.GeoHints.Country,
		},
		ConfidenceNotes: notes,
	}, nil
}

// extractJSONObject trims any surrounding markdown fence or prose the model
// may have added despite the prompt's instruction to return raw JSON,
// returning the substring from the first '{' to the last '}'.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
