package intent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrwong99/viewpointrag/internal/tagschema"
	"github.com/mrwong99/viewpointrag/internal/viewpoint"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm/mock"
)

func testSchema(t *testing.T) *tagschema.Registry {
	t.Helper()
	dir := t.TempDir()
	body := `{"version":"v1","categories":["mountain"],"visual_tags":["snow_peak"],"scene_tags":["alpine"],"countries":["japan"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v1.json"), []byte(body), 0o644))
	r, err := tagschema.Load(dir, "v1")
	require.NoError(t, err)
	return r
}

func TestExtract_EmptyInputReturnsDefault(t *testing.T) {
	e := New(&mock.Provider{}, testSchema(t))
	got, err := e.Extract(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, viewpoint.SeasonUnknown, got.SeasonHint)
	assert.Contains(t, got.ConfidenceNotes, "no user input provided")
}

func TestExtract_ParsesValidResponse(t *testing.T) {
	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{
			"name_candidates": ["Mount Fuji"],
			"query_tags": ["mountain", "snow_peak"],
			"season_hint": "winter",
			"scene_hints": ["alpine village"],
			"geo_hints": {"place_name": "Fuji", "country": "Japan"},
			"confidence_notes": []
		}`},
	}
	e := New(p, testSchema(t))

	got, err := e.Extract(context.Background(), "snowy mountain in Japan", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mount Fuji"}, got.NameCandidates)
	assert.ElementsMatch(t, []string{"mountain", "snow_peak"}, got.QueryTags)
	assert.Equal(t, viewpoint.SeasonWinter, got.SeasonHint)
	assert.Equal(t, "Japan", got.GeoHints.Country)
}

func TestExtract_DropsTagsOutsideSchema(t *testing.T) {
	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{
			"query_tags": ["mountain", "not_a_real_tag"],
			"season_hint": "unknown"
		}`},
	}
	e := New(p, testSchema(t))

	got, err := e.Extract(context.Background(), "a mountain", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mountain"}, got.QueryTags)
	assert.NotEmpty(t, got.ConfidenceNotes)
}

func TestExtract_RejectsImagesWithoutVisionSupport(t *testing.T) {
	p := &mock.Provider{ModelCapabilities: llm.ModelCapabilities{SupportsVision: false}}
	e := New(p, testSchema(t))

	_, err := e.Extract(context.Background(), "", []string{"data:image/jpeg;base64,AAAA"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtractionFailed))
}

func TestExtract_InvalidJSONFails(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "not json at all"}}
	e := New(p, testSchema(t))

	_, err := e.Extract(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtractionFailed))
}
