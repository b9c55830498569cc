package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrwong99/viewpointrag/internal/agent/orchestrator"
	"github.com/mrwong99/viewpointrag/internal/health"
	"github.com/mrwong99/viewpointrag/internal/mcp"
	"github.com/mrwong99/viewpointrag/internal/mediator"
	"github.com/mrwong99/viewpointrag/internal/viewpoint"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm/mock"
	"github.com/mrwong99/viewpointrag/pkg/store/postgres"
)

type fakeHost struct{}

func (h *fakeHost) AvailableTools(_ mcp.BudgetTier) []llm.ToolDefinition { return nil }
func (h *fakeHost) ExecuteTool(_ context.Context, _ string, _ string) (*mcp.ToolResult, error) {
	return &mcp.ToolResult{Content: `{"candidates":[]}`}, nil
}
func (h *fakeHost) Calibrate(_ context.Context) error { return nil }
func (h *fakeHost) Close() error                      { return nil }

type fakeExtractor struct {
	intent viewpoint.QueryIntent
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, _ []string) (viewpoint.QueryIntent, error) {
	return f.intent, f.err
}

type fakeRetriever struct{}

func (f *fakeRetriever) Fallback(_ context.Context, _ viewpoint.QueryIntent, _ int) (postgres.FindResult, string, error) {
	return postgres.FindResult{}, "", nil
}

type fakeRanker struct{}

func (f *fakeRanker) Rank(_ context.Context, _ []viewpoint.Candidate, _ []string, _ string, _ int) ([]viewpoint.ViewpointResult, error) {
	return nil, nil
}

type fakeDetailsStore struct {
	vp  viewpoint.Viewpoint
	err error
}

func (f *fakeDetailsStore) FetchViewpoint(_ context.Context, _ int64) (viewpoint.Viewpoint, error) {
	return f.vp, f.err
}
func (f *fakeDetailsStore) FetchEncyclopedia(_ context.Context, _ int64) (*viewpoint.EncyclopediaEntry, error) {
	return nil, nil
}
func (f *fakeDetailsStore) FetchKnowledgeGraph(_ context.Context, _ int64) (*viewpoint.KnowledgeGraphEntry, error) {
	return nil, nil
}
func (f *fakeDetailsStore) FetchVisualTags(_ context.Context, _ int64, _ string) ([]viewpoint.VisualTagRecord, error) {
	return nil, nil
}
func (f *fakeDetailsStore) FetchAssets(_ context.Context, _ int64, _ int, _ bool) ([]viewpoint.MediaAsset, error) {
	return nil, nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	provider := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "no tools needed"}}
	orch := orchestrator.New(provider, &fakeHost{}, 5)
	med := mediator.New(orch, &fakeExtractor{}, &fakeRetriever{}, &fakeRanker{}, nil, "v1", nil)

	return Deps{
		Mediator:     med,
		Extractor:    &fakeExtractor{intent: viewpoint.QueryIntent{NameCandidates: []string{"Fuji"}}},
		Orchestrator: orch,
		Store:        &fakeDetailsStore{vp: viewpoint.Viewpoint{ID: 42, Name: "Mount Fuji"}},
		Health:       health.New(),
		SchemaVer:    "v1",
	}
}

func TestHandleQuery_RejectsEmptyText(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"user_text":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_JSONBody(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	body, _ := json.Marshal(map[string]any{"user_text": "Mount Fuji"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp mediator.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.TagSchemaVersion)
}

func TestHandleQuery_FormBody(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	form := strings.NewReader("user_text=Mount+Fuji&top_k=3")
	req := httptest.NewRequest(http.MethodPost, "/query", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleExtractIntent_RequiresTextOrImages(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/extract-query-intent", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExtractIntent_OK(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	body, _ := json.Marshal(map[string]any{"user_text": "find Mount Fuji"})
	req := httptest.NewRequest(http.MethodPost, "/extract-query-intent", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp extractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Fuji"}, resp.QueryIntent.NameCandidates)
}

func TestHandleAgentQuery_RequiresUserQuery(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/agent/query", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAgentQuery_OK(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	body, _ := json.Marshal(map[string]any{"user_query": "find Mount Fuji"})
	req := httptest.NewRequest(http.MethodPost, "/agent/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp agentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no tools needed", resp.Answer)
}

func TestHandleViewpointDetails_OK(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/viewpoint/42", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp viewpointDetailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Viewpoint.ID)
}

func TestHandleViewpointDetails_InvalidID(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/viewpoint/not-a-number", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReadyz(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	for _, path := range []string{"/healthz", "/readyz", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMetrics_Served(t *testing.T) {
	mux := NewMux(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
