// Package httpapi wires the external HTTP surface (§6): the direct query
// endpoint, the intent-only endpoint, the agent endpoint, viewpoint detail
// lookup, and the operational health/readiness/metrics routes.
//
// Routing follows the teacher's net/http http.ServeMux style
// (mux.HandleFunc("GET /healthz", ...)) generalised to the full route table.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrwong99/viewpointrag/internal/agent/orchestrator"
	"github.com/mrwong99/viewpointrag/internal/health"
	"github.com/mrwong99/viewpointrag/internal/mcp"
	"github.com/mrwong99/viewpointrag/internal/mediator"
	"github.com/mrwong99/viewpointrag/internal/observe"
	"github.com/mrwong99/viewpointrag/internal/viewpoint"
)

// intentExtractor is the subset of *intent.Extractor used by
// POST /extract-query-intent.
type intentExtractor interface {
	Extract(ctx context.Context, userText string, userImages []string) (viewpoint.QueryIntent, error)
}

// detailsStore is the subset of *postgres.Store used by GET /viewpoint/{id}.
type detailsStore interface {
	FetchViewpoint(ctx context.Context, id int64) (viewpoint.Viewpoint, error)
	FetchEncyclopedia(ctx context.Context, id int64) (*viewpoint.EncyclopediaEntry, error)
	FetchKnowledgeGraph(ctx context.Context, id int64) (*viewpoint.KnowledgeGraphEntry, error)
	FetchVisualTags(ctx context.Context, id int64, season string) ([]viewpoint.VisualTagRecord, error)
	FetchAssets(ctx context.Context, id int64, limit int, includeBytes bool) ([]viewpoint.MediaAsset, error)
}

// Deps bundles everything the HTTP surface needs. Every field is required
// except CORSOrigins, which disables CORS headers when empty; Metrics, which
// skips the observability middleware when nil; and Log, which defaults to
// slog.Default() when nil.
type Deps struct {
	Mediator     *mediator.Mediator
	Extractor    intentExtractor
	Orchestrator *orchestrator.Orchestrator
	Store        detailsStore
	Health       *health.Handler
	Metrics      *observe.Metrics
	SchemaVer    string
	CORSOrigins  string
	Log          *slog.Logger
}

// NewMux builds the complete HTTP route table wrapped in the observability
// middleware (tracing, metrics, correlation IDs, request logging).
func NewMux(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	a := &api{Deps: d}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", a.handleQuery)
	mux.HandleFunc("POST /extract-query-intent", a.handleExtractIntent)
	mux.HandleFunc("POST /agent/query", a.handleAgentQuery)
	mux.HandleFunc("GET /viewpoint/{id}", a.handleViewpointDetails)

	// GET /health: spec.md's literal contract (200 reachable, 503 otherwise)
	// is exactly the readiness check's DB-ping semantics.
	mux.HandleFunc("GET /health", d.Health.Readyz)
	mux.HandleFunc("GET /healthz", d.Health.Healthz)
	mux.HandleFunc("GET /readyz", d.Health.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = withCORS(d.CORSOrigins, handler)
	if d.Metrics != nil {
		handler = observe.Middleware(d.Metrics)(handler)
	}
	return handler
}

type api struct {
	Deps
}

// queryRequest mirrors mediator.Request's wire shape for JSON bodies; form
// submissions are decoded field-by-field in handleQuery.
type queryRequest struct {
	UserText   string   `json:"user_text"`
	UserImages []string `json:"user_images,omitempty"`
	Language   string   `json:"language,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
}

func (a *api) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := a.Mediator.Handle(r.Context(), req)
	if err != nil {
		if errors.Is(err, mediator.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.Log.Error("query handling failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "data store unreachable")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseQueryRequest accepts either a JSON body or a form-encoded/multipart
// submission, per §6's "form-encoded or JSON" contract.
func parseQueryRequest(r *http.Request) (mediator.Request, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var body queryRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return mediator.Request{}, errors.New("malformed JSON body")
		}
		return mediator.Request{
			UserText:   body.UserText,
			UserImages: body.UserImages,
			Language:   body.Language,
			TopK:       body.TopK,
		}, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return mediator.Request{}, errors.New("malformed form body")
	}

	req := mediator.Request{
		UserText: r.FormValue("user_text"),
		Language: r.FormValue("language"),
	}
	if tk := r.FormValue("top_k"); tk != "" {
		if n, err := strconv.Atoi(tk); err == nil {
			req.TopK = n
		}
	}
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["user_images[]"] {
			dataURL, err := readImageAsDataURL(fh)
			if err != nil {
				continue
			}
			req.UserImages = append(req.UserImages, dataURL)
		}
	}
	req.UserImages = append(req.UserImages, r.Form["user_images[]"]...)
	return req, nil
}

type extractRequest struct {
	UserText   string   `json:"user_text,omitempty"`
	UserImages []string `json:"user_images,omitempty"`
	Language   string   `json:"language,omitempty"`
}

type extractResponse struct {
	QueryIntent      viewpoint.QueryIntent `json:"query_intent"`
	TagSchemaVersion string                `json:"tag_schema_version"`
}

func (a *api) handleExtractIntent(w http.ResponseWriter, r *http.Request) {
	var body extractRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if body.UserText == "" && len(body.UserImages) == 0 {
		writeError(w, http.StatusBadRequest, "user_text or user_images is required")
		return
	}

	result, err := a.Extractor.Extract(r.Context(), body.UserText, body.UserImages)
	if err != nil {
		a.Log.Error("intent extraction failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "intent extraction failed")
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{QueryIntent: result, TagSchemaVersion: a.SchemaVer})
}

type agentRequest struct {
	UserQuery string `json:"user_query"`
	Language  string `json:"language,omitempty"`
}

type agentResponse struct {
	Answer     string                     `json:"answer"`
	ToolCalls  []viewpoint.ToolTraceEntry `json:"tool_calls"`
	Iterations int                        `json:"iterations"`
	Error      string                     `json:"error,omitempty"`
}

func (a *api) handleAgentQuery(w http.ResponseWriter, r *http.Request) {
	var body agentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if body.UserQuery == "" {
		writeError(w, http.StatusBadRequest, "user_query is required")
		return
	}

	result, err := a.Orchestrator.Run(r.Context(), body.UserQuery, mcp.BudgetStandard)

	var agentErr string
	if err != nil {
		if errors.Is(err, orchestrator.ErrBudgetExhausted) {
			agentErr = "max_iterations_reached"
		} else {
			a.Log.Error("agent run failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "agent run failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, agentResponse{
		Answer:     result.Answer,
		ToolCalls:  result.Trace,
		Iterations: len(result.Trace),
		Error:      agentErr,
	})
}

type viewpointDetailsResponse struct {
	Viewpoint      viewpoint.Viewpoint           `json:"viewpoint"`
	Encyclopedia   *viewpoint.EncyclopediaEntry   `json:"encyclopedia,omitempty"`
	KnowledgeGraph *viewpoint.KnowledgeGraphEntry `json:"knowledge_graph,omitempty"`
	VisualTags     []viewpoint.VisualTagRecord    `json:"visual_tags,omitempty"`
	Media          []viewpoint.MediaAsset         `json:"media,omitempty"`
}

func (a *api) handleViewpointDetails(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid viewpoint id")
		return
	}

	ctx := r.Context()
	vp, err := a.Store.FetchViewpoint(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "viewpoint not found")
		return
	}

	enc, err := a.Store.FetchEncyclopedia(ctx, id)
	if err != nil {
		a.Log.Warn("encyclopedia lookup failed", "viewpoint_id", id, "error", err)
	}
	kg, err := a.Store.FetchKnowledgeGraph(ctx, id)
	if err != nil {
		a.Log.Warn("knowledge graph lookup failed", "viewpoint_id", id, "error", err)
	}
	tags, err := a.Store.FetchVisualTags(ctx, id, string(viewpoint.SeasonUnknown))
	if err != nil {
		a.Log.Warn("visual tag lookup failed", "viewpoint_id", id, "error", err)
	}
	media, err := a.Store.FetchAssets(ctx, id, 20, false)
	if err != nil {
		a.Log.Warn("media asset lookup failed", "viewpoint_id", id, "error", err)
	}

	writeJSON(w, http.StatusOK, viewpointDetailsResponse{
		Viewpoint:      vp,
		Encyclopedia:   enc,
		KnowledgeGraph: kg,
		VisualTags:     tags,
		Media:          media,
	})
}

// withCORS mirrors the allow-list/wildcard CORS pattern used elsewhere in the
// retrieved example pack. An empty origins value disables CORS entirely.
func withCORS(origins string, next http.Handler) http.Handler {
	if origins == "" {
		return next
	}
	allowed := strings.Split(origins, ",")
	for i := range allowed {
		allowed[i] = strings.TrimSpace(allowed[i])
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if origins == "*" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				for _, a := range allowed {
					if a == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						break
					}
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readImageAsDataURL reads an uploaded multipart image file and wraps it as
// a base64 data URL, the same canonical form the intent extractor expects
// for every image reference.
func readImageAsDataURL(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, 16<<20))
	if err != nil {
		return "", err
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
