// Command viewpointrag is the main entry point for the viewpoint retrieval
// and agent-orchestration server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/joho/godotenv"

	"github.com/mrwong99/viewpointrag/internal/agent/orchestrator"
	"github.com/mrwong99/viewpointrag/internal/config"
	"github.com/mrwong99/viewpointrag/internal/enrichment"
	"github.com/mrwong99/viewpointrag/internal/health"
	"github.com/mrwong99/viewpointrag/internal/httpapi"
	"github.com/mrwong99/viewpointrag/internal/intent"
	"github.com/mrwong99/viewpointrag/internal/mcp/mcphost"
	"github.com/mrwong99/viewpointrag/internal/mcp/tools/viewpointtools"
	"github.com/mrwong99/viewpointrag/internal/mediator"
	"github.com/mrwong99/viewpointrag/internal/observe"
	"github.com/mrwong99/viewpointrag/internal/ranking"
	"github.com/mrwong99/viewpointrag/internal/resilience"
	"github.com/mrwong99/viewpointrag/internal/retrieval"
	"github.com/mrwong99/viewpointrag/internal/tagschema"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm/anyllm"
	"github.com/mrwong99/viewpointrag/pkg/provider/llm/openai"
	"github.com/mrwong99/viewpointrag/pkg/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Local dev convenience: a .env file in the working directory is copied
	// into the process environment. config.Load does not read the
	// environment, so these values do not override config.yaml. Missing
	// .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "viewpointrag: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "viewpointrag: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("viewpointrag starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"tag_schema_version", cfg.TagSchema.Version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "viewpointrag",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerProviderFactories(reg)

	rawProvider, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		slog.Error("failed to create LLM provider", "err", err)
		return 1
	}
	if !rawProvider.Capabilities().SupportsVision {
		slog.Warn("configured LLM model does not advertise vision support; image-assisted intent extraction will degrade to text-only")
	}

	llmProvider := resilience.NewLLMFallback(rawProvider, cfg.LLM.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: cfg.LLM.Name},
	})

	// ── Data store ────────────────────────────────────────────────────────
	store, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN, cfg.Store.EmbeddingDimensions)
	if err != nil {
		slog.Error("failed to connect to data store", "err", err)
		return 1
	}
	defer store.Close()

	// ── Tag schema ────────────────────────────────────────────────────────
	schema, err := tagschema.Load(cfg.TagSchema.Dir, cfg.TagSchema.Version)
	if err != nil {
		slog.Error("failed to load tag schema", "err", err)
		return 1
	}

	// ── Pipeline layers ───────────────────────────────────────────────────
	extractor := intent.New(llmProvider, schema)
	retriever := retrieval.New(store, schema, logger)
	enricher := enrichment.New(store)

	weights := ranking.DefaultWeights
	if cfg.Ranking != nil {
		weights = rankingWeightsFromConfig(*cfg.Ranking, weights)
	}
	ranker := ranking.New(enricher, weights)

	maxIterations := cfg.Agent.MaxIterations
	if maxIterations <= 0 {
		maxIterations = orchestrator.DefaultMaxIterations
	}

	host := mcphost.New()
	for _, t := range viewpointtools.Tools(extractor, retriever, store, ranker) {
		if err := host.RegisterBuiltin(mcphost.BuiltinTool{
			Definition:  t.Definition,
			Handler:     t.Handler,
			DeclaredP50: t.DeclaredP50,
			DeclaredMax: t.DeclaredMax,
		}); err != nil {
			slog.Error("failed to register agent tool", "tool", t.Definition.Name, "err", err)
			return 1
		}
	}
	defer host.Close()

	if err := host.Calibrate(ctx); err != nil {
		slog.Warn("tool calibration failed; proceeding with declared latencies", "err", err)
	}

	orch := orchestrator.New(llmProvider, host, maxIterations)
	med := mediator.New(orch, extractor, retriever, ranker, store, schema.Version(), logger)

	// ── HTTP server ───────────────────────────────────────────────────────
	healthHandler := health.New(health.Checker{
		Name:  "postgres",
		Check: store.Ping,
	})

	mux := httpapi.NewMux(httpapi.Deps{
		Mediator:     med,
		Extractor:    extractor,
		Orchestrator: orch,
		Store:        store,
		Health:       healthHandler,
		Metrics:      metrics,
		SchemaVer:    schema.Version(),
		Log:          logger,
	})

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// anyllmBackends are the provider names dispatched through the
// mozilla-ai/any-llm-go universal adapter; "openai" is handled by the direct
// client instead (registerProviderFactories).
var anyllmBackends = []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerProviderFactories wires the LLM backends this service ships with
// into reg: a direct OpenAI client for "openai", and the any-llm-go
// universal adapter for every other supported backend name.
func registerProviderFactories(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllmBackends {
		name := name
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			opts := []anyllmlib.Option{}
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}
}

// rankingWeightsFromConfig overlays any non-nil override from cfg onto
// defaults (spec §9, Open Question (b)).
func rankingWeightsFromConfig(cfg config.RankingConfig, defaults ranking.Weights) ranking.Weights {
	w := defaults
	if cfg.NameWeight != nil {
		w.Name = *cfg.NameWeight
	}
	if cfg.CategoryWeight != nil {
		w.Category = *cfg.CategoryWeight
	}
	if cfg.TagOverlapWeight != nil {
		w.TagOverlap = *cfg.TagOverlapWeight
	}
	if cfg.SeasonWeight != nil {
		w.Season = *cfg.SeasonWeight
	}
	return w
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
