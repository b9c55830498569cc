package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.LLM.Name)

	// Startup fails fast when no LLM credential is configured — the intent
	// extractor and the LLM-SQL fallback both require it.
	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if cfg.LLM.Name == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}

	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}

	if cfg.TagSchema.Version == "" {
		errs = append(errs, errors.New("tag_schema.version is required"))
	}
	if cfg.TagSchema.Dir == "" {
		errs = append(errs, errors.New("tag_schema.dir is required"))
	}

	if cfg.Agent.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations %d must be ≥ 0", cfg.Agent.MaxIterations))
	}
	if cfg.Agent.ToolOutputMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("agent.tool_output_max_bytes %d must be ≥ 0", cfg.Agent.ToolOutputMaxBytes))
	}

	if cfg.Ranking != nil {
		for _, w := range []struct {
			name string
			val  *float64
		}{
			{"name_weight", cfg.Ranking.NameWeight},
			{"category_weight", cfg.Ranking.CategoryWeight},
			{"tag_overlap_weight", cfg.Ranking.TagOverlapWeight},
			{"season_weight", cfg.Ranking.SeasonWeight},
		} {
			if w.val != nil && (*w.val < 0 || *w.val > 1) {
				errs = append(errs, fmt.Errorf("ranking.%s %.2f is out of range [0, 1]", w.name, *w.val))
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
