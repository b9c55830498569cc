// Package tagschema loads and exposes the versioned controlled vocabulary
// that gates every LLM-produced tag in the pipeline: the intent extractor's
// query_tags, the visual-tag extraction that populates the corpus, and the
// retrieval layer's tag-search primitive all validate against a Registry
// loaded from this package.
//
// A Registry is immutable after Load and safe for concurrent reads — no
// mutex is needed since no field is ever mutated post-construction.
package tagschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSchemaNotFound is returned when a requested schema version has no
// corresponding document on disk.
var ErrSchemaNotFound = errors.New("tagschema: schema not found")

// document is the on-disk JSON shape for one schema version.
type document struct {
	Version     string            `json:"version"`
	Categories  []string          `json:"categories"`
	VisualTags  []string          `json:"visual_tags"`
	SceneTags   []string          `json:"scene_tags"`
	Countries   []string          `json:"countries"`
	Descriptions map[string]string `json:"descriptions,omitempty"`
}

// Registry is the immutable, process-wide controlled vocabulary for one
// schema version.
type Registry struct {
	version      string
	categories   map[string]struct{}
	visualTags   map[string]struct{}
	sceneTags    map[string]struct{}
	countries    map[string]struct{}
	allowedTags  map[string]struct{}
	descriptions map[string]string
}

// Load reads the JSON schema document for version from dir/<version>.json
// and builds an immutable Registry. Returns ErrSchemaNotFound (wrapped with
// the requested version) when the file does not exist.
func Load(dir, version string) (*Registry, error) {
	path := filepath.Join(dir, version+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: version %q at %s", ErrSchemaNotFound, version, path)
		}
		return nil, fmt.Errorf("tagschema: read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tagschema: parse %s: %w", path, err)
	}
	if doc.Version == "" {
		doc.Version = version
	}

	r := &Registry{
		version:      doc.Version,
		categories:   toSet(doc.Categories),
		visualTags:   toSet(doc.VisualTags),
		sceneTags:    toSet(doc.SceneTags),
		countries:    toSet(doc.Countries),
		descriptions: doc.Descriptions,
	}
	r.allowedTags = make(map[string]struct{}, len(r.categories)+len(r.visualTags)+len(r.sceneTags)+len(r.countries))
	for _, s := range []map[string]struct{}{r.categories, r.visualTags, r.sceneTags, r.countries} {
		for t := range s {
			r.allowedTags[t] = struct{}{}
		}
	}
	if r.descriptions == nil {
		r.descriptions = map[string]string{}
	}
	return r, nil
}

func toSet(values []string) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Version returns the schema version this Registry was loaded from.
func (r *Registry) Version() string { return r.version }

// Categories returns the disjoint set of normalised category names.
func (r *Registry) Categories() []string { return keys(r.categories) }

// VisualTags returns the disjoint set of visual tag names.
func (r *Registry) VisualTags() []string { return keys(r.visualTags) }

// SceneTags returns the disjoint set of scene tag names.
func (r *Registry) SceneTags() []string { return keys(r.sceneTags) }

// Countries returns the disjoint set of recognised country names.
func (r *Registry) Countries() []string { return keys(r.countries) }

// AllTags returns the union of all four disjoint sets.
func (r *Registry) AllTags() []string { return keys(r.allowedTags) }

// IsCategory reports whether tag is a registered category.
func (r *Registry) IsCategory(tag string) bool {
	_, ok := r.categories[tag]
	return ok
}

// Description returns the human-readable description for tag, or "" if none
// is registered.
func (r *Registry) Description(tag string) string {
	return r.descriptions[tag]
}

// Validate partitions tags into those present in AllTags() (kept, in input
// order) and those absent (dropped, in input order). Re-validating an
// already-validated list is a no-op: kept is returned unchanged and dropped
// is empty.
func (r *Registry) Validate(tags []string) (kept, dropped []string) {
	for _, t := range tags {
		if _, ok := r.allowedTags[t]; ok {
			kept = append(kept, t)
		} else {
			dropped = append(dropped, t)
		}
	}
	return kept, dropped
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
