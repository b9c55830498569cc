package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mrwong99/viewpointrag/internal/viewpoint"
)

// FindResult is the envelope every retrieval-facing finder returns: the
// candidates it found plus the exact SQL text and bound parameters used to
// find them, so callers can attach both to a response's SQL provenance log.
// Warning is set when a finder silently relaxed its query (e.g. a
// country-restricted category search that fell back to category-only) and
// explains the relaxation to the caller; it is empty on a direct match.
type FindResult struct {
	Candidates []viewpoint.Candidate
	SQL        string
	Params     []any
	Warning    string
}

// paramBuilder accumulates positional parameters and hands back pgx's
// dollar-numbered placeholders, mirroring the dynamic WHERE-clause pattern
// used throughout the corpus's graph store.
type paramBuilder struct {
	params []any
}

func (b *paramBuilder) next(v any) string {
	b.params = append(b.params, v)
	return fmt.Sprintf("$%d", len(b.params))
}

func scanCandidate(row pgx.CollectableRow) (viewpoint.Candidate, error) {
	var (
		c            viewpoint.Candidate
		variantsJSON []byte
	)
	if err := row.Scan(
		&c.ViewpointID, &c.Name, &variantsJSON, &c.Category, &c.Popularity,
		&c.NameScore, &c.GeoScore, &c.CategoryScore,
	); err != nil {
		return c, err
	}
	if len(variantsJSON) > 0 {
		if err := json.Unmarshal(variantsJSON, &c.NameVariants); err != nil {
			return c, fmt.Errorf("postgres: unmarshal name_variants: %w", err)
		}
	}
	return c, nil
}

const candidateColumns = `
    id,
    name,
    name_variants,
    category,
    popularity,
    name_score,
    geo_score,
    category_score`

// FindByName matches pattern against name and name_variants, favouring an
// exact (case-insensitive) hit over a substring one.
func (s *Store) FindByName(ctx context.Context, pattern string, limit int) (FindResult, error) {
	sql := fmt.Sprintf(`
SELECT %s FROM (
    SELECT
        id, name, name_variants, category, popularity,
        CASE WHEN name ILIKE $1 THEN 1.0 ELSE 0.5 END AS name_score,
        1.0 AS geo_score,
        CASE WHEN category <> '' THEN 1.0 ELSE 0.0 END AS category_score
    FROM viewpoint
    WHERE name ILIKE $2 OR name_variants::text ILIKE $3
) scored
ORDER BY name_score DESC, popularity DESC
LIMIT $4`, candidateColumns)

	like := "%" + pattern + "%"
	params := []any{pattern, like, like, limit}
	return s.queryCandidates(ctx, sql, params)
}

// FindByCategory matches viewpoints whose registry category equals category.
// When country is non-empty, it first restricts to viewpoints whose
// admin_regions contains one of the supplied country variants; if that
// yields zero rows it retries without the country filter, attaches a
// relaxed-match Warning to the result, and folds both attempted SQL texts
// into SQL so the caller's provenance log shows both queries.
func (s *Store) FindByCategory(ctx context.Context, category string, countryVariants []string, limit int) (FindResult, error) {
	if len(countryVariants) == 0 {
		return s.findByCategoryNoCountry(ctx, category, limit)
	}

	var b paramBuilder
	catParam := b.next(category)
	conds := make([]string, 0, len(countryVariants))
	for _, v := range countryVariants {
		conds = append(conds, fmt.Sprintf("admin_regions::text ILIKE %s", b.next("%"+v+"%")))
	}
	limitParam := b.next(limit)

	sql := fmt.Sprintf(`
SELECT %s FROM (
    SELECT
        id, name, name_variants, category, popularity,
        0.0 AS name_score,
        1.0 AS geo_score,
        CASE WHEN category = %s THEN 1.0 ELSE 0.0 END AS category_score
    FROM viewpoint
    WHERE category = %s AND (%s)
) scored
ORDER BY category_score DESC, popularity DESC
LIMIT %s`, candidateColumns, catParam, catParam, strings.Join(conds, " OR "), limitParam)

	result, err := s.queryCandidates(ctx, sql, b.params)
	if err != nil {
		return result, err
	}
	if len(result.Candidates) > 0 {
		return result, nil
	}

	relaxed, err := s.findByCategoryNoCountry(ctx, category, limit)
	if err != nil {
		return relaxed, err
	}
	relaxed.Warning = fmt.Sprintf("no %q viewpoints matched country filter %v; relaxed to category-only match", category, countryVariants)
	relaxed.SQL = sql + "\n-- zero rows with country filter; retried without it:\n" + relaxed.SQL
	return relaxed, nil
}

func (s *Store) findByCategoryNoCountry(ctx context.Context, category string, limit int) (FindResult, error) {
	sql := fmt.Sprintf(`
SELECT %s FROM (
    SELECT
        id, name, name_variants, category, popularity,
        0.0 AS name_score,
        0.5 AS geo_score,
        CASE WHEN category = $1 THEN 1.0 ELSE 0.0 END AS category_score
    FROM viewpoint
    WHERE category = $2
) scored
ORDER BY popularity DESC
LIMIT $3`, candidateColumns)

	return s.queryCandidates(ctx, sql, []any{category, category, limit})
}

// FindByTags matches viewpoints by controlled visual tag membership via the
// visual_tag_record table's JSONB containment, optionally scoped to season.
// categoryHints (tags that imply a registry category, e.g. "snow_peak" ->
// "mountain") additionally widen the match via an OR on viewpoint.category.
func (s *Store) FindByTags(ctx context.Context, tags []string, categoryHints []string, season string, limit int) (FindResult, error) {
	if len(tags) == 0 {
		return FindResult{}, nil
	}

	var b paramBuilder
	tagConds := make([]string, 0, len(tags))
	for _, t := range tags {
		asJSON, _ := json.Marshal([]string{t})
		tagConds = append(tagConds, fmt.Sprintf("tags @> %s::jsonb", b.next(string(asJSON))))
	}
	seasonFilter := ""
	if season != "" && season != string(viewpoint.SeasonUnknown) {
		seasonFilter = fmt.Sprintf(" AND season = %s", b.next(season))
	}

	categoryScoreSQL := "0.0"
	hintFilter := ""
	if len(categoryHints) > 0 {
		placeholders := make([]string, 0, len(categoryHints))
		for _, c := range categoryHints {
			placeholders = append(placeholders, b.next(c))
		}
		categoryScoreSQL = fmt.Sprintf("CASE WHEN v.category IN (%s) THEN 1.0 ELSE 0.0 END", strings.Join(placeholders, ","))
		hintFilter = fmt.Sprintf(" OR v.category IN (%s)", strings.Join(placeholders, ","))
	}
	limitParam := b.next(limit)

	sql := fmt.Sprintf(`
SELECT DISTINCT %s FROM (
    SELECT
        v.id, v.name, v.name_variants, v.category, v.popularity,
        0.0 AS name_score,
        1.0 AS geo_score,
        %s AS category_score
    FROM viewpoint v
    WHERE v.id IN (
        SELECT DISTINCT viewpoint_id FROM visual_tag_record
        WHERE (%s)%s
    )%s
) scored
ORDER BY popularity DESC
LIMIT %s`, candidateColumns, categoryScoreSQL, strings.Join(tagConds, " OR "), seasonFilter, hintFilter, limitParam)

	return s.queryCandidates(ctx, sql, b.params)
}

// FindByHistoryTerms full-text searches encyclopedia_entry.extract for any
// of terms, joining back to viewpoint for candidate metadata.
func (s *Store) FindByHistoryTerms(ctx context.Context, terms []string, limit int) (FindResult, error) {
	if len(terms) == 0 {
		return FindResult{}, nil
	}

	var b paramBuilder
	conds := make([]string, 0, len(terms))
	for _, t := range terms {
		conds = append(conds, fmt.Sprintf("e.extract ILIKE %s", b.next("%"+t+"%")))
	}
	limitParam := b.next(limit)

	sql := fmt.Sprintf(`
SELECT DISTINCT %s FROM (
    SELECT
        v.id, v.name, v.name_variants, v.category, v.popularity,
        0.0 AS name_score,
        1.0 AS geo_score,
        0.0 AS category_score
    FROM viewpoint v
    INNER JOIN encyclopedia_entry e ON e.viewpoint_id = v.id
    WHERE %s
) scored
ORDER BY popularity DESC
LIMIT %s`, candidateColumns, strings.Join(conds, " OR "), limitParam)

	return s.queryCandidates(ctx, sql, b.params)
}

// FindPopular returns the highest-popularity viewpoints unconditionally.
func (s *Store) FindPopular(ctx context.Context, limit int) (FindResult, error) {
	sql := fmt.Sprintf(`
SELECT %s FROM (
    SELECT
        id, name, name_variants, category, popularity,
        0.0 AS name_score,
        1.0 AS geo_score,
        0.0 AS category_score
    FROM viewpoint
    WHERE popularity > 0
) scored
ORDER BY popularity DESC
LIMIT $1`, candidateColumns)

	return s.queryCandidates(ctx, sql, []any{limit})
}

func (s *Store) queryCandidates(ctx context.Context, sql string, params []any) (FindResult, error) {
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return FindResult{SQL: sql, Params: params}, fmt.Errorf("postgres: query candidates: %w", err)
	}
	defer rows.Close()

	candidates, err := pgx.CollectRows(rows, scanCandidate)
	if err != nil {
		return FindResult{SQL: sql, Params: params}, fmt.Errorf("postgres: scan candidates: %w", err)
	}
	return FindResult{Candidates: candidates, SQL: sql, Params: params}, nil
}

// ExecuteGeneratedQuery runs an LLM-generated SELECT statement (already
// validated by internal/retrieval's allow-list check) and maps its result
// rows onto Candidate, assuming the fixed column contract documented in
// internal/retrieval's prompt: viewpoint_id, name, name_variants,
// category, popularity, name_score, geo_score, category_score.
func (s *Store) ExecuteGeneratedQuery(ctx context.Context, sql string, params []any) ([]viewpoint.Candidate, error) {
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("postgres: execute generated query: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, scanCandidate)
}

// FetchViewpoint loads a single Viewpoint by id. err is pgx.ErrNoRows when
// absent.
func (s *Store) FetchViewpoint(ctx context.Context, id int64) (viewpoint.Viewpoint, error) {
	var (
		v               viewpoint.Viewpoint
		variantsJSON    []byte
		sourceTagsJSON  []byte
		adminRegionsJSON []byte
		lat, lon        *float64
	)
	row := s.pool.QueryRow(ctx, `
SELECT id, name, name_variants, category, source_tags, admin_regions, popularity,
       ST_Y(geo::geometry), ST_X(geo::geometry)
FROM viewpoint WHERE id = $1`, id)

	if err := row.Scan(&v.ID, &v.Name, &variantsJSON, &v.Category, &sourceTagsJSON, &adminRegionsJSON, &v.Popularity, &lat, &lon); err != nil {
		return v, fmt.Errorf("postgres: fetch viewpoint %d: %w", id, err)
	}
	if len(variantsJSON) > 0 {
		_ = json.Unmarshal(variantsJSON, &v.NameVariants)
	}
	if len(sourceTagsJSON) > 0 {
		_ = json.Unmarshal(sourceTagsJSON, &v.SourceTags)
	}
	if len(adminRegionsJSON) > 0 {
		_ = json.Unmarshal(adminRegionsJSON, &v.AdminRegions)
	}
	if lat != nil && lon != nil {
		v.Geo = &viewpoint.GeoPoint{Lat: *lat, Lon: *lon}
	}
	return v, nil
}

// FetchEncyclopedia loads the 1:1 encyclopedia entry for id, if any.
func (s *Store) FetchEncyclopedia(ctx context.Context, id int64) (*viewpoint.EncyclopediaEntry, error) {
	var (
		e             viewpoint.EncyclopediaEntry
		sectionsJSON  []byte
		citationsJSON []byte
	)
	row := s.pool.QueryRow(ctx, `
SELECT viewpoint_id, title, language, extract, sections, citations
FROM encyclopedia_entry WHERE viewpoint_id = $1`, id)

	if err := row.Scan(&e.ViewpointID, &e.Title, &e.Language, &e.Extract, &sectionsJSON, &citationsJSON); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: fetch encyclopedia %d: %w", id, err)
	}
	_ = json.Unmarshal(sectionsJSON, &e.Sections)
	_ = json.Unmarshal(citationsJSON, &e.Citations)
	return &e, nil
}

// FetchKnowledgeGraph loads the 1:1 knowledge-graph entry for id, if any.
func (s *Store) FetchKnowledgeGraph(ctx context.Context, id int64) (*viewpoint.KnowledgeGraphEntry, error) {
	var (
		k          viewpoint.KnowledgeGraphEntry
		claimsJSON []byte
	)
	row := s.pool.QueryRow(ctx, `
SELECT viewpoint_id, qid, claims, sitelinks_count
FROM knowledge_graph_entry WHERE viewpoint_id = $1`, id)

	if err := row.Scan(&k.ViewpointID, &k.QID, &claimsJSON, &k.SitelinksCount); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: fetch knowledge graph %d: %w", id, err)
	}
	_ = json.Unmarshal(claimsJSON, &k.Claims)
	return &k, nil
}

// FetchVisualTags loads every visual_tag_record for id, optionally scoped to
// a single season.
func (s *Store) FetchVisualTags(ctx context.Context, id int64, season string) ([]viewpoint.VisualTagRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if season != "" && season != string(viewpoint.SeasonUnknown) {
		rows, err = s.pool.Query(ctx, `
SELECT viewpoint_id, season, tag_source, tags, confidence, evidence
FROM visual_tag_record WHERE viewpoint_id = $1 AND season = $2`, id, season)
	} else {
		rows, err = s.pool.Query(ctx, `
SELECT viewpoint_id, season, tag_source, tags, confidence, evidence
FROM visual_tag_record WHERE viewpoint_id = $1`, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch visual tags %d: %w", id, err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (viewpoint.VisualTagRecord, error) {
		var (
			rec          viewpoint.VisualTagRecord
			tagsJSON     []byte
			evidenceJSON []byte
		)
		if err := row.Scan(&rec.ViewpointID, &rec.Season, &rec.TagSource, &tagsJSON, &rec.Confidence, &evidenceJSON); err != nil {
			return rec, err
		}
		_ = json.Unmarshal(tagsJSON, &rec.Tags)
		_ = json.Unmarshal(evidenceJSON, &rec.Evidence)
		return rec, nil
	})
}

// FetchAssets loads up to limit media_asset rows for id. includeBytes
// controls whether ImageBytes is populated, since it can be large and most
// callers (enrichment payloads) only need the metadata and a reference.
func (s *Store) FetchAssets(ctx context.Context, id int64, limit int, includeBytes bool) ([]viewpoint.MediaAsset, error) {
	cols := "id, viewpoint_id, source_file_id, caption, categories, depicted_ids, license, ST_Y(geo::geometry), ST_X(geo::geometry), width_pixels, height_pixels, format"
	if includeBytes {
		cols += ", image_bytes"
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM media_asset WHERE viewpoint_id = $1 LIMIT $2`, cols), id, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch assets %d: %w", id, err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (viewpoint.MediaAsset, error) {
		var (
			a              viewpoint.MediaAsset
			categoriesJSON []byte
			depictedJSON   []byte
			lat, lon       *float64
		)
		scanArgs := []any{&a.ID, &a.ViewpointID, &a.SourceFileID, &a.Caption, &categoriesJSON, &depictedJSON, &a.License, &lat, &lon, &a.WidthPixels, &a.HeightPixels, &a.Format}
		if includeBytes {
			scanArgs = append(scanArgs, &a.ImageBytes)
		}
		if err := row.Scan(scanArgs...); err != nil {
			return a, err
		}
		_ = json.Unmarshal(categoriesJSON, &a.Categories)
		_ = json.Unmarshal(depictedJSON, &a.DepictedIDs)
		if lat != nil && lon != nil {
			a.Geo = &viewpoint.GeoPoint{Lat: *lat, Lon: *lon}
		}
		return a, nil
	})
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
