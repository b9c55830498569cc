// Package postgres is the Data Access Layer (§4.2): a thin, parameterised
// wrapper over a PostgreSQL store with spatial (PostGIS) and JSONB indexing,
// holding the five corpus tables plus the query_log audit table.
//
// Every exported finder returns the exact SQL text and parameter list it
// executed so callers (internal/retrieval) can attach it to the response's
// SQL provenance log. No query ever string-interpolates caller-supplied
// values — everything is placeholder-bound.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlViewpoint = `
CREATE TABLE IF NOT EXISTS viewpoint (
    id            BIGSERIAL    PRIMARY KEY,
    name          TEXT         NOT NULL,
    name_variants JSONB        NOT NULL DEFAULT '{}',
    category      TEXT         NOT NULL DEFAULT '',
    source_tags   JSONB        NOT NULL DEFAULT '[]',
    geo           geography(Point,4326),
    admin_regions JSONB        NOT NULL DEFAULT '[]',
    popularity    DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_viewpoint_category ON viewpoint (category);
CREATE INDEX IF NOT EXISTS idx_viewpoint_popularity ON viewpoint (popularity DESC);
CREATE INDEX IF NOT EXISTS idx_viewpoint_geo ON viewpoint USING GIST (geo);
CREATE INDEX IF NOT EXISTS idx_viewpoint_name_trgm ON viewpoint (lower(name));
`

const ddlEncyclopediaEntry = `
CREATE TABLE IF NOT EXISTS encyclopedia_entry (
    viewpoint_id BIGINT PRIMARY KEY REFERENCES viewpoint (id) ON DELETE CASCADE,
    title        TEXT   NOT NULL,
    language     TEXT   NOT NULL DEFAULT 'en',
    extract      TEXT   NOT NULL,
    sections     JSONB  NOT NULL DEFAULT '[]',
    citations    JSONB  NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_encyclopedia_extract_fts
    ON encyclopedia_entry USING GIN (to_tsvector('english', extract));
`

const ddlKnowledgeGraphEntry = `
CREATE TABLE IF NOT EXISTS knowledge_graph_entry (
    viewpoint_id     BIGINT PRIMARY KEY REFERENCES viewpoint (id) ON DELETE CASCADE,
    qid              TEXT   NOT NULL DEFAULT '',
    claims           JSONB  NOT NULL DEFAULT '{}',
    sitelinks_count  INT    NOT NULL DEFAULT 0
);
`

const ddlMediaAsset = `
CREATE TABLE IF NOT EXISTS media_asset (
    id                TEXT   PRIMARY KEY,
    viewpoint_id      BIGINT NOT NULL REFERENCES viewpoint (id) ON DELETE CASCADE,
    source_file_id     TEXT   NOT NULL DEFAULT '',
    caption           TEXT   NOT NULL DEFAULT '',
    categories        JSONB  NOT NULL DEFAULT '[]',
    depicted_ids      JSONB  NOT NULL DEFAULT '[]',
    license           TEXT   NOT NULL DEFAULT '',
    image_bytes       BYTEA,
    geo               geography(Point,4326),
    width_pixels      INT    NOT NULL DEFAULT 0,
    height_pixels     INT    NOT NULL DEFAULT 0,
    format            TEXT   NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_media_asset_viewpoint_id ON media_asset (viewpoint_id);
`

const ddlVisualTagRecord = `
CREATE TABLE IF NOT EXISTS visual_tag_record (
    viewpoint_id BIGINT NOT NULL REFERENCES viewpoint (id) ON DELETE CASCADE,
    season       TEXT   NOT NULL,
    tag_source   TEXT   NOT NULL,
    tags         JSONB  NOT NULL DEFAULT '[]',
    confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
    evidence     JSONB  NOT NULL DEFAULT '[]',
    PRIMARY KEY (viewpoint_id, season, tag_source)
);

CREATE INDEX IF NOT EXISTS idx_visual_tag_record_tags ON visual_tag_record USING GIN (tags);
CREATE INDEX IF NOT EXISTS idx_visual_tag_record_season ON visual_tag_record (season);
`

const ddlQueryLog = `
CREATE TABLE IF NOT EXISTS query_log (
    id              TEXT        PRIMARY KEY,
    user_text       TEXT        NOT NULL DEFAULT '',
    user_image_refs JSONB       NOT NULL DEFAULT '[]',
    intent          JSONB,
    sql_queries     JSONB       NOT NULL DEFAULT '[]',
    tool_trace      JSONB       NOT NULL DEFAULT '[]',
    results         JSONB       NOT NULL DEFAULT '[]',
    elapsed_ms      BIGINT      NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_query_log_created_at ON query_log (created_at);
`

// embeddingDDL returns the optional pgvector-backed similarity column DDL,
// applied by [Migrate] only when embeddingDimensions > 0.
func embeddingDDL(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

ALTER TABLE viewpoint ADD COLUMN IF NOT EXISTS embedding vector(%d);
CREATE INDEX IF NOT EXISTS idx_viewpoint_embedding
    ON viewpoint USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate creates or ensures all required tables, indexes, and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions, when > 0, additionally installs the pgvector
// extension and the viewpoint.embedding column with its HNSW index. No query
// in this package reads that column. A value of 0 skips vector support
// entirely.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		ddlViewpoint,
		ddlEncyclopediaEntry,
		ddlKnowledgeGraphEntry,
		ddlMediaAsset,
		ddlVisualTagRecord,
		ddlQueryLog,
	}
	if embeddingDimensions > 0 {
		statements = append(statements, embeddingDDL(embeddingDimensions))
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
