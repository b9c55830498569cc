package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mrwong99/viewpointrag/internal/viewpoint"
)

// LogQuery appends rec to the audit trail. Callers treat failures as
// best-effort (§7 LogFailed is a logged warning, never a request error) —
// this method still returns the error so the caller can decide how loudly
// to log it.
func (s *Store) LogQuery(ctx context.Context, rec viewpoint.QueryLogRecord) error {
	userImageRefs, err := json.Marshal(rec.UserImageRefs)
	if err != nil {
		return fmt.Errorf("postgres: marshal user_image_refs: %w", err)
	}
	var intentJSON []byte
	if rec.Intent != nil {
		if intentJSON, err = json.Marshal(rec.Intent); err != nil {
			return fmt.Errorf("postgres: marshal intent: %w", err)
		}
	}
	sqlQueries, err := json.Marshal(rec.SQLQueries)
	if err != nil {
		return fmt.Errorf("postgres: marshal sql_queries: %w", err)
	}
	toolTrace, err := json.Marshal(rec.ToolTrace)
	if err != nil {
		return fmt.Errorf("postgres: marshal tool_trace: %w", err)
	}
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("postgres: marshal results: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO query_log (id, user_text, user_image_refs, intent, sql_queries, tool_trace, results, elapsed_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserText, userImageRefs, intentJSON, sqlQueries, toolTrace, results, rec.ElapsedMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert query_log: %w", err)
	}
	return nil
}
