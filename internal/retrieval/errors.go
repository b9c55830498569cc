package retrieval

import "errors"

// ErrRetrievalFailed wraps any failure from the underlying data access layer
// that a primitive cannot recover from (e.g. the database is unreachable).
var ErrRetrievalFailed = errors.New("retrieval: failed")

// ErrUnsafeGeneratedSQL is returned by the allow-list safety check (§7) when
// the model's generated statement fails it — such a statement is never
// executed against the database. SearchWithLLMSQL does not return this error:
// it falls back and records the rejection in FindResult.Warning.
var ErrUnsafeGeneratedSQL = errors.New("retrieval: generated SQL rejected")
