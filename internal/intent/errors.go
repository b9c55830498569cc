package intent

import "errors"

// ErrExtractionFailed wraps any failure to obtain or parse a structured
// intent from the vision-capable model. Empty input is not an error — it
// produces a default intent (see Extractor.Extract).
var ErrExtractionFailed = errors.New("intent: extraction failed")
