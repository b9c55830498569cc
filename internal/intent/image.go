package intent

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var extMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// canonicalizeImageRef turns a user-supplied image reference — a data URL,
// an http(s) URL, a filesystem path, or a raw base64 string — into a data
// URL the vision model can consume. http(s) URLs are passed through
// unchanged; this package never fetches remote content itself.
func canonicalizeImageRef(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "data:"), strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref, nil
	}

	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("intent: read image %s: %w", ref, err)
		}
		mime := extMimeTypes[strings.ToLower(filepath.Ext(ref))]
		if mime == "" {
			mime = "image/jpeg"
		}
		return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
	}

	if len(ref) > 100 {
		// Long opaque string with no recognisable scheme: assume it is
		// already a raw base64 payload and wrap it.
		return fmt.Sprintf("data:image/jpeg;base64,%s", ref), nil
	}

	return "", fmt.Errorf("intent: unrecognised image reference %q", ref)
}
