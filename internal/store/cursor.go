package store

import (
	"encoding/base64"
	"strings"
)

const cursorVersion = "v1"

// encodeCursor builds an opaque page token from the id of the last record on
// a page. Run ids are ULIDs, which sort lexicographically by creation time,
// so the id alone is a stable, monotonically increasing ordering key that no
// later state change can disturb.
func encodeCursor(lastID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorVersion + ":" + lastID))
}

// decodeCursor parses a page token produced by encodeCursor. Any malformed
// token yields ErrInvalidCursor.
func decodeCursor(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidCursor
	}
	version, id, ok := strings.Cut(string(raw), ":")
	if !ok || version != cursorVersion || id == "" {
		return "", ErrInvalidCursor
	}
	return id, nil
}
