// Package pagination encodes the opaque page tokens used by cursor paginated listings.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPageToken is returned when a token cannot be decoded into a cursor.
var ErrInvalidPageToken = errors.New("pagination: invalid pageToken")

// Cursor points just past the last document of a page ordered by (createdAt desc, id desc).
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

type tokenPayload struct {
	CreatedAt string `json:"c"`
	ID        string `json:"i"`
}

// EncodeToken serialises the cursor into a base64 URL-safe page token. A zero cursor encodes to "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.CreatedAt.IsZero() && cursor.ID == "" {
		return "", nil
	}
	data, err := json.Marshal(tokenPayload{
		CreatedAt: cursor.CreatedAt.UTC().Format(time.RFC3339Nano),
		ID:        cursor.ID,
	})
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. An empty token yields the zero cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, payload.CreatedAt)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: createdAt: %v", ErrInvalidPageToken, err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return Cursor{}, fmt.Errorf("%w: id is required", ErrInvalidPageToken)
	}
	return Cursor{CreatedAt: createdAt.UTC(), ID: payload.ID}, nil
}

// ClampPageSize applies the default when size is not positive and caps it at max.
func ClampPageSize(size, def, max int) int {
	if size <= 0 {
		return def
	}
	if size > max {
		return max
	}
	return size
}
