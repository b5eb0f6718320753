package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPageToken reports a page token that is not one of ours.
var ErrInvalidPageToken = errors.New("pagination: invalid page_token")

// EncodeCursor serialises a repository cursor payload into a base64 URL-safe
// page token. Each repository defines its own payload type carrying the sort
// keys of the query that minted the token.
func EncodeCursor(cursor any) (string, error) {
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a page token produced by EncodeCursor into the supplied
// payload pointer.
func DecodeCursor(token string, cursor any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidPageToken)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if err := json.Unmarshal(decoded, cursor); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return nil
}
