package database

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cloudstore/cloudstore-go/internal/utils"
)

// cursorState pins a position in a result set: documents with sequence in
// (After, Until] are still to come. Query is a hash of collection and filter so
// a cursor cannot be replayed against a different query.
type cursorState struct {
	After int64  `json:"a"`
	Until int64  `json:"u"`
	Query string `json:"q"`
}

func queryFingerprint(collection string, where map[string]any) (string, error) {
	h, err := utils.HashDocument(map[string]any{"collection": collection, "where": where})
	if err != nil {
		return "", err
	}
	return h[:16], nil
}

func encodeCursor(c cursorState) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s, fingerprint string) (cursorState, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursorState{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c cursorState
	if err := json.Unmarshal(b, &c); err != nil {
		return cursorState{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.Query != fingerprint {
		return cursorState{}, fmt.Errorf("%w: cursor belongs to a different query", ErrInvalidCursor)
	}
	if c.After < 0 || c.Until < c.After || c.Until == 0 {
		return cursorState{}, fmt.Errorf("%w: out of range", ErrInvalidCursor)
	}
	return c, nil
}
