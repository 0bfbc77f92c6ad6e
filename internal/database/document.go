package database

import (
	"errors"
	"time"
)

var (
	ErrNotFound                = errors.New("document not found")
	ErrConstraintViolation     = errors.New("unique constraint violation")
	ErrConnectionClosed        = errors.New("connection closed")
	ErrInvalidConnectionString = errors.New("invalid connection string")
	ErrInvalidCursor           = errors.New("invalid cursor")
	ErrValidation              = errors.New("validation error")
)

// DefaultMaxResults caps a Find page when the caller passes no positive limit.
const DefaultMaxResults = 100

// Document is a stored record. ID is assigned at creation and never changes.
type Document struct {
	ID         string         `json:"id" bson:"_id"`
	Collection string         `json:"collection" bson:"collection"`
	Data       map[string]any `json:"data" bson:"data"`
	Version    int            `json:"version" bson:"version"`
	CreatedAt  string         `json:"created_at" bson:"createdAt"`
	UpdatedAt  string         `json:"updated_at" bson:"updatedAt"`
}

// QueryResult is one page of a Find. Cursor is empty when HasMore is false.
type QueryResult struct {
	Documents  []Document `json:"documents"`
	TotalCount int        `json:"total_count"`
	HasMore    bool       `json:"has_more"`
	Cursor     string     `json:"cursor,omitempty"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// cloneData copies maps and slices so engine state never aliases caller data.
func cloneData(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func (d Document) clone() Document {
	d.Data = cloneData(d.Data)
	return d
}
