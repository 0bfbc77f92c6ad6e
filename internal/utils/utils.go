// Package utils holds the small stateless helpers shared across the SDK:
// identifiers, API key checks, document hashing, pagination and size formatting.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// APIKeyPrefix is the prefix every CloudStore API key carries.
const APIKeyPrefix = "cs_"

const minAPIKeyLength = 20

var (
	ErrInvalidPage     = errors.New("page must be >= 1")
	ErrInvalidPageSize = errors.New("page size must be > 0")
)

// GenerateID returns prefix + "_" + 32 hex characters taken from a random
// (version 4) UUID. An empty prefix defaults to "doc".
func GenerateID(prefix string) string {
	if prefix == "" {
		prefix = "doc"
	}
	u := uuid.New()
	return prefix + "_" + hex.EncodeToString(u[:])
}

// ValidateAPIKey reports whether key looks like a CloudStore API key.
func ValidateAPIKey(key string) bool {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return false
	}
	if len(key) < minAPIKeyLength {
		return false
	}
	for _, r := range key {
		if !isKeyRune(r) {
			return false
		}
	}
	return true
}

func isKeyRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// HashDocument returns the lowercase hex SHA-256 of the canonical JSON form of
// data. encoding/json writes map keys in sorted order at every depth, so two
// maps holding the same pairs hash identically whatever their insertion order.
func HashDocument(data map[string]any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize document: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Page is one slice of a paginated sequence.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// Paginate returns the 1-indexed page of items holding at most perPage entries.
func Paginate[T any](items []T, page, perPage int) (Page[T], error) {
	if page < 1 {
		return Page[T]{}, ErrInvalidPage
	}
	if perPage <= 0 {
		return Page[T]{}, ErrInvalidPageSize
	}
	total := len(items)
	// compare before multiplying so huge pages cannot overflow
	start := total
	if page-1 <= total/perPage {
		start = (page - 1) * perPage
	}
	end := total
	if total-start > perPage {
		end = start + perPage
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return Page[T]{
		Items:   out,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasMore: end < total,
	}, nil
}

var byteUnits = []string{"B", "KB", "MB", "GB"}

// FormatBytes renders a byte count with one decimal place, e.g. "1.5 KB".
func FormatBytes(n int64) string {
	size := float64(n)
	for _, unit := range byteUnits {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}
