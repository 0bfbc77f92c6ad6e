package users

import (
	"context"
	"errors"

	"github.com/cloudstore/cloudstore-go/internal/database"
)

// Collection holds one document per subject, keyed by the subject.
const Collection = "users"

// User is the profile view of a users document.
type User struct {
	Sub       string `json:"sub"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Store is the subset of *database.Connection the service needs.
type Store interface {
	UpdateOne(ctx context.Context, collection, id string, data map[string]any, upsert bool) (database.Document, error)
	FindOne(ctx context.Context, collection, id string) (database.Document, error)
}

// Service encapsulates user-related business logic
type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

// UpsertFromClaims creates or updates a user using verified token claims.
// Claims without a subject yield (nil, nil).
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*User, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, nil
	}
	data := map[string]any{"sub": sub}
	for _, k := range []string{"email", "name", "scope", "mode"} {
		if v, ok := claims[k].(string); ok && v != "" {
			data[k] = v
		}
	}
	doc, err := s.store.UpdateOne(ctx, Collection, sub, data, true)
	if err != nil {
		return nil, err
	}
	return fromDocument(doc), nil
}

// GetBySub returns (nil, nil) for an unknown subject.
func (s *Service) GetBySub(ctx context.Context, sub string) (*User, error) {
	doc, err := s.store.FindOne(ctx, Collection, sub)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return fromDocument(doc), nil
}

func fromDocument(d database.Document) *User {
	str := func(k string) string {
		v, _ := d.Data[k].(string)
		return v
	}
	return &User{
		Sub:       d.ID,
		Email:     str("email"),
		Name:      str("name"),
		Scope:     str("scope"),
		Mode:      str("mode"),
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
