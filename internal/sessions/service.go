package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// DefaultRefreshTTL is how long a refresh grant stays valid when no TTL is given.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// RefreshTokenPrefix marks opaque refresh tokens issued by this package.
const RefreshTokenPrefix = "ref_"

// Service wraps repository operations with business logic
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(r Repository) *Service { return &Service{repo: r, now: time.Now} }

// NewRefreshToken returns a fresh opaque refresh token.
func NewRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return RefreshTokenPrefix + hex.EncodeToString(b), nil
}

// CreateSession stores a new refresh grant and returns the refresh token.
func (s *Service) CreateSession(ctx context.Context, subject, scope, mode string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	r, err := NewRefreshToken()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	sess := &Session{
		RefreshToken: r,
		Subject:      subject,
		Scope:        scope,
		Mode:         mode,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return "", err
	}
	return r, nil
}

// ValidateRefresh returns the session if refresh token is valid and not expired
func (s *Service) ValidateRefresh(ctx context.Context, refresh string) (*Session, error) {
	sess, err := s.repo.GetByRefresh(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(s.now().UTC()) {
		_ = s.repo.DeleteByRefresh(ctx, refresh)
		return nil, nil
	}
	return sess, nil
}

func (s *Service) DeleteRefresh(ctx context.Context, refresh string) error {
	return s.repo.DeleteByRefresh(ctx, refresh)
}
