package sessions

import "time"

// Session is a refresh grant: the refresh token plus what a rotated access
// token must carry over (subject and scope).
type Session struct {
	RefreshToken string    `bson:"_id" json:"refreshToken"`
	Subject      string    `bson:"subject" json:"subject"`
	Scope        string    `bson:"scope" json:"scope"`
	Mode         string    `bson:"mode" json:"mode"`
	ExpiresAt    time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
