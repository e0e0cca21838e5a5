package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

// Session holds one user's delegated OAuth grant. The access token is
// replaced in place on refresh; the whole session is deleted when the
// refresh token turns out to be revoked.
type Session struct {
	UserID       types.UserID `firestore:"user_id" json:"user_id"`
	Email        string       `firestore:"email" json:"email"`
	AccessToken  string       `firestore:"access_token" json:"access_token" masq:"secret"`
	RefreshToken string       `firestore:"refresh_token" json:"refresh_token" masq:"secret"`
	ExpiresAt    time.Time    `firestore:"expires_at" json:"expires_at"`
	CreatedAt    time.Time    `firestore:"created_at" json:"created_at"`
}

// NewSession creates a session for a freshly completed authorization
func NewSession(userID types.UserID, email, accessToken, refreshToken string, expiresAt time.Time) *Session {
	return &Session{
		UserID:       userID,
		Email:        email,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks if the session is valid
func (s *Session) Validate() error {
	if err := s.UserID.Validate(); err != nil {
		return goerr.Wrap(err, "invalid session user ID")
	}
	if s.AccessToken == "" {
		return goerr.New("access token is required", goerr.V("user_id", s.UserID))
	}
	if s.ExpiresAt.IsZero() {
		return goerr.New("token expiry is required", goerr.V("user_id", s.UserID))
	}
	return nil
}

// ExpiresWithin reports whether the access token expires inside the given
// safety margin. Callers must treat such a token as already invalid.
func (s *Session) ExpiresWithin(margin time.Duration) bool {
	return time.Now().Add(margin).After(s.ExpiresAt)
}
