package auth

import (
	"strings"
	"time"
)

// User is the subset of the provider's user record the site displays.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// DisplayName prefers the profile name given at sign-up and falls back to the email.
func (u User) DisplayName() string {
	if name, ok := u.UserMetadata["name"].(string); ok && strings.TrimSpace(name) != "" {
		return name
	}
	return u.Email
}

// Session is the token set issued by the provider.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Expired reports whether the access token is past its expiry.
// A session without a known expiry never expires locally.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// EventType names an auth state transition.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is delivered to OnAuthStateChange subscribers.
type Event struct {
	Type      EventType
	SessionID string
	Session   *Session
}
