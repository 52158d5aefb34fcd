package domain

import (
	"time"
)

// AuthEvent names an auth-state notification.
type AuthEvent string

const (
	InitialSession AuthEvent = "INITIAL_SESSION"
	SignedIn       AuthEvent = "SIGNED_IN"
	SignedOut      AuthEvent = "SIGNED_OUT"
)

// Session is the identity record issued by the external identity provider.
// The chat layer never mutates it; each auth notification replaces it wholesale.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Email     string `json:"email,omitempty"`
}

// SenderName is the identifier stamped on outgoing messages.
func (s *Session) SenderName() string {
	if s.User.UserMetadata.Email != "" {
		return s.User.UserMetadata.Email
	}
	return s.User.Email
}

// DisplayName is shown in the header once signed in.
func (s *Session) DisplayName() string {
	switch {
	case s.User.UserMetadata.FullName != "":
		return s.User.UserMetadata.FullName
	case s.User.UserMetadata.Name != "":
		return s.User.UserMetadata.Name
	default:
		return s.User.Email
	}
}

// Expired reports whether expires_at is set and already past.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// SameIdentity reports whether both sessions carry the same user and token,
// in which case an open channel can be kept.
func (s *Session) SameIdentity(other *Session) bool {
	if s == nil || other == nil {
		return false
	}
	return s.User.ID == other.User.ID && s.AccessToken == other.AccessToken
}
