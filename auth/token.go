package auth

import (
	"fmt"
	"room-chat/domain"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the access token the client reads.
type Claims struct {
	Email        string              `json:"email"`
	UserMetadata domain.UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the access token without verifying its signature.
// Verification is the backend's job; the client only needs identity and expiry.
func ParseClaims(accessToken string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return claims, nil
}

// sessionExpired prefers expires_at and falls back to the token exp claim.
// A token that cannot be decoded is not considered expired.
func sessionExpired(session *domain.Session, now time.Time) bool {
	if session.ExpiresAt > 0 {
		return session.Expired(now)
	}
	claims, err := ParseClaims(session.AccessToken)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

// completeSession fills fields the token endpoint may leave out.
func completeSession(session *domain.Session, now time.Time) {
	if session.ExpiresAt == 0 && session.ExpiresIn > 0 {
		session.ExpiresAt = now.Add(time.Duration(session.ExpiresIn) * time.Second).Unix()
	}
	if session.User.ID != "" {
		return
	}
	claims, err := ParseClaims(session.AccessToken)
	if err != nil {
		return
	}
	session.User.ID = claims.Subject
	session.User.Email = claims.Email
	session.User.UserMetadata = claims.UserMetadata
}
