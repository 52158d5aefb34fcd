package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSession_DisplayName(t *testing.T) {
	tests := []struct {
		name     string
		metadata UserMetadata
		want     string
	}{
		{"full name", UserMetadata{FullName: "Alice Liddell", Name: "alice"}, "Alice Liddell"},
		{"name", UserMetadata{Name: "alice"}, "alice"},
		{"email fallback", UserMetadata{}, "alice@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{User: User{Email: "alice@example.com", UserMetadata: tt.metadata}}
			require.Equal(t, tt.want, s.DisplayName())
		})
	}
}

func TestSession_Expired(t *testing.T) {
	req := require.New(t)
	now := time.Unix(1_700_000_000, 0)

	req.False((&Session{}).Expired(now))
	req.False((&Session{ExpiresAt: now.Unix() + 60}).Expired(now))
	req.True((&Session{ExpiresAt: now.Unix()}).Expired(now))
}

func TestSession_SameIdentity(t *testing.T) {
	req := require.New(t)
	a := &Session{AccessToken: "t1", User: User{ID: "u1"}}

	req.True(a.SameIdentity(&Session{AccessToken: "t1", User: User{ID: "u1"}}))
	req.False(a.SameIdentity(&Session{AccessToken: "t2", User: User{ID: "u1"}}))
	req.False(a.SameIdentity(&Session{AccessToken: "t1", User: User{ID: "u2"}}))
	req.False(a.SameIdentity(nil))

	var none *Session
	req.False(none.SameIdentity(a))
}
