// Package domain contains core concepts of the chat client.
// This file defines ChatMessage, the payload of the room's broadcast events.
// Messages are ephemeral: they live in memory for the lifetime of the process.
package domain

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// MessageEvent is the broadcast event tag carrying chat messages.
const MessageEvent = "message"

// TimestampLayout renders an ISO-8601 UTC timestamp with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var validate = validator.New()

// ChatMessage is the broadcast payload exchanged on the room channel.
type ChatMessage struct {
	Message   string `json:"message" validate:"required"`
	UserName  string `json:"user_name,omitempty"`
	Avatar    string `json:"avatar,omitempty" validate:"omitempty,url"`
	Timestamp string `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

// NewChatMessage builds an outgoing message for the given session.
// A nil session produces an anonymous message.
func NewChatMessage(text string, session *Session, now time.Time) ChatMessage {
	msg := ChatMessage{
		Message:   text,
		Timestamp: now.UTC().Format(TimestampLayout),
	}
	if session != nil {
		msg.UserName = session.SenderName()
		msg.Avatar = session.User.UserMetadata.AvatarURL
	}
	return msg
}

// Validate checks the outgoing message shape.
func (m ChatMessage) Validate() error {
	return validate.Struct(m)
}

// SentAt parses the message timestamp. Zero time is returned for unparsable values.
func (m ChatMessage) SentAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsOwn reports whether the message was sent by the given email.
// This is a display classification only.
func (m ChatMessage) IsOwn(email string) bool {
	return email != "" && m.UserName == email
}
