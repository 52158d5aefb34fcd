package event

import (
	"room-chat/domain"
	"time"
)

type Kind string

const (
	BroadcastKind      Kind = "broadcast"
	PresenceSyncKind   Kind = "presence_sync"
	SessionChangedKind Kind = "session_changed"
	StateChangedKind   Kind = "state_changed"
)

// Event is the tagged variant delivered by the chat service to its sinks.
type Event interface {
	Kind() Kind
}

// Broadcast carries a message received on the room channel.
type Broadcast struct {
	Message    domain.ChatMessage
	ReceivedAt time.Time
}

func (Broadcast) Kind() Kind { return BroadcastKind }

// PresenceSync carries the full roster computed from the latest presence snapshot.
type PresenceSync struct {
	Online domain.Roster
}

func (PresenceSync) Kind() Kind { return PresenceSyncKind }

// SessionChanged is emitted whenever the session reference is replaced.
// Session is nil after sign-out.
type SessionChanged struct {
	Event   domain.AuthEvent
	Session *domain.Session
}

func (SessionChanged) Kind() Kind { return SessionChangedKind }

type StateChanged struct {
	From domain.ChannelState
	To   domain.ChannelState
}

func (StateChanged) Kind() Kind { return StateChangedKind }
