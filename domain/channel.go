package domain

// ChannelState is the lifecycle of the room channel for the current session.
type ChannelState int

const (
	NoSession ChannelState = iota
	Connecting
	Subscribed
	TornDown
)

func (s ChannelState) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case TornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// SubscribeStatus is reported by a channel subscription callback.
type SubscribeStatus string

const (
	StatusSubscribed   SubscribeStatus = "SUBSCRIBED"
	StatusChannelError SubscribeStatus = "CHANNEL_ERROR"
	StatusTimedOut     SubscribeStatus = "TIMED_OUT"
	StatusClosed       SubscribeStatus = "CLOSED"
)

// PresenceMeta is one tracked presence entry for a key.
type PresenceMeta map[string]any

// PresenceRef returns the server-assigned reference of the entry.
func (m PresenceMeta) PresenceRef() string {
	ref, _ := m["phx_ref"].(string)
	return ref
}

// ChannelOptions configures a realtime channel at join time.
type ChannelOptions struct {
	BroadcastSelf bool
	BroadcastAck  bool
	PresenceKey   string
	AccessToken   string
}
