// Package realtime is a client for a Phoenix-channels realtime backend
// (broadcast and presence), speaking the v1 JSON serializer over a websocket.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
	protocolVsn  = "1.0.0"
)

const (
	eventJoin          = "phx_join"
	eventLeave         = "phx_leave"
	eventReply         = "phx_reply"
	eventError         = "phx_error"
	eventClose         = "phx_close"
	eventHeartbeat     = "heartbeat"
	eventBroadcast     = "broadcast"
	eventPresence      = "presence"
	eventPresenceState = "presence_state"
	eventPresenceDiff  = "presence_diff"
	eventSystem        = "system"
)

const (
	replyOK    = "ok"
	replyError = "error"
)

// Message is one frame exchanged with the server.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// reply is what a pending push resolves with.
type reply struct {
	status   string
	response json.RawMessage
	err      error
}

// broadcastPayload wraps user broadcasts in both directions.
type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type outgoingBroadcast struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig `json:"broadcast"`
	Presence        presenceConfig  `json:"presence"`
	PostgresChanges []any           `json:"postgres_changes"`
	Private         bool            `json:"private"`
}

type broadcastConfig struct {
	Self bool `json:"self"`
	Ack  bool `json:"ack"`
}

type presenceConfig struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

func newMessage(topic, event string, payload any, ref, joinRef string) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Topic: topic, Event: event, Payload: raw, Ref: ref, JoinRef: joinRef}, nil
}

// EndpointFromURL derives the websocket endpoint from the project base URL,
// e.g. https://xyz.supabase.co -> wss://xyz.supabase.co/realtime/v1/websocket.
func EndpointFromURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	return u.String(), nil
}

func withQuery(endpoint, apiKey string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", protocolVsn)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
