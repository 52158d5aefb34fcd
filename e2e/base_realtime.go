package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"room-chat/contract"
	"room-chat/domain"
	"room-chat/realtime"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

type BaseRealtimeSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration and skips when no backend is set
func (s *BaseRealtimeSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if !s.Config.Enabled() {
		s.T().Skip("E2E_SUPABASE_URL, E2E_SUPABASE_ANON_KEY and E2E_ACCESS_TOKEN are required")
	}
}

func (s *BaseRealtimeSuite) header(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

// Joined is a subscribed channel with its received broadcasts
type Joined struct {
	Channel  contract.IChannel
	Messages chan domain.ChatMessage
	Synced   chan struct{}
}

// WithChannel opens its own socket, joins the room as presenceKey and runs fn
// once the server confirmed the subscription
func (s *BaseRealtimeSuite) WithChannel(name, presenceKey string, fn func(ctx context.Context, joined Joined)) {
	t := s.T()
	s.header(t, name)

	endpoint, err := realtime.EndpointFromURL(s.Config.SupabaseURL)
	s.Require().NoError(err)
	client := realtime.NewClient(logs.GetLoggerFromLevel(slog.LevelDebug), realtime.SocketConfig{
		Endpoint:          endpoint,
		APIKey:            s.Config.AnonKey,
		HeartbeatInterval: 25 * time.Second,
		PushTimeout:       10 * time.Second,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	joined := Joined{
		Channel: client.Channel(s.Config.ChannelName, domain.ChannelOptions{
			BroadcastSelf: true,
			BroadcastAck:  true,
			PresenceKey:   presenceKey,
			AccessToken:   s.Config.AccessToken,
		}),
		Messages: make(chan domain.ChatMessage, 16),
		Synced:   make(chan struct{}, 16),
	}
	joined.Channel.OnBroadcast(domain.MessageEvent, func(payload json.RawMessage) {
		if s.Config.DebugJSON {
			t.Logf("BROADCAST:\n%s", payload)
		}
		var msg domain.ChatMessage
		if err := json.Unmarshal(payload, &msg); err == nil {
			joined.Messages <- msg
		}
	})
	joined.Channel.OnPresenceSync(func() {
		select {
		case joined.Synced <- struct{}{}:
		default:
		}
	})

	status := make(chan domain.SubscribeStatus, 4)
	joined.Channel.Subscribe(ctx, func(st domain.SubscribeStatus, err error) {
		if err != nil {
			t.Logf("subscribe %s: %v", st, err)
		}
		status <- st
	})
	select {
	case st := <-status:
		s.Require().Equal(domain.StatusSubscribed, st)
	case <-ctx.Done():
		s.FailNow("subscription not confirmed")
	}
	defer func() { _ = joined.Channel.Unsubscribe(context.Background()) }()

	fn(ctx, joined)
}
