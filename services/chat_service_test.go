package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"room-chat/contract"
	"room-chat/domain"
	"room-chat/domain/event"
	"room-chat/errors"
	"room-chat/mocks"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const channelName = "room_one"

var alice = &domain.Session{
	AccessToken: "token-alice",
	User: domain.User{
		ID:    "user-alice",
		Email: "alice@example.com",
		UserMetadata: domain.UserMetadata{
			FullName:  "Alice Liddell",
			AvatarURL: "https://example.com/alice.png",
		},
	},
}

var bob = &domain.Session{
	AccessToken: "token-bob",
	User:        domain.User{ID: "user-bob", Email: "bob@example.com"},
}

// hooks captures what the service registers on one channel.
type hooks struct {
	channel   *mocks.MockIChannel
	options   chan domain.ChannelOptions
	broadcast chan func(json.RawMessage)
	sync      chan func()
	subscribe chan contract.SubscribeCallback
}

type harness struct {
	t        *testing.T
	ctrl     *gomock.Controller
	auth     *mocks.MockIAuthProvider
	realtime *mocks.MockIRealtime
	service  *ChatService
	listener chan contract.AuthStateListener
}

func newHarness(t *testing.T, initial *domain.Session) *harness {
	return newHarnessWithLogger(t, initial, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func newHarnessWithLogger(t *testing.T, initial *domain.Session, log *slog.Logger) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		t:        t,
		ctrl:     ctrl,
		auth:     mocks.NewMockIAuthProvider(ctrl),
		realtime: mocks.NewMockIRealtime(ctrl),
		listener: make(chan contract.AuthStateListener, 1),
	}
	subscription := mocks.NewMockSubscription(ctrl)
	subscription.EXPECT().Unsubscribe().Times(1)
	h.auth.EXPECT().OnAuthStateChange(gomock.Any()).DoAndReturn(
		func(listener contract.AuthStateListener) contract.Subscription {
			h.listener <- listener
			return subscription
		})
	h.auth.EXPECT().GetSession(gomock.Any()).Return(initial, nil)
	h.service = NewChatService(log, h.auth, h.realtime, ChatConfig{
		ChannelName: channelName,
		Provider:    "google",
		BufferSize:  64,
	})
	return h
}

// expectChannel prepares the next channel handed out by the realtime client.
// Every opened channel is unsubscribed exactly once.
func (h *harness) expectChannel() *hooks {
	k := &hooks{
		channel:   mocks.NewMockIChannel(h.ctrl),
		options:   make(chan domain.ChannelOptions, 1),
		broadcast: make(chan func(json.RawMessage), 1),
		sync:      make(chan func(), 1),
		subscribe: make(chan contract.SubscribeCallback, 1),
	}
	h.realtime.EXPECT().Channel(channelName, gomock.Any()).DoAndReturn(
		func(_ string, options domain.ChannelOptions) contract.IChannel {
			k.options <- options
			return k.channel
		})
	k.channel.EXPECT().OnBroadcast(domain.MessageEvent, gomock.Any()).Do(
		func(_ string, handler func(json.RawMessage)) { k.broadcast <- handler })
	k.channel.EXPECT().OnPresenceSync(gomock.Any()).Do(func(handler func()) { k.sync <- handler })
	k.channel.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, callback contract.SubscribeCallback) { k.subscribe <- callback })
	k.channel.EXPECT().Unsubscribe(gomock.Any()).Return(nil).Times(1)
	return k
}

func (h *harness) run() {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- h.service.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		select {
		case err := <-stopped:
			require.NoError(h.t, err)
		case <-time.After(2 * time.Second):
			h.t.Error("service did not stop")
		}
	})
}

func receive[T any](t *testing.T, ch chan T) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a callback")
		var zero T
		return zero
	}
}

func (h *harness) waitState(want domain.ChannelState) {
	require.Eventually(h.t, func() bool { return h.service.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

// recordingHandler keeps every record, whatever logger it was derived into.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingHandler() recordingHandler {
	return recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
}

func (r recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (r recordingHandler) Handle(_ context.Context, record slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.records = append(*r.records, record.Clone())
	return nil
}

func (r recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r recordingHandler) WithGroup(string) slog.Handler      { return r }

// find returns the attributes of the first record matching level and message.
func (r recordingHandler) find(level slog.Level, msg string) (map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range *r.records {
		if record.Level != level || record.Message != msg {
			continue
		}
		attrs := make(map[string]string)
		record.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value.String()
			return true
		})
		return attrs, true
	}
	return nil, false
}

// join drives a channel through a successful subscription.
func (h *harness) join(k *hooks, userID string) {
	k.channel.EXPECT().Track(gomock.Any(), domain.PresenceMeta{"id": userID}).Return(nil)
	receive(h.t, k.subscribe)(domain.StatusSubscribed, nil)
	h.waitState(domain.Subscribed)
	require.True(h.t, h.service.Joined())
}

func TestChatService_JoinsOnlyAfterSubscribed(t *testing.T) {
	req := require.New(t)
	recorder := newRecordingHandler()
	h := newHarnessWithLogger(t, alice, slog.New(recorder))
	k := h.expectChannel()
	h.run()

	// Given a session, a channel keyed by the user id with self echo is opened
	options := receive(t, k.options)
	req.Equal("user-alice", options.PresenceKey)
	req.Equal("token-alice", options.AccessToken)
	req.True(options.BroadcastSelf)
	h.waitState(domain.Connecting)

	// When sending before the subscription succeeded, Then nothing reaches the channel
	h.service.SetDraft("too early")
	req.ErrorIs(h.service.Send(context.Background()), errors.ErrNotJoined)
	req.Equal("too early", h.service.Draft())
	req.False(h.service.Joined())
	attrs, warned := recorder.find(slog.LevelWarn, "Message not sent, channel not joined yet")
	req.True(warned)
	req.Equal("connecting", attrs["state"])
	var transition map[string]string
	req.Eventually(func() bool {
		var logged bool
		transition, logged = recorder.find(slog.LevelDebug, "Channel state changed")
		return logged
	}, time.Second, 10*time.Millisecond)
	req.Equal("no_session", transition["from"])
	req.Equal("connecting", transition["to"])

	// When the channel reports a failure, Then the state does not move
	callback := receive(t, k.subscribe)
	callback(domain.StatusTimedOut, errors.ErrPushTimeout)
	time.Sleep(20 * time.Millisecond)
	req.Equal(domain.Connecting, h.service.State())

	// When it finally reports SUBSCRIBED, Then presence is tracked and sends unlock
	k.channel.EXPECT().Track(gomock.Any(), domain.PresenceMeta{"id": "user-alice"}).Return(nil)
	callback(domain.StatusSubscribed, nil)
	h.waitState(domain.Subscribed)
	req.True(h.service.Joined())
}

func TestChatService_SendEmptyIsNoop(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	h.join(k, "user-alice")

	for _, text := range []string{"", "   ", "\n\t"} {
		h.service.SetDraft(text)
		req.ErrorIs(h.service.Send(context.Background()), errors.ErrEmptyMessage)
		req.Equal(text, h.service.Draft())
	}
}

func TestChatService_SendAcknowledgedClearsDraft(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	h.join(k, "user-alice")

	var sent domain.ChatMessage
	k.channel.EXPECT().Send(gomock.Any(), domain.MessageEvent, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, payload any) (bool, error) {
			sent = payload.(domain.ChatMessage)
			return true, nil
		})

	h.service.SetDraft("hello")
	req.NoError(h.service.Send(context.Background()))

	req.Equal("hello", sent.Message)
	req.Equal("alice@example.com", sent.UserName)
	req.Equal("https://example.com/alice.png", sent.Avatar)
	req.WithinDuration(time.Now(), sent.SentAt(), 5*time.Second)
	req.Empty(h.service.Draft())
}

func TestChatService_SendClearsDraftTypedWhilePending(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	h.join(k, "user-alice")

	// Given the user keeps typing while the backend acknowledges
	var sent domain.ChatMessage
	k.channel.EXPECT().Send(gomock.Any(), domain.MessageEvent, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, payload any) (bool, error) {
			sent = payload.(domain.ChatMessage)
			h.service.SetDraft("hello again")
			return true, nil
		})

	// When the send is acknowledged
	h.service.SetDraft("hello")
	req.NoError(h.service.Send(context.Background()))

	// Then the original text went out and the composer is empty
	req.Equal("hello", sent.Message)
	req.Empty(h.service.Draft())
}

func TestChatService_SendNotAcknowledgedKeepsDraft(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	h.join(k, "user-alice")

	k.channel.EXPECT().Send(gomock.Any(), domain.MessageEvent, gomock.Any()).Return(false, nil)
	k.channel.EXPECT().Send(gomock.Any(), domain.MessageEvent, gomock.Any()).Return(false, errors.ErrPushTimeout)

	h.service.SetDraft("hello")
	req.ErrorIs(h.service.Send(context.Background()), errors.ErrNotAcknowledged)
	req.Equal("hello", h.service.Draft())

	err := h.service.Send(context.Background())
	req.ErrorIs(err, errors.ErrNotAcknowledged)
	req.ErrorIs(err, errors.ErrPushTimeout)
	req.Equal("hello", h.service.Draft())
}

func TestChatService_BroadcastsAppendedInArrivalOrder(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	handler := receive(t, k.broadcast)
	receive(t, k.subscribe)

	first := `{"message":"hi","user_name":"bob@example.com","timestamp":"2024-05-01T10:00:00.000Z"}`
	second := `{"message":"hello","user_name":"alice@example.com","timestamp":"2024-05-01T09:59:00.000Z"}`

	// When the same payload arrives twice and an undecodable one in between
	handler(json.RawMessage(first))
	handler(json.RawMessage(`{"message":`))
	handler(json.RawMessage(second))
	handler(json.RawMessage(first))

	// Then every decodable message is kept once per arrival, in arrival order
	require.Eventually(t, func() bool { return len(h.service.Messages()) == 3 }, 2*time.Second, 5*time.Millisecond)
	messages := h.service.Messages()
	req.Equal("hi", messages[0].Message)
	req.Equal("hello", messages[1].Message)
	req.Equal("hi", messages[2].Message)
}

func TestChatService_PresenceSyncReplacesRoster(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	sync := receive(t, k.sync)
	receive(t, k.subscribe)

	gomock.InOrder(
		k.channel.EXPECT().PresenceState().Return(map[string][]domain.PresenceMeta{
			"alice": {{"phx_ref": "a1"}},
			"bob":   {{"phx_ref": "b1"}},
		}),
		k.channel.EXPECT().PresenceState().Return(map[string][]domain.PresenceMeta{
			"carol": {{"phx_ref": "c1"}},
		}),
	)

	sync()
	require.Eventually(t, func() bool { return h.service.Online().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	req.Equal([]string{"alice", "bob"}, h.service.Online().Keys())

	// When the next snapshot no longer holds alice and bob, Then they are dropped
	sync()
	require.Eventually(t, func() bool { return h.service.Online().Contains("carol") }, 2*time.Second, 5*time.Millisecond)
	req.Equal([]string{"carol"}, h.service.Online().Keys())
}

func TestChatService_SignOutTearsDown(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	listener := receive(t, h.listener)
	h.join(k, "user-alice")

	k.channel.EXPECT().PresenceState().Return(map[string][]domain.PresenceMeta{"user-alice": {{}}})
	receive(t, k.sync)()
	require.Eventually(t, func() bool { return h.service.Online().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	// When the session becomes null
	listener(domain.SignedOut, nil)

	// Then the channel is released, the roster emptied and sends rejected
	h.waitState(domain.TornDown)
	req.False(h.service.Joined())
	req.Zero(h.service.Online().Len())
	req.Nil(h.service.Session())
	h.service.SetDraft("anyone?")
	req.ErrorIs(h.service.Send(context.Background()), errors.ErrNotJoined)
}

func TestChatService_TranscriptSurvivesSignOut(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	listener := receive(t, h.listener)
	receive(t, k.subscribe)
	receive(t, k.broadcast)(json.RawMessage(`{"message":"hi","timestamp":"2024-05-01T10:00:00.000Z"}`))
	require.Eventually(t, func() bool { return len(h.service.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)

	listener(domain.SignedOut, nil)
	h.waitState(domain.TornDown)

	req.Len(h.service.Messages(), 1)
}

func TestChatService_SameIdentityKeepsChannel(t *testing.T) {
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	listener := receive(t, h.listener)
	h.join(k, "user-alice")

	// When the provider replays the same session, Then no second channel is opened
	copied := *alice
	listener(domain.InitialSession, &copied)

	require.Eventually(t, func() bool { return h.service.Session() == &copied }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, domain.Subscribed, h.service.State())
	require.True(t, h.service.Joined())
}

func TestChatService_NewIdentityReopensChannel(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	first := h.expectChannel()
	h.run()
	listener := receive(t, h.listener)
	staleBroadcast := receive(t, first.broadcast)
	staleSubscribe := receive(t, first.subscribe)

	// Given alice joined through the first channel
	first.channel.EXPECT().Track(gomock.Any(), domain.PresenceMeta{"id": "user-alice"}).Return(nil)
	staleSubscribe(domain.StatusSubscribed, nil)
	h.waitState(domain.Subscribed)

	// When another user signs in
	second := h.expectChannel()
	listener(domain.SignedIn, bob)

	// Then the old channel is released and a new one keyed by the new user is opened
	options := receive(t, second.options)
	req.Equal("user-bob", options.PresenceKey)
	h.waitState(domain.Connecting)
	req.False(h.service.Joined())

	// And late callbacks from the old channel are ignored
	staleSubscribe(domain.StatusSubscribed, nil)
	staleBroadcast(json.RawMessage(`{"message":"ghost","timestamp":"2024-05-01T10:00:00.000Z"}`))
	time.Sleep(20 * time.Millisecond)
	req.Equal(domain.Connecting, h.service.State())
	req.Empty(h.service.Messages())

	h.join(second, "user-bob")
}

func TestChatService_TrackFailureStillJoins(t *testing.T) {
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()

	k.channel.EXPECT().Track(gomock.Any(), gomock.Any()).Return(errors.ErrPushTimeout)
	receive(t, k.subscribe)(domain.StatusSubscribed, nil)

	h.waitState(domain.Subscribed)
	require.True(t, h.service.Joined())
}

func TestChatService_NoSessionOpensNothing(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	h.run()
	receive(t, h.listener)

	req.Equal(domain.NoSession, h.service.State())
	h.service.SetDraft("hello")
	req.ErrorIs(h.service.Send(context.Background()), errors.ErrNotJoined)
}

func TestChatService_EmitsEvents(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, alice)
	k := h.expectChannel()
	h.run()
	h.join(k, "user-alice")

	var kinds []event.Kind
	for len(kinds) < 3 {
		select {
		case e := <-h.service.Events():
			kinds = append(kinds, e.Kind())
		case <-time.After(2 * time.Second):
			t.Fatal("missing events")
		}
	}
	req.Equal([]event.Kind{event.SessionChangedKind, event.StateChangedKind, event.StateChangedKind}, kinds)
}

func TestChatService_SignInDelegatesProvider(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	auth := mocks.NewMockIAuthProvider(ctrl)
	service := NewChatService(logs.GetLoggerFromLevel(slog.LevelDebug), auth, mocks.NewMockIRealtime(ctrl), ChatConfig{
		ChannelName: channelName,
		Provider:    "github",
	})

	auth.EXPECT().SignInWithOAuth(gomock.Any(), "github").Return(errors.ErrOAuthCallback)
	auth.EXPECT().SignOut(gomock.Any()).Return(nil)

	req.ErrorIs(service.SignIn(context.Background()), errors.ErrOAuthCallback)
	req.NoError(service.SignOut(context.Background()))
}
