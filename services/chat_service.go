package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"room-chat/contract"
	"room-chat/domain"
	"room-chat/domain/event"
	"room-chat/errors"
	"strings"
	"sync"
	"time"
)

var _ contract.IChatService = (*ChatService)(nil)

type ChatConfig struct {
	ChannelName  string
	Provider     string
	BroadcastAck bool
	BufferSize   int
}

// notice is anything the service loop reacts to. Channel notices carry the
// generation of the channel that produced them, so callbacks from a channel
// that was already torn down are ignored.
type notice interface{}

type sessionNotice struct {
	event   domain.AuthEvent
	session *domain.Session
}

type subscribeNotice struct {
	generation uint64
	status     domain.SubscribeStatus
	err        error
}

type trackedNotice struct {
	generation uint64
	err        error
}

type broadcastNotice struct {
	generation uint64
	payload    json.RawMessage
}

type presenceNotice struct {
	generation uint64
}

// ChatService owns the room channel for the current session.
// Run is the only goroutine mutating the session and channel lifecycle;
// readers take a snapshot under the lock.
type ChatService struct {
	log      *slog.Logger
	auth     contract.IAuthProvider
	realtime contract.IRealtime
	config   ChatConfig
	now      func() time.Time

	notices chan notice
	events  chan event.Event

	mu         sync.RWMutex
	done       chan struct{}
	session    *domain.Session
	state      domain.ChannelState
	joined     bool
	online     domain.Roster
	channel    contract.IChannel
	generation uint64
	composer   domain.Composer
	transcript *domain.Transcript
}

func NewChatService(log *slog.Logger, auth contract.IAuthProvider, realtime contract.IRealtime, config ChatConfig) *ChatService {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	return &ChatService{
		log:        log.With("channel", config.ChannelName),
		auth:       auth,
		realtime:   realtime,
		config:     config,
		now:        time.Now,
		notices:    make(chan notice, config.BufferSize),
		events:     make(chan event.Event, config.BufferSize),
		done:       make(chan struct{}),
		state:      domain.NoSession,
		online:     domain.NewRoster(),
		transcript: domain.NewTranscript(),
	}
}

// Events is consumed by the fan-out worker.
func (s *ChatService) Events() <-chan event.Event {
	return s.events
}

// Run drives the lifecycle until ctx is done. The channel is always released
// on return, including after a panic.
func (s *ChatService) Run(ctx context.Context) error {
	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()
	defer close(done)
	defer s.teardown(ctx)

	subscription := s.auth.OnAuthStateChange(func(evt domain.AuthEvent, session *domain.Session) {
		s.enqueue(sessionNotice{event: evt, session: session})
	})
	defer subscription.Unsubscribe()

	session, err := s.auth.GetSession(ctx)
	if err != nil {
		s.log.Warn("Unable to read the current session", "error", err)
	} else {
		s.onSession(ctx, sessionNotice{event: domain.InitialSession, session: session})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-s.notices:
			s.handle(ctx, n)
		}
	}
}

// enqueue is called from auth and transport goroutines.
func (s *ChatService) enqueue(n notice) {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	select {
	case s.notices <- n:
	case <-done:
	}
}

func (s *ChatService) emit(ctx context.Context, e event.Event) {
	select {
	case s.events <- e:
	case <-ctx.Done():
	}
}

func (s *ChatService) handle(ctx context.Context, n notice) {
	switch n := n.(type) {
	case sessionNotice:
		s.onSession(ctx, n)
	case subscribeNotice:
		s.onSubscribe(ctx, n)
	case trackedNotice:
		s.onTracked(ctx, n)
	case broadcastNotice:
		s.onBroadcast(ctx, n)
	case presenceNotice:
		s.onPresence(ctx, n)
	default:
		s.log.Error("Unknown notice", "type", fmt.Sprintf("%T", n))
	}
}

func (s *ChatService) current(generation uint64) (contract.IChannel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.channel == nil || generation != s.generation {
		return nil, false
	}
	return s.channel, true
}

func (s *ChatService) onSession(ctx context.Context, n sessionNotice) {
	s.mu.Lock()
	previous := s.session
	s.session = n.session
	keep := s.channel != nil && previous.SameIdentity(n.session)
	s.mu.Unlock()

	s.log.Debug("Session replaced", "event", n.event, "signed_in", n.session != nil)
	s.emit(ctx, event.SessionChanged{Event: n.event, Session: n.session})

	switch {
	case n.session == nil:
		s.teardown(ctx)
	case keep:
		s.log.Debug("Same identity, keeping the channel")
	default:
		s.teardown(ctx)
		s.open(ctx, n.session)
	}
}

func (s *ChatService) open(ctx context.Context, session *domain.Session) {
	channel := s.realtime.Channel(s.config.ChannelName, domain.ChannelOptions{
		BroadcastSelf: true,
		BroadcastAck:  s.config.BroadcastAck,
		PresenceKey:   session.User.ID,
		AccessToken:   session.AccessToken,
	})

	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.channel = channel
	s.mu.Unlock()

	channel.OnBroadcast(domain.MessageEvent, func(payload json.RawMessage) {
		s.enqueue(broadcastNotice{generation: generation, payload: payload})
	})
	channel.OnPresenceSync(func() {
		s.enqueue(presenceNotice{generation: generation})
	})

	s.setState(ctx, domain.Connecting)
	go channel.Subscribe(ctx, func(status domain.SubscribeStatus, err error) {
		s.enqueue(subscribeNotice{generation: generation, status: status, err: err})
	})
}

func (s *ChatService) onSubscribe(ctx context.Context, n subscribeNotice) {
	channel, ok := s.current(n.generation)
	if !ok {
		return
	}
	if n.status != domain.StatusSubscribed {
		s.log.Warn("Channel not subscribed", "status", n.status, "error", n.err)
		return
	}
	if s.State() == domain.Subscribed {
		return
	}

	s.mu.RLock()
	userID := s.session.User.ID
	s.mu.RUnlock()

	// Track waits for a reply that is dispatched by the transport goroutine,
	// so it cannot run on the loop.
	go func() {
		err := channel.Track(ctx, domain.PresenceMeta{"id": userID})
		s.enqueue(trackedNotice{generation: n.generation, err: err})
	}()
}

func (s *ChatService) onTracked(ctx context.Context, n trackedNotice) {
	if _, ok := s.current(n.generation); !ok {
		return
	}
	if n.err != nil {
		s.log.Warn("Presence not tracked", "error", n.err)
	}
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	s.setState(ctx, domain.Subscribed)
}

func (s *ChatService) onBroadcast(ctx context.Context, n broadcastNotice) {
	if _, ok := s.current(n.generation); !ok {
		return
	}
	var message domain.ChatMessage
	if err := json.Unmarshal(n.payload, &message); err != nil {
		s.log.Warn("Dropping broadcast", "error", fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
		return
	}
	s.transcript.Append(message)
	s.emit(ctx, event.Broadcast{Message: message, ReceivedAt: s.now()})
}

func (s *ChatService) onPresence(ctx context.Context, n presenceNotice) {
	channel, ok := s.current(n.generation)
	if !ok {
		return
	}
	online := domain.RosterFromState(channel.PresenceState())
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
	s.emit(ctx, event.PresenceSync{Online: domain.NewRoster(online.Keys()...)})
}

// teardown releases the current channel, if any.
func (s *ChatService) teardown(ctx context.Context) {
	s.mu.Lock()
	channel := s.channel
	if channel == nil {
		s.mu.Unlock()
		return
	}
	s.channel = nil
	s.generation++
	s.joined = false
	s.online = domain.NewRoster()
	s.mu.Unlock()

	if err := channel.Unsubscribe(ctx); err != nil {
		s.log.Debug("Channel unsubscribe failed", "error", err)
	}
	s.setState(ctx, domain.TornDown)
	s.emit(ctx, event.PresenceSync{Online: domain.NewRoster()})
}

func (s *ChatService) setState(ctx context.Context, to domain.ChannelState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	s.log.Debug("Channel state changed", "from", from.String(), "to", to.String())
	s.emit(ctx, event.StateChanged{From: from, To: to})
}

func (s *ChatService) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composer.Set(text)
}

func (s *ChatService) Draft() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.composer.Text()
}

// Send publishes the draft. The draft is cleared once the backend
// acknowledged it, including anything typed while the send was pending.
// A failed send keeps the draft for a retry.
func (s *ChatService) Send(ctx context.Context) error {
	s.mu.RLock()
	text := s.composer.Text()
	joined := s.joined
	channel := s.channel
	session := s.session
	s.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return errors.ErrEmptyMessage
	}
	if !joined || channel == nil {
		s.log.Warn("Message not sent, channel not joined yet", "state", s.State().String())
		return errors.ErrNotJoined
	}

	message := domain.NewChatMessage(text, session, s.now())
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}

	acknowledged, err := channel.Send(ctx, domain.MessageEvent, message)
	if err != nil || !acknowledged {
		s.log.Error("Message not acknowledged", "error", err)
		if err != nil {
			return fmt.Errorf("%w: %w", errors.ErrNotAcknowledged, err)
		}
		return errors.ErrNotAcknowledged
	}

	s.mu.Lock()
	s.composer.Clear()
	s.mu.Unlock()
	return nil
}

func (s *ChatService) SignIn(ctx context.Context) error {
	if err := s.auth.SignInWithOAuth(ctx, s.config.Provider); err != nil {
		s.log.Warn("Sign-in failed", "provider", s.config.Provider, "error", err)
		return err
	}
	return nil
}

func (s *ChatService) SignOut(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		s.log.Warn("Sign-out failed", "error", err)
		return err
	}
	return nil
}

func (s *ChatService) Messages() []domain.ChatMessage {
	return s.transcript.All()
}

func (s *ChatService) Online() domain.Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.NewRoster(s.online.Keys()...)
}

func (s *ChatService) Session() *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *ChatService) Joined() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joined
}

func (s *ChatService) State() domain.ChannelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
