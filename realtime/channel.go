package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"room-chat/contract"
	"room-chat/domain"
	"room-chat/errors"
	"sync"
	"time"
)

type channelState int

const (
	channelClosed channelState = iota
	channelJoining
	channelJoined
	channelErrored
)

// Channel is one topic subscription. Handlers run on the socket read goroutine.
type Channel struct {
	socket  *Socket
	log     *slog.Logger
	topic   string
	options domain.ChannelOptions

	mu          sync.Mutex
	state       channelState
	released    bool
	joinRef     string
	subscribeCb contract.SubscribeCallback
	broadcasts  map[string][]func(json.RawMessage)
	syncs       []func()
	pending     map[string]chan reply
	presence    *Presence
}

func newChannel(socket *Socket, log *slog.Logger, name string, options domain.ChannelOptions) *Channel {
	return &Channel{
		socket:     socket,
		log:        log.With("topic", topicPrefix+name),
		topic:      topicPrefix + name,
		options:    options,
		broadcasts: make(map[string][]func(json.RawMessage)),
		pending:    make(map[string]chan reply),
		presence:   NewPresence(),
	}
}

func (c *Channel) OnBroadcast(event string, handler func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts[event] = append(c.broadcasts[event], handler)
}

func (c *Channel) OnPresenceSync(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncs = append(c.syncs, handler)
}

// Subscribe connects the socket if needed, joins the topic and reports the
// outcome through callback, asynchronously.
func (c *Channel) Subscribe(ctx context.Context, callback contract.SubscribeCallback) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		callback(domain.StatusClosed, errors.ErrChannelClosed)
		return
	}
	if c.state == channelJoining || c.state == channelJoined {
		c.mu.Unlock()
		c.log.Warn("Channel already subscribed")
		return
	}
	c.state = channelJoining
	c.subscribeCb = callback
	c.mu.Unlock()

	if err := c.socket.Connect(ctx); err != nil {
		c.setState(channelErrored)
		callback(domain.StatusChannelError, err)
		return
	}
	c.socket.register(c)

	ref := c.socket.makeRef()
	msg, err := newMessage(c.topic, eventJoin, c.joinPayload(), ref, ref)
	if err != nil {
		c.setState(channelErrored)
		callback(domain.StatusChannelError, err)
		return
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		c.socket.unregister(c)
		callback(domain.StatusClosed, errors.ErrChannelClosed)
		return
	}
	c.joinRef = ref
	c.presence.Reset()
	replies := c.expectLocked(ref)
	c.mu.Unlock()

	if err := c.socket.push(msg); err != nil {
		c.forget(ref)
		c.setState(channelErrored)
		callback(domain.StatusChannelError, err)
		return
	}

	go func() {
		r := c.await(ctx, ref, replies)
		switch {
		case r.err == nil && r.status == replyOK:
			c.setState(channelJoined)
			c.log.Debug("Channel joined")
			callback(domain.StatusSubscribed, nil)
		case r.err == errors.ErrPushTimeout:
			c.setState(channelErrored)
			callback(domain.StatusTimedOut, r.err)
		case r.err != nil:
			c.setState(channelErrored)
			callback(domain.StatusChannelError, r.err)
		default:
			c.setState(channelErrored)
			callback(domain.StatusChannelError, fmt.Errorf("%w: %s", errors.ErrPushRejected, string(r.response)))
		}
	}()
}

func (c *Channel) joinPayload() joinPayload {
	return joinPayload{
		Config: joinConfig{
			Broadcast: broadcastConfig{Self: c.options.BroadcastSelf, Ack: c.options.BroadcastAck},
			Presence: presenceConfig{
				Key:     c.options.PresenceKey,
				Enabled: c.options.PresenceKey != "",
			},
			PostgresChanges: []any{},
		},
		AccessToken: c.options.AccessToken,
	}
}

// Track publishes the local presence entry and waits for the server reply.
func (c *Channel) Track(ctx context.Context, meta domain.PresenceMeta) error {
	return c.call(ctx, eventPresence, outgoingBroadcast{
		Type:    eventPresence,
		Event:   "track",
		Payload: meta,
	})
}

// Send publishes a broadcast. Without broadcast ack it resolves once queued.
func (c *Channel) Send(ctx context.Context, event string, payload any) (bool, error) {
	body := outgoingBroadcast{Type: eventBroadcast, Event: event, Payload: payload}
	if !c.options.BroadcastAck {
		if !c.joined() {
			return false, errors.ErrChannelClosed
		}
		msg, err := newMessage(c.topic, eventBroadcast, body, c.socket.makeRef(), c.currentJoinRef())
		if err != nil {
			return false, err
		}
		if err := c.socket.push(msg); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := c.call(ctx, eventBroadcast, body); err != nil {
		return false, err
	}
	return true, nil
}

// PresenceState returns a copy of the synchronized presence snapshot.
func (c *Channel) PresenceState() map[string][]domain.PresenceMeta {
	return c.presence.State()
}

// Unsubscribe leaves the topic without waiting for the server reply. The
// channel is released for good: a later Subscribe reports CLOSED.
func (c *Channel) Unsubscribe(_ context.Context) error {
	c.mu.Lock()
	c.released = true
	if c.state == channelClosed {
		c.mu.Unlock()
		return nil
	}
	wasActive := c.state == channelJoined || c.state == channelJoining
	joinRef := c.joinRef
	c.state = channelClosed
	c.failPendingLocked(errors.ErrChannelClosed)
	c.mu.Unlock()

	defer c.socket.unregister(c)
	if !wasActive {
		return nil
	}
	msg, err := newMessage(c.topic, eventLeave, struct{}{}, c.socket.makeRef(), joinRef)
	if err != nil {
		return err
	}
	if err := c.socket.push(msg); err != nil {
		c.log.Debug("Leave not sent", "error", err)
		return err
	}
	return nil
}

// call pushes an event on a joined channel and waits for its reply.
func (c *Channel) call(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	if c.state != channelJoined {
		c.mu.Unlock()
		return errors.ErrChannelClosed
	}
	ref := c.socket.makeRef()
	msg, err := newMessage(c.topic, event, payload, ref, c.joinRef)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	replies := c.expectLocked(ref)
	c.mu.Unlock()

	if err := c.socket.push(msg); err != nil {
		c.forget(ref)
		return err
	}
	r := c.await(ctx, ref, replies)
	if r.err != nil {
		return r.err
	}
	if r.status != replyOK {
		return fmt.Errorf("%w: %s", errors.ErrPushRejected, string(r.response))
	}
	return nil
}

func (c *Channel) expectLocked(ref string) chan reply {
	replies := make(chan reply, 1)
	c.pending[ref] = replies
	return replies
}

func (c *Channel) forget(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, ref)
}

func (c *Channel) await(ctx context.Context, ref string, replies chan reply) reply {
	timeout := c.socket.config.PushTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer c.forget(ref)

	select {
	case r := <-replies:
		return r
	case <-timer.C:
		return reply{err: errors.ErrPushTimeout}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
}

func (c *Channel) failPendingLocked(err error) {
	for ref, replies := range c.pending {
		replies <- reply{err: err}
		delete(c.pending, ref)
	}
}

func (c *Channel) setState(state channelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *Channel) joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == channelJoined
}

func (c *Channel) currentJoinRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinRef
}

// transportClosed is called by the socket when the websocket goes away.
func (c *Channel) transportClosed(cause error) {
	c.mu.Lock()
	wasJoined := c.state == channelJoined
	if c.state != channelClosed {
		c.state = channelErrored
	}
	c.failPendingLocked(fmt.Errorf("%w: %v", errors.ErrSocketClosed, cause))
	callback := c.subscribeCb
	c.mu.Unlock()

	if wasJoined && callback != nil {
		callback(domain.StatusChannelError, cause)
	}
}

func (c *Channel) handle(msg Message) {
	switch msg.Event {
	case eventReply:
		var payload replyPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.log.Warn("Undecodable reply", "error", err)
			return
		}
		c.mu.Lock()
		replies, ok := c.pending[msg.Ref]
		if ok {
			delete(c.pending, msg.Ref)
		}
		c.mu.Unlock()
		if ok {
			replies <- reply{status: payload.Status, response: payload.Response}
		}

	case eventBroadcast:
		var payload broadcastPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.log.Warn("Undecodable broadcast", "error", err)
			return
		}
		c.mu.Lock()
		handlers := append([]func(json.RawMessage){}, c.broadcasts[payload.Event]...)
		c.mu.Unlock()
		for _, handler := range handlers {
			handler(payload.Payload)
		}

	case eventPresenceState:
		var state map[string]presenceEntry
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			c.log.Warn("Undecodable presence state", "error", err)
			return
		}
		c.presence.SyncState(state)
		c.fireSync()

	case eventPresenceDiff:
		var diff presenceDiff
		if err := json.Unmarshal(msg.Payload, &diff); err != nil {
			c.log.Warn("Undecodable presence diff", "error", err)
			return
		}
		if c.presence.SyncDiff(diff) {
			c.fireSync()
		}

	case eventError, eventClose:
		c.mu.Lock()
		if msg.JoinRef != "" && msg.JoinRef != c.joinRef {
			c.mu.Unlock()
			return
		}
		wasJoined := c.state == channelJoined
		status := domain.StatusChannelError
		if msg.Event == eventClose {
			c.state = channelClosed
			status = domain.StatusClosed
		} else {
			c.state = channelErrored
		}
		c.failPendingLocked(errors.ErrChannelClosed)
		callback := c.subscribeCb
		c.mu.Unlock()
		if wasJoined && callback != nil {
			callback(status, nil)
		}

	case eventSystem:
		c.log.Debug("System message", "payload", string(msg.Payload))

	default:
		c.log.Debug("Unhandled channel event", "event", msg.Event)
	}
}

func (c *Channel) fireSync() {
	c.mu.Lock()
	handlers := append([]func(){}, c.syncs...)
	c.mu.Unlock()
	for _, handler := range handlers {
		handler()
	}
}
