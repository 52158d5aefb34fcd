package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"room-chat/errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type SocketConfig struct {
	Endpoint          string
	APIKey            string
	HeartbeatInterval time.Duration
	PushTimeout       time.Duration
	SendBufferSize    int
}

// Socket multiplexes channels over one websocket connection.
// It dials lazily on the first subscribe and never reconnects by itself:
// the next Connect after a drop dials again.
type Socket struct {
	log    *slog.Logger
	config SocketConfig
	dialer *websocket.Dialer
	ref    atomic.Uint64

	mu       sync.Mutex
	current  *connection
	channels map[string]*Channel
}

// connection wraps one websocket and coordinates outbound writes via a buffered channel.
type connection struct {
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	mu               sync.Mutex
	pendingHeartbeat string
}

func NewSocket(log *slog.Logger, config SocketConfig) *Socket {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 128
	}
	return &Socket{
		log:      log,
		config:   config,
		dialer:   websocket.DefaultDialer,
		channels: make(map[string]*Channel),
	}
}

// Connect dials the endpoint unless a connection is already open.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil
	}

	endpoint, err := withQuery(s.config.Endpoint, s.config.APIKey)
	if err != nil {
		return fmt.Errorf("realtime endpoint: %w", err)
	}
	ws, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}

	conn := &connection{
		ws:     ws,
		send:   make(chan []byte, s.config.SendBufferSize),
		closed: make(chan struct{}),
	}
	s.current = conn
	go s.readLoop(conn)
	go s.writeLoop(conn)
	s.log.Debug("Realtime socket connected", "endpoint", s.config.Endpoint)
	return nil
}

// Connected reports whether a websocket is currently open.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close terminates the current connection, if any. It is safe to call repeatedly.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.current
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(writeWait))
	s.drop(conn, errors.ErrSocketClosed)
	return nil
}

func (s *Socket) makeRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

func (s *Socket) register(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.topic] = ch
}

// unregister removes ch only if it is still the channel bound to its topic.
func (s *Socket) unregister(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[ch.topic] == ch {
		delete(s.channels, ch.topic)
	}
}

// push enqueues a frame for the write loop.
func (s *Socket) push(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.mu.Lock()
	conn := s.current
	s.mu.Unlock()
	if conn == nil {
		return errors.ErrSocketClosed
	}
	select {
	case <-conn.closed:
		return errors.ErrSocketClosed
	case conn.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", errors.ErrSocketClosed)
	}
}

// drop closes conn once and tells every bound channel the transport is gone.
func (s *Socket) drop(conn *connection, cause error) {
	first := false
	conn.once.Do(func() {
		first = true
		close(conn.closed)
		_ = conn.ws.Close()
	})
	if !first {
		return
	}

	s.mu.Lock()
	if s.current == conn {
		s.current = nil
	}
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	s.log.Debug("Realtime socket closed", "cause", cause)
	for _, ch := range channels {
		ch.transportClosed(cause)
	}
}

func (s *Socket) readLoop(conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			s.drop(conn, err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("Undecodable realtime frame", "error", err)
			continue
		}
		s.dispatch(conn, msg)
	}
}

func (s *Socket) dispatch(conn *connection, msg Message) {
	if msg.Topic == phoenixTopic {
		if msg.Event == eventReply {
			conn.mu.Lock()
			if msg.Ref == conn.pendingHeartbeat {
				conn.pendingHeartbeat = ""
			}
			conn.mu.Unlock()
		}
		return
	}

	s.mu.Lock()
	ch := s.channels[msg.Topic]
	s.mu.Unlock()
	if ch == nil {
		s.log.Debug("Frame for unknown topic", "topic", msg.Topic, "event", msg.Event)
		return
	}
	ch.handle(msg)
}

func (s *Socket) writeLoop(conn *connection) {
	interval := s.config.HeartbeatInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.closed:
			return
		case data := <-conn.send:
			if err := writeFrame(conn.ws, data); err != nil {
				s.drop(conn, err)
				return
			}
		case <-ticker.C:
			if err := s.heartbeat(conn); err != nil {
				s.drop(conn, err)
				return
			}
		}
	}
}

// heartbeat fails when the previous heartbeat was never answered.
func (s *Socket) heartbeat(conn *connection) error {
	conn.mu.Lock()
	if conn.pendingHeartbeat != "" {
		conn.mu.Unlock()
		s.log.Warn("Realtime heartbeat not acknowledged, closing socket")
		return errors.ErrHeartbeatTimeout
	}
	ref := s.makeRef()
	conn.pendingHeartbeat = ref
	conn.mu.Unlock()

	msg, err := newMessage(phoenixTopic, eventHeartbeat, struct{}{}, ref, "")
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return writeFrame(conn.ws, data)
}

func writeFrame(ws *websocket.Conn, data []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}
