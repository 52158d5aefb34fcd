package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeServer is a minimal Phoenix endpoint: it acknowledges joins, heartbeats,
// presence tracks and leaves, and echoes broadcasts when the join asked for it.
type fakeServer struct {
	t      *testing.T
	server *httptest.Server

	// behaviour switches, only set through newFakeServer options
	rejectJoin      bool
	ignoreHeartbeat bool
	ignoreBroadcast bool

	mu       sync.Mutex
	conn     *websocket.Conn
	joins    []joinPayload
	frames   []Message
	query    string
	echoSelf bool
}

func newFakeServer(t *testing.T, configure ...func(*fakeServer)) *fakeServer {
	f := &fakeServer{t: t}
	for _, c := range configure {
		c(f)
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = ws
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		f.serve(ws)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServer) endpoint() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/realtime/v1/websocket"
}

func (f *fakeServer) serve(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		f.mu.Lock()
		f.frames = append(f.frames, msg)
		f.mu.Unlock()

		switch msg.Event {
		case eventHeartbeat:
			if !f.ignoreHeartbeat {
				f.reply(msg, replyOK)
			}
		case eventJoin:
			var payload joinPayload
			_ = json.Unmarshal(msg.Payload, &payload)
			f.mu.Lock()
			f.joins = append(f.joins, payload)
			f.echoSelf = payload.Config.Broadcast.Self
			f.mu.Unlock()
			if f.rejectJoin {
				f.reply(msg, replyError)
				continue
			}
			f.reply(msg, replyOK)
		case eventBroadcast:
			if f.ignoreBroadcast {
				continue
			}
			f.mu.Lock()
			echo := f.echoSelf
			f.mu.Unlock()
			if echo {
				f.send(Message{Topic: msg.Topic, Event: eventBroadcast, Payload: msg.Payload})
			}
			f.reply(msg, replyOK)
		case eventPresence, eventLeave:
			f.reply(msg, replyOK)
		}
	}
}

func (f *fakeServer) reply(msg Message, status string) {
	payload, _ := json.Marshal(map[string]any{"status": status, "response": map[string]any{}})
	f.send(Message{Topic: msg.Topic, Event: eventReply, Payload: payload, Ref: msg.Ref, JoinRef: msg.JoinRef})
}

func (f *fakeServer) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		f.t.Errorf("marshal server frame: %v", err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return
	}
	_ = f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *fakeServer) pushEvent(topic, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		f.t.Errorf("marshal server payload: %v", err)
		return
	}
	f.send(Message{Topic: topic, Event: event, Payload: raw})
}

func (f *fakeServer) lastJoin() (joinPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.joins) == 0 {
		return joinPayload{}, false
	}
	return f.joins[len(f.joins)-1], true
}

func (f *fakeServer) framesFor(event string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, msg := range f.frames {
		if msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeServer) rawQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query
}
