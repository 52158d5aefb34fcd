//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"encoding/json"
	"reflect"
	"room-chat/domain"
	"room-chat/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// Subscription detaches an auth-state listener.
type Subscription interface {
	Unsubscribe()
}

// AuthStateListener receives every session replacement, nil on sign-out.
type AuthStateListener func(evt domain.AuthEvent, session *domain.Session)

// IAuthProvider is the identity provider boundary.
type IAuthProvider interface {
	GetSession(ctx context.Context) (*domain.Session, error)
	OnAuthStateChange(listener AuthStateListener) Subscription
	SignInWithOAuth(ctx context.Context, provider string) error
	SignOut(ctx context.Context) error
}

type ISessionStore interface {
	Load() (*domain.Session, error)
	Save(session *domain.Session) error
	Delete() error
}

// IRealtime hands out channels on the shared realtime connection.
type IRealtime interface {
	Channel(name string, options domain.ChannelOptions) IChannel
}

type SubscribeCallback func(status domain.SubscribeStatus, err error)

// IChannel is one subscription on the realtime backend.
// Callbacks are invoked from the transport goroutine and must not block.
type IChannel interface {
	OnBroadcast(event string, handler func(payload json.RawMessage))
	OnPresenceSync(handler func())
	Subscribe(ctx context.Context, callback SubscribeCallback)
	Track(ctx context.Context, meta domain.PresenceMeta) error
	Send(ctx context.Context, event string, payload any) (bool, error)
	PresenceState() map[string][]domain.PresenceMeta
	Unsubscribe(ctx context.Context) error
}

type IChatService interface {
	SetDraft(text string)
	Draft() string
	Send(ctx context.Context) error
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
	Messages() []domain.ChatMessage
	Online() domain.Roster
	Session() *domain.Session
	Joined() bool
	State() domain.ChannelState
}

type ISearchIndex interface {
	Find(ctx context.Context, query string) ([]SearchHit, error)
}

type SearchHit struct {
	Author    string
	Content   string
	Timestamp string
	Score     float64
}
