package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"room-chat/domain"

	"github.com/dgraph-io/badger/v4"
)

const sessionKey = "session:current"

// SessionRepository persists the single signed-in session in BadgerDB,
// so a restarted client finds it through GetSession.
type SessionRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSessionRepository(db *badger.DB, log *slog.Logger) SessionRepository {
	return SessionRepository{db: db, log: log}
}

// Load returns nil without error when no session was saved.
func (r SessionRepository) Load() (*domain.Session, error) {
	var session domain.Session
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

func (r SessionRepository) Save(session *domain.Session) error {
	if session == nil {
		return r.Delete()
	}
	bytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKey), bytes)
	})
}

func (r SessionRepository) Delete() error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKey))
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	r.log.Debug("Session removed from store")
	return nil
}
