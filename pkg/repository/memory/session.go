package memory

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[types.UserID]*model.Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[types.UserID]*model.Session),
	}
}

func (m *Memory) PutSession(ctx context.Context, session *model.Session) error {
	if err := session.Validate(); err != nil {
		return goerr.Wrap(err, "invalid session")
	}

	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	copied := *session
	m.sessions.sessions[session.UserID] = &copied
	return nil
}

func (m *Memory) GetSession(ctx context.Context, userID types.UserID) (*model.Session, error) {
	if err := userID.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid user ID")
	}

	m.sessions.mu.RLock()
	defer m.sessions.mu.RUnlock()

	session, ok := m.sessions.sessions[userID]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "session not found", goerr.V("user_id", userID))
	}

	// Return a copy to prevent external modification
	copied := *session
	return &copied, nil
}

func (m *Memory) DeleteSession(ctx context.Context, userID types.UserID) error {
	if err := userID.Validate(); err != nil {
		return goerr.Wrap(err, "invalid user ID")
	}

	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	// Deletion is idempotent: removing an absent session is not an error
	delete(m.sessions.sessions, userID)
	return nil
}
