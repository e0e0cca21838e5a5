package memory

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/interfaces"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = goerr.New("not found")

// ErrStatusConflict is returned when a compare-and-set status update
// observes a different status than expected
var ErrStatusConflict = goerr.New("notification status conflict")

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory is an in-memory repository for development and tests
type Memory struct {
	sessions      *sessionStore
	notifications *notificationStore
	messages      *messageStore
}

var _ interfaces.Repository = &Memory{}

// New creates a new in-memory repository
func New() *Memory {
	return &Memory{
		sessions:      newSessionStore(),
		notifications: newNotificationStore(),
		messages:      newMessageStore(),
	}
}

// Close is a no-op for the in-memory repository
func (m *Memory) Close() error {
	return nil
}
