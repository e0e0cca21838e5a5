package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

type notificationStore struct {
	mu   sync.RWMutex
	rows map[types.NotificationID]*model.Notification
}

func newNotificationStore() *notificationStore {
	return &notificationStore{
		rows: make(map[types.NotificationID]*model.Notification),
	}
}

func copyNotification(n *model.Notification) *model.Notification {
	copied := *n
	if n.Payload != nil {
		copied.Payload = append([]byte(nil), n.Payload...)
	}
	return &copied
}

func (m *Memory) CreateNotification(ctx context.Context, n *model.Notification) error {
	if err := n.Validate(); err != nil {
		return goerr.Wrap(err, "invalid notification")
	}

	m.notifications.mu.Lock()
	defer m.notifications.mu.Unlock()

	if _, exists := m.notifications.rows[n.ID]; exists {
		return goerr.New("notification already exists", goerr.V("id", n.ID))
	}

	m.notifications.rows[n.ID] = copyNotification(n)
	return nil
}

func (m *Memory) GetNotification(ctx context.Context, id types.NotificationID) (*model.Notification, error) {
	if err := id.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid notification ID")
	}

	m.notifications.mu.RLock()
	defer m.notifications.mu.RUnlock()

	n, ok := m.notifications.rows[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "notification not found", goerr.V("id", id))
	}

	return copyNotification(n), nil
}

func (m *Memory) ListRunnableNotifications(ctx context.Context, maxAttempts, limit int) ([]*model.Notification, error) {
	m.notifications.mu.RLock()
	defer m.notifications.mu.RUnlock()

	var result []*model.Notification
	for _, n := range m.notifications.rows {
		if n.Status == types.NotificationStatusPending || n.Retriable(maxAttempts) {
			result = append(result, copyNotification(n))
		}
	}

	// Oldest first so a burst of notifications is drained in arrival order
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (m *Memory) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*model.Notification, error) {
	m.notifications.mu.RLock()
	defer m.notifications.mu.RUnlock()

	var result []*model.Notification
	for _, n := range m.notifications.rows {
		if n.Status == types.NotificationStatusProcessing && n.UpdatedAt.Before(olderThan) {
			result = append(result, copyNotification(n))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	return result, nil
}

func (m *Memory) UpdateNotificationStatus(ctx context.Context, id types.NotificationID, from, to types.NotificationStatus, attempts int, lastError string) error {
	if err := id.Validate(); err != nil {
		return goerr.Wrap(err, "invalid notification ID")
	}
	if !from.CanTransitionTo(to) {
		return goerr.New("illegal status transition",
			goerr.V("id", id), goerr.V("from", from), goerr.V("to", to))
	}

	m.notifications.mu.Lock()
	defer m.notifications.mu.Unlock()

	n, ok := m.notifications.rows[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "notification not found", goerr.V("id", id))
	}

	if n.Status != from {
		return goerr.Wrap(ErrStatusConflict, "status changed concurrently",
			goerr.V("id", id), goerr.V("expected", from), goerr.V("actual", n.Status))
	}

	n.Status = to
	n.Attempts = attempts
	n.LastError = lastError
	n.UpdatedAt = time.Now().UTC()
	return nil
}
