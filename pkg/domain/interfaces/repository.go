package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

// Repository defines the interface for data persistence
type Repository interface {
	// Session methods. PutSession both creates and updates: a token
	// refresh rewrites the stored session in place.
	PutSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, userID types.UserID) (*model.Session, error)
	DeleteSession(ctx context.Context, userID types.UserID) error

	// Notification queue methods. UpdateNotificationStatus is a
	// compare-and-set on the status field: it fails with ErrStatusConflict
	// when the row is no longer in the expected status, so two worker
	// instances never double-process the same row.
	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id types.NotificationID) (*model.Notification, error)
	ListRunnableNotifications(ctx context.Context, maxAttempts, limit int) ([]*model.Notification, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*model.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id types.NotificationID, from, to types.NotificationStatus, attempts int, lastError string) error

	// Message methods. PutMessage is idempotent on the external message
	// ID: a duplicate reports created=false and no error.
	PutMessage(ctx context.Context, msg *model.Message) (created bool, err error)
	GetMessage(ctx context.Context, id types.MessageID) (*model.Message, error)
	ListMessages(ctx context.Context, limit int) ([]*model.Message, error)

	Close() error
}
