package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (f *Firestore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if err := n.Validate(); err != nil {
		return goerr.Wrap(err, "invalid notification")
	}

	docRef := f.collection(notificationsCollection).Doc(n.ID.String())
	if _, err := docRef.Create(ctx, n); err != nil {
		return goerr.Wrap(err, "failed to create notification in firestore",
			goerr.V("id", n.ID))
	}

	return nil
}

func (f *Firestore) GetNotification(ctx context.Context, id types.NotificationID) (*model.Notification, error) {
	if err := id.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid notification ID")
	}

	doc, err := f.collection(notificationsCollection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "notification not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get notification from firestore")
	}

	var n model.Notification
	if err := doc.DataTo(&n); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal notification")
	}

	return &n, nil
}

func (f *Firestore) queryNotifications(ctx context.Context, q firestore.Query) ([]*model.Notification, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var result []*model.Notification
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate notifications")
		}

		var n model.Notification
		if err := doc.DataTo(&n); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal notification")
		}
		result = append(result, &n)
	}

	return result, nil
}

func (f *Firestore) ListRunnableNotifications(ctx context.Context, maxAttempts, limit int) ([]*model.Notification, error) {
	col := f.collection(notificationsCollection)

	pending, err := f.queryNotifications(ctx, col.
		Where("status", "==", types.NotificationStatusPending.String()).
		OrderBy("created_at", firestore.Asc).
		Limit(limit))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list pending notifications")
	}

	retriable, err := f.queryNotifications(ctx, col.
		Where("status", "==", types.NotificationStatusFailed.String()).
		Where("attempts", "<", maxAttempts).
		OrderBy("attempts", firestore.Asc).
		OrderBy("created_at", firestore.Asc).
		Limit(limit))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list retriable notifications")
	}

	result := append(pending, retriable...)
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (f *Firestore) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*model.Notification, error) {
	result, err := f.queryNotifications(ctx, f.collection(notificationsCollection).
		Where("status", "==", types.NotificationStatusProcessing.String()).
		Where("updated_at", "<", olderThan).
		OrderBy("updated_at", firestore.Asc))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list stale processing notifications")
	}

	return result, nil
}

func (f *Firestore) UpdateNotificationStatus(ctx context.Context, id types.NotificationID, from, to types.NotificationStatus, attempts int, lastError string) error {
	if err := id.Validate(); err != nil {
		return goerr.Wrap(err, "invalid notification ID")
	}
	if !from.CanTransitionTo(to) {
		return goerr.New("illegal status transition",
			goerr.V("id", id), goerr.V("from", from), goerr.V("to", to))
	}

	docRef := f.collection(notificationsCollection).Doc(id.String())

	// Compare-and-set inside a transaction: the update only commits when
	// the row is still in the expected status
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(ErrNotFound, "notification not found", goerr.V("id", id))
			}
			return goerr.Wrap(err, "failed to get notification in transaction")
		}

		var n model.Notification
		if err := doc.DataTo(&n); err != nil {
			return goerr.Wrap(err, "failed to unmarshal notification")
		}

		if n.Status != from {
			return goerr.Wrap(ErrStatusConflict, "status changed concurrently",
				goerr.V("id", id), goerr.V("expected", from), goerr.V("actual", n.Status))
		}

		return tx.Update(docRef, []firestore.Update{
			{Path: "status", Value: to.String()},
			{Path: "attempts", Value: attempts},
			{Path: "last_error", Value: lastError},
			{Path: "updated_at", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		return err
	}

	return nil
}
