package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (f *Firestore) PutMessage(ctx context.Context, msg *model.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, goerr.Wrap(err, "invalid message")
	}

	stored := *msg
	if stored.IngestedAt.IsZero() {
		stored.IngestedAt = time.Now().UTC()
	}

	// Create-only write: AlreadyExists means another worker (or an earlier
	// attempt of this one) ingested the message first, which is fine
	docRef := f.collection(messagesCollection).Doc(msg.ID.String())
	if _, err := docRef.Create(ctx, &stored); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to create message in firestore",
			goerr.V("message_id", msg.ID))
	}

	return true, nil
}

func (f *Firestore) GetMessage(ctx context.Context, id types.MessageID) (*model.Message, error) {
	if err := id.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid message ID")
	}

	doc, err := f.collection(messagesCollection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "message not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get message from firestore")
	}

	var msg model.Message
	if err := doc.DataTo(&msg); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal message")
	}

	return &msg, nil
}

func (f *Firestore) ListMessages(ctx context.Context, limit int) ([]*model.Message, error) {
	q := f.collection(messagesCollection).
		OrderBy("ingested_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var result []*model.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate messages")
		}

		var msg model.Message
		if err := doc.DataTo(&msg); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal message")
		}
		result = append(result, &msg)
	}

	return result, nil
}
