package firestore

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (f *Firestore) PutSession(ctx context.Context, session *model.Session) error {
	if err := session.Validate(); err != nil {
		return goerr.Wrap(err, "invalid session")
	}

	docRef := f.collection(sessionsCollection).Doc(session.UserID.String())
	if _, err := docRef.Set(ctx, session); err != nil {
		return goerr.Wrap(err, "failed to put session to firestore",
			goerr.V("user_id", session.UserID))
	}

	return nil
}

func (f *Firestore) GetSession(ctx context.Context, userID types.UserID) (*model.Session, error) {
	if err := userID.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid user ID")
	}

	docRef := f.collection(sessionsCollection).Doc(userID.String())
	doc, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "session not found", goerr.V("user_id", userID))
		}
		return nil, goerr.Wrap(err, "failed to get session from firestore")
	}

	var session model.Session
	if err := doc.DataTo(&session); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal session")
	}

	return &session, nil
}

func (f *Firestore) DeleteSession(ctx context.Context, userID types.UserID) error {
	if err := userID.Validate(); err != nil {
		return goerr.Wrap(err, "invalid user ID")
	}

	// Delete is idempotent in Firestore: deleting an absent document succeeds
	docRef := f.collection(sessionsCollection).Doc(userID.String())
	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete session from firestore",
			goerr.V("user_id", userID))
	}

	return nil
}
