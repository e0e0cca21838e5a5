package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

func testMessage(id types.MessageID) *model.Message {
	return &model.Message{
		ID:         id,
		CreatedAt:  time.Now().UTC().Add(-time.Minute),
		TeamID:     "team-1",
		ChannelID:  "channel-1",
		SenderID:   "user-1",
		SenderName: "Alice",
		Body:       "hello world",
		Raw:        json.RawMessage(`{"id":"` + id.String() + `"}`),
	}
}

func runMessageRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Put and Get round-trips a message", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.PutMessage(ctx, testMessage("msg-1"))
		gt.NoError(t, err).Required()
		gt.Bool(t, created).True()

		got, err := repo.GetMessage(ctx, "msg-1")
		gt.NoError(t, err).Required()
		gt.Value(t, got.ID).Equal(types.MessageID("msg-1"))
		gt.Value(t, got.TeamID).Equal("team-1")
		gt.Value(t, got.ChannelID).Equal("channel-1")
		gt.Value(t, got.SenderName).Equal("Alice")
		gt.Value(t, got.Body).Equal("hello world")
		gt.Value(t, string(got.Raw)).Equal(`{"id":"msg-1"}`)
		gt.Bool(t, got.IngestedAt.IsZero()).False()
	})

	t.Run("Put is idempotent and keeps the first record", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		first := testMessage("msg-2")
		first.Body = "original body"
		created, err := repo.PutMessage(ctx, first)
		gt.NoError(t, err).Required()
		gt.Bool(t, created).True()

		second := testMessage("msg-2")
		second.Body = "rewritten body"
		created, err = repo.PutMessage(ctx, second)
		gt.NoError(t, err).Required()
		gt.Bool(t, created).False()

		got, err := repo.GetMessage(ctx, "msg-2")
		gt.NoError(t, err).Required()
		gt.Value(t, got.Body).Equal("original body")
	})

	t.Run("Get returns NotFound for unknown message", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.GetMessage(ctx, "no-such-message")
		gt.Error(t, err)
		if !isNotFound(err) {
			t.Errorf("expected NotFound error, got: %v", err)
		}
	})

	t.Run("Put rejects a message without raw payload", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		msg := testMessage("msg-3")
		msg.Raw = nil
		_, err := repo.PutMessage(ctx, msg)
		gt.Error(t, err)
	})

	t.Run("List returns newest first with limit", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		base := time.Now().UTC().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			msg := testMessage(types.MessageID("msg-list-" + string(rune('a'+i))))
			msg.IngestedAt = base.Add(time.Duration(i) * time.Minute)
			created, err := repo.PutMessage(ctx, msg)
			gt.NoError(t, err).Required()
			gt.Bool(t, created).True()
		}

		msgs, err := repo.ListMessages(ctx, 2)
		gt.NoError(t, err).Required()
		gt.Array(t, msgs).Length(2)
		gt.Value(t, msgs[0].ID).Equal(types.MessageID("msg-list-c"))
		gt.Value(t, msgs[1].ID).Equal(types.MessageID("msg-list-b"))
	})
}

func TestMemoryMessageRepository(t *testing.T) {
	runMessageRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreMessageRepository(t *testing.T) {
	runMessageRepositoryTest(t, newFirestoreRepository)
}
