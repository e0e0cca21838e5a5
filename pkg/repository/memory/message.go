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

type messageStore struct {
	mu       sync.RWMutex
	messages map[types.MessageID]*model.Message
}

func newMessageStore() *messageStore {
	return &messageStore{
		messages: make(map[types.MessageID]*model.Message),
	}
}

func copyMessage(msg *model.Message) *model.Message {
	copied := *msg
	if msg.Raw != nil {
		copied.Raw = append([]byte(nil), msg.Raw...)
	}
	copied.Mentions = append([]model.Mention(nil), msg.Mentions...)
	copied.Attachments = append([]model.Attachment(nil), msg.Attachments...)
	return &copied
}

func (m *Memory) PutMessage(ctx context.Context, msg *model.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, goerr.Wrap(err, "invalid message")
	}

	m.messages.mu.Lock()
	defer m.messages.mu.Unlock()

	// Idempotent on the external message ID: the first write wins and a
	// duplicate is silently skipped, never overwritten
	if _, exists := m.messages.messages[msg.ID]; exists {
		return false, nil
	}

	stored := copyMessage(msg)
	if stored.IngestedAt.IsZero() {
		stored.IngestedAt = time.Now().UTC()
	}
	m.messages.messages[msg.ID] = stored
	return true, nil
}

func (m *Memory) GetMessage(ctx context.Context, id types.MessageID) (*model.Message, error) {
	if err := id.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid message ID")
	}

	m.messages.mu.RLock()
	defer m.messages.mu.RUnlock()

	msg, ok := m.messages.messages[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "message not found", goerr.V("id", id))
	}

	return copyMessage(msg), nil
}

func (m *Memory) ListMessages(ctx context.Context, limit int) ([]*model.Message, error) {
	m.messages.mu.RLock()
	defer m.messages.mu.RUnlock()

	result := make([]*model.Message, 0, len(m.messages.messages))
	for _, msg := range m.messages.messages {
		result = append(result, copyMessage(msg))
	}

	// Most recently ingested first
	sort.Slice(result, func(i, j int) bool {
		return result[i].IngestedAt.After(result[j].IngestedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}
