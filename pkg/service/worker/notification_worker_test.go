package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/secmon-lab/iris/pkg/repository/memory"
	"github.com/secmon-lab/iris/pkg/service/graph"
	"github.com/secmon-lab/iris/pkg/service/worker"
)

type mockFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	err       error
	failures  int // fail this many calls before succeeding
	calls     int
}

func (m *mockFetcher) Get(ctx context.Context, userID types.UserID, resource string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.failures > 0 {
		m.failures--
		return nil, goerr.New("transient fetch error")
	}

	body, ok := m.responses[resource]
	if !ok {
		return nil, goerr.New("unexpected resource", goerr.V("resource", resource))
	}
	return body, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func workerRegistry() *model.SubscriptionRegistry {
	registry := model.NewSubscriptionRegistry()
	registry.Register(&model.Subscription{ID: "sub-1", UserID: "user-1"})
	return registry
}

func messageBody(id string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":              id,
		"createdDateTime": "2026-08-01T10:00:00Z",
		"channelIdentity": map[string]string{"teamId": "t1", "channelId": "c1"},
		"from":            map[string]any{"user": map[string]string{"id": "user-7", "displayName": "Bob"}},
		"body":            map[string]string{"contentType": "html", "content": "<p>hello</p>"},
	})
	return body
}

func queueNotification(t *testing.T, repo *memory.Memory, resource string) *model.Notification {
	t.Helper()
	n := model.NewNotification("sub-1", resource, types.ChangeTypeCreated, json.RawMessage(`{}`))
	gt.NoError(t, repo.CreateNotification(context.Background(), n)).Required()
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func statusOf(t *testing.T, repo *memory.Memory, id types.NotificationID) func() *model.Notification {
	t.Helper()
	return func() *model.Notification {
		n, err := repo.GetNotification(context.Background(), id)
		gt.NoError(t, err).Required()
		return n
	}
}

func TestNotificationWorker(t *testing.T) {
	ctx := context.Background()

	t.Run("processes a pending notification end to end", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{responses: map[string][]byte{
			"teams/t1/channels/c1/messages/m1": messageBody("m1"),
		}}
		n := queueNotification(t, repo, "teams/t1/channels/c1/messages/m1")

		w := worker.New(repo, fetcher, workerRegistry(), worker.WithInterval(time.Hour))
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Status == types.NotificationStatusDone
		})

		msg, err := repo.GetMessage(ctx, "m1")
		gt.NoError(t, err).Required()
		gt.Value(t, msg.Body).Equal("hello")
		gt.Value(t, msg.TeamID).Equal("t1")
	})

	t.Run("wake triggers processing without waiting for the ticker", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{responses: map[string][]byte{
			"teams/t1/channels/c1/messages/m2": messageBody("m2"),
		}}

		w := worker.New(repo, fetcher, workerRegistry(), worker.WithInterval(time.Hour))
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		n := queueNotification(t, repo, "teams/t1/channels/c1/messages/m2")
		w.Wake()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Status == types.NotificationStatusDone
		})
	})

	t.Run("retries a transient failure on later cycles", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{
			responses: map[string][]byte{"teams/t1/channels/c1/messages/m3": messageBody("m3")},
			failures:  1,
		}
		n := queueNotification(t, repo, "teams/t1/channels/c1/messages/m3")

		w := worker.New(repo, fetcher, workerRegistry(), worker.WithInterval(10*time.Millisecond))
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Status == types.NotificationStatusDone
		})

		row := statusOf(t, repo, n.ID)()
		gt.Number(t, row.Attempts).Equal(2)
	})

	t.Run("gives up exactly at the attempt cap", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{err: goerr.New("permanent fetch error")}
		n := queueNotification(t, repo, "teams/t1/channels/c1/messages/m4")

		w := worker.New(repo, fetcher, workerRegistry(),
			worker.WithInterval(10*time.Millisecond),
			worker.WithMaxAttempts(3),
		)
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Attempts == 3
		})

		// Give the worker a few more cycles and make sure it stays put
		time.Sleep(50 * time.Millisecond)

		row := statusOf(t, repo, n.ID)()
		gt.Value(t, row.Status).Equal(types.NotificationStatusFailed)
		gt.Number(t, row.Attempts).Equal(3)
		gt.Value(t, row.LastError).NotEqual("")
		gt.Number(t, fetcher.callCount()).Equal(3)
	})

	t.Run("client errors park the row without retrying", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{err: &graph.ClientError{StatusCode: 404, Body: "not found"}}
		n := queueNotification(t, repo, "teams/t1/channels/c1/messages/gone")

		w := worker.New(repo, fetcher, workerRegistry(),
			worker.WithInterval(10*time.Millisecond),
			worker.WithMaxAttempts(3),
		)
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Status == types.NotificationStatusFailed
		})

		// Give the worker a few more cycles and make sure it stays put
		time.Sleep(50 * time.Millisecond)

		row := statusOf(t, repo, n.ID)()
		gt.Number(t, row.Attempts).Equal(3)
		gt.Number(t, fetcher.callCount()).Equal(1)
	})

	t.Run("unidentifiable payloads park the row without retrying", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{responses: map[string][]byte{
			"teams/t1/channels/c1/messages/odd": []byte(`{"body":{"content":"no id here"}}`),
		}}
		n := queueNotification(t, repo, "teams/t1/channels/c1/messages/odd")

		w := worker.New(repo, fetcher, workerRegistry(),
			worker.WithInterval(10*time.Millisecond),
			worker.WithMaxAttempts(3),
		)
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Status == types.NotificationStatusFailed
		})

		time.Sleep(50 * time.Millisecond)

		row := statusOf(t, repo, n.ID)()
		gt.Number(t, row.Attempts).Equal(3)
		gt.Number(t, fetcher.callCount()).Equal(1)
	})

	t.Run("duplicate message marks the row done", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{responses: map[string][]byte{
			"teams/t1/channels/c1/messages/m5": messageBody("m5"),
		}}

		// A previous notification already ingested this message
		_, err := repo.PutMessage(ctx, &model.Message{
			ID:   "m5",
			Body: "already here",
			Raw:  json.RawMessage(`{"id":"m5"}`),
		})
		gt.NoError(t, err).Required()

		n := queueNotification(t, repo, "teams/t1/channels/c1/messages/m5")

		w := worker.New(repo, fetcher, workerRegistry(), worker.WithInterval(time.Hour))
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Status == types.NotificationStatusDone
		})

		msg, err := repo.GetMessage(ctx, "m5")
		gt.NoError(t, err).Required()
		gt.Value(t, msg.Body).Equal("already here")
	})

	t.Run("deleted resources complete without fetching", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{}

		n := model.NewNotification("sub-1", "teams/t1/channels/c1/messages/m6", types.ChangeTypeDeleted, json.RawMessage(`{}`))
		gt.NoError(t, repo.CreateNotification(ctx, n)).Required()

		w := worker.New(repo, fetcher, workerRegistry(), worker.WithInterval(time.Hour))
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Status == types.NotificationStatusDone
		})
		gt.Number(t, fetcher.callCount()).Equal(0)
	})

	t.Run("recovers stale processing rows on start", func(t *testing.T) {
		repo := memory.New()
		fetcher := &mockFetcher{responses: map[string][]byte{
			"teams/t1/channels/c1/messages/m7": messageBody("m7"),
		}}

		// Simulate a crash mid-processing some time ago
		n := queueNotification(t, repo, "teams/t1/channels/c1/messages/m7")
		gt.NoError(t, repo.UpdateNotificationStatus(ctx, n.ID,
			types.NotificationStatusPending, types.NotificationStatusProcessing, 1, "")).Required()

		w := worker.New(repo, fetcher, workerRegistry(),
			worker.WithInterval(10*time.Millisecond),
			worker.WithStaleAfter(-time.Second), // everything counts as stale
		)
		gt.NoError(t, w.Start(ctx)).Required()
		defer w.Stop()

		waitFor(t, time.Second, func() bool {
			return statusOf(t, repo, n.ID)().Status == types.NotificationStatusDone
		})
	})
}
