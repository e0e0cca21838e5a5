package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	httpctrl "github.com/secmon-lab/iris/pkg/controller/http"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/secmon-lab/iris/pkg/repository/memory"
	"github.com/secmon-lab/iris/pkg/usecase"
)

type testEnv struct {
	repo   *memory.Memory
	server *httpctrl.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.New()

	registry := model.NewSubscriptionRegistry()
	registry.Register(&model.Subscription{ID: "sub-1", UserID: "user-1", Name: "general channel"})

	auth := usecase.NewAuthUseCase(repo,
		"client-id", "client-secret", "tenant-id", "https://iris.example.com/api/auth/callback",
		[]byte("state-secret"),
	)
	ingest := usecase.NewIngestUseCase(repo, registry, "shared-secret")
	uc := usecase.New(repo, usecase.WithAuth(auth), usecase.WithIngest(ingest))

	return &testEnv{
		repo:   repo,
		server: httpctrl.New(uc, httpctrl.WithSubscriptionRegistry(registry)),
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest("GET", "/health", nil))
	gt.Number(t, rec.Code).Equal(http.StatusOK)
	gt.Value(t, strings.TrimSpace(rec.Body.String())).Equal(`{"status":"ok"}`)
}

func TestWebhook(t *testing.T) {
	t.Run("echoes the validation token as plain text", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest("POST", "/hooks/graph?validationToken=abc123", nil))
		gt.Number(t, rec.Code).Equal(http.StatusOK)
		gt.Value(t, rec.Body.String()).Equal("abc123")
		gt.Value(t, rec.Header().Get("Content-Type")).Equal("text/plain")
	})

	// Queueing happens off the request goroutine, so assertions on the
	// repository have to wait for the dispatched batch to settle
	countRows := func(t *testing.T, env *testEnv) int {
		t.Helper()
		rows, err := env.repo.ListRunnableNotifications(context.Background(), 5, 10)
		gt.NoError(t, err).Required()
		return len(rows)
	}
	waitForRows := func(t *testing.T, env *testEnv, want int) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if countRows(t, env) == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("expected %d queued rows, got %d", want, countRows(t, env))
	}

	t.Run("accepts a valid batch with 202", func(t *testing.T) {
		env := newTestEnv(t)
		body := `{"value":[{"subscriptionId":"sub-1","clientState":"shared-secret","changeType":"created","resource":"teams/t1/channels/c1/messages/m1"}]}`
		rec := env.do(httptest.NewRequest("POST", "/hooks/graph", strings.NewReader(body)))
		gt.Number(t, rec.Code).Equal(http.StatusAccepted)

		waitForRows(t, env, 1)
	})

	t.Run("still returns 202 for a forged client state, queueing nothing", func(t *testing.T) {
		env := newTestEnv(t)
		body := `{"value":[{"subscriptionId":"sub-1","clientState":"forged","changeType":"created","resource":"teams/t1/channels/c1/messages/m1"}]}`
		rec := env.do(httptest.NewRequest("POST", "/hooks/graph", strings.NewReader(body)))
		gt.Number(t, rec.Code).Equal(http.StatusAccepted)

		time.Sleep(50 * time.Millisecond)
		gt.Number(t, countRows(t, env)).Equal(0)
	})

	t.Run("rejects an unreadable batch with 400", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest("POST", "/hooks/graph", strings.NewReader("not json")))
		gt.Number(t, rec.Code).Equal(http.StatusBadRequest)
		// The body must stay generic
		gt.Value(t, strings.TrimSpace(rec.Body.String())).Equal(http.StatusText(http.StatusBadRequest))
	})
}

func TestAuthEndpoints(t *testing.T) {
	t.Run("login redirects to the authorization endpoint with state cookies", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest("GET", "/api/auth/login", nil))
		gt.Number(t, rec.Code).Equal(http.StatusTemporaryRedirect)

		location := rec.Header().Get("Location")
		gt.Bool(t, strings.Contains(location, "/oauth2/v2.0/authorize")).True()
		gt.Bool(t, strings.Contains(location, "client_id=client-id")).True()

		cookies := rec.Result().Cookies()
		names := map[string]bool{}
		for _, c := range cookies {
			names[c.Name] = true
			gt.Bool(t, c.HttpOnly).True()
		}
		gt.Bool(t, names["oauth_state"]).True()
		gt.Bool(t, names["oauth_state_sig"]).True()
	})

	t.Run("callback rejects a tampered state with a generic 401", func(t *testing.T) {
		env := newTestEnv(t)

		login := env.do(httptest.NewRequest("GET", "/api/auth/login", nil))
		var state, sig string
		for _, c := range login.Result().Cookies() {
			switch c.Name {
			case "oauth_state":
				state = c.Value
			case "oauth_state_sig":
				sig = c.Value
			}
		}

		req := httptest.NewRequest("GET", "/api/auth/callback?code=x&state="+state+"tampered", nil)
		req.AddCookie(&http.Cookie{Name: "oauth_state", Value: state + "tampered"})
		req.AddCookie(&http.Cookie{Name: "oauth_state_sig", Value: sig})
		rec := env.do(req)

		gt.Number(t, rec.Code).Equal(http.StatusUnauthorized)
		gt.Value(t, strings.TrimSpace(rec.Body.String())).Equal(http.StatusText(http.StatusUnauthorized))
	})

	t.Run("callback without cookies is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest("GET", "/api/auth/callback?code=x&state=y", nil))
		gt.Number(t, rec.Code).Equal(http.StatusUnauthorized)
	})

	t.Run("logout without a session cookie is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest("POST", "/api/auth/logout", nil))
		gt.Number(t, rec.Code).Equal(http.StatusUnauthorized)
	})

	t.Run("logout deletes the session", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		session := model.NewSession("user-9", "u@example.com", "access", "refresh", time.Now().Add(time.Hour))
		gt.NoError(t, env.repo.PutSession(ctx, session)).Required()

		req := httptest.NewRequest("POST", "/api/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: "user_id", Value: "user-9"})
		rec := env.do(req)
		gt.Number(t, rec.Code).Equal(http.StatusOK)

		_, err := env.repo.GetSession(ctx, "user-9")
		gt.Error(t, err)
	})
}

func TestMessageEndpoints(t *testing.T) {
	seed := func(t *testing.T, env *testEnv, id string, ingestedAt time.Time) {
		t.Helper()
		created, err := env.repo.PutMessage(context.Background(), &model.Message{
			ID:         types.MessageID(id),
			Body:       "body of " + id,
			Raw:        json.RawMessage(`{"id":"` + id + `"}`),
			IngestedAt: ingestedAt,
		})
		gt.NoError(t, err).Required()
		gt.Bool(t, created).True()
	}

	t.Run("lists messages newest first", func(t *testing.T) {
		env := newTestEnv(t)
		base := time.Now().UTC().Add(-time.Hour)
		seed(t, env, "m1", base)
		seed(t, env, "m2", base.Add(time.Minute))

		rec := env.do(httptest.NewRequest("GET", "/api/messages", nil))
		gt.Number(t, rec.Code).Equal(http.StatusOK)

		var resp struct {
			Messages []struct {
				MessageID string `json:"message_id"`
			} `json:"messages"`
		}
		gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)).Required()
		gt.Array(t, resp.Messages).Length(2)
		gt.Value(t, resp.Messages[0].MessageID).Equal("m2")
	})

	t.Run("honors the limit parameter", func(t *testing.T) {
		env := newTestEnv(t)
		base := time.Now().UTC().Add(-time.Hour)
		seed(t, env, "m1", base)
		seed(t, env, "m2", base.Add(time.Minute))

		rec := env.do(httptest.NewRequest("GET", "/api/messages?limit=1", nil))
		gt.Number(t, rec.Code).Equal(http.StatusOK)

		var resp struct {
			Messages []json.RawMessage `json:"messages"`
		}
		gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)).Required()
		gt.Array(t, resp.Messages).Length(1)
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest("GET", "/api/messages?limit=banana", nil))
		gt.Number(t, rec.Code).Equal(http.StatusBadRequest)
	})

	t.Run("gets one message by ID", func(t *testing.T) {
		env := newTestEnv(t)
		seed(t, env, "m1", time.Now().UTC())

		rec := env.do(httptest.NewRequest("GET", "/api/messages/m1", nil))
		gt.Number(t, rec.Code).Equal(http.StatusOK)

		var msg struct {
			MessageID string `json:"message_id"`
			Body      string `json:"body_text"`
		}
		gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg)).Required()
		gt.Value(t, msg.MessageID).Equal("m1")
		gt.Value(t, msg.Body).Equal("body of m1")
	})

	t.Run("unknown message is 404", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest("GET", "/api/messages/nope", nil))
		gt.Number(t, rec.Code).Equal(http.StatusNotFound)
	})
}

func TestSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest("GET", "/api/subscriptions", nil))
	gt.Number(t, rec.Code).Equal(http.StatusOK)

	var resp struct {
		Subscriptions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"subscriptions"`
	}
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)).Required()
	gt.Array(t, resp.Subscriptions).Length(1)
	gt.Value(t, resp.Subscriptions[0].ID).Equal("sub-1")
	gt.Value(t, resp.Subscriptions[0].Name).Equal("general channel")
}
