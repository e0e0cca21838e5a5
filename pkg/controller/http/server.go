package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/usecase"
	"github.com/secmon-lab/iris/pkg/utils/errutil"
)

type Server struct {
	router   *chi.Mux
	uc       *usecase.UseCases
	registry *model.SubscriptionRegistry
}

type Options func(*Server)

// WithSubscriptionRegistry enables the subscription listing endpoint
func WithSubscriptionRegistry(registry *model.SubscriptionRegistry) Options {
	return func(s *Server) {
		s.registry = registry
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		uc:     uc,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", statusHandler)
	r.Get("/health", healthHandler)

	// Webhook endpoint. No auth: the sender proves itself per item via
	// the client state secret.
	if uc.Ingest != nil {
		r.Post("/hooks/graph", graphWebhookHandler(uc.Ingest))
	}

	if uc.Auth != nil {
		r.Route("/api/auth", func(r chi.Router) {
			r.Get("/login", authLoginHandler(uc.Auth))
			r.Get("/callback", authCallbackHandler(uc.Auth))
			r.Post("/logout", authLogoutHandler(uc.Auth))
		})
	}

	r.Route("/api/messages", func(r chi.Router) {
		r.Get("/", listMessagesHandler(uc))
		r.Get("/{messageID}", getMessageHandler(uc))
	})

	if s.registry != nil {
		r.Get("/api/subscriptions", subscriptionsHandler(s.registry))
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"service":"iris","status":"ok"}`)) //nolint:errcheck
}

// subscriptionsHandler serves the configured subscription list as JSON
func subscriptionsHandler(registry *model.SubscriptionRegistry) http.HandlerFunc {
	type subscriptionResponse struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	type response struct {
		Subscriptions []subscriptionResponse `json:"subscriptions"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		subs := registry.List()
		resp := response{
			Subscriptions: make([]subscriptionResponse, len(subs)),
		}
		for i, sub := range subs {
			resp.Subscriptions[i] = subscriptionResponse{
				ID:   sub.ID.String(),
				Name: sub.Name,
			}
		}

		data, err := json.Marshal(resp)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to marshal subscriptions response"), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data) //nolint:errcheck // header already committed
	}
}
