package router

import (
	"crypto/subtle"
	"net/http"
	"time"

	"offramp-engine/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// New wires the HTTP surface. The chat webhook is open (the transport signs
// requests at its own layer); collaborator callbacks require the shared
// API key.
func New(
	chat *handler.ChatHandler,
	callbacks *handler.CallbackHandler,
	health *handler.HealthHandler,
	webhookAPIKey string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "x-api-key"},
		MaxAge:         300,
	}))

	r.Get("/health", health.Health)
	r.Post("/webhooks/chat", chat.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(webhookAPIKey))
		r.Post("/callbacks/payout", callbacks.Payout)
		r.Post("/callbacks/deposit", callbacks.Deposit)
	})

	return r
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("x-api-key")
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
