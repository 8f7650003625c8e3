package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler, requestLogging bool) http.Handler {
	r := chi.NewRouter()

	if requestLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(apiHandler.FaultMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Public routes
	r.Post("/auth/register", apiHandler.RegisterHandler)
	r.Post("/auth/login", apiHandler.LoginHandler)
	r.Post("/auth/refresh", apiHandler.RefreshHandler)

	// User-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)

		r.Get("/auth/me", apiHandler.MeHandler)
		r.Post("/auth/logout", apiHandler.LogoutHandler)
		r.Get("/onboarding/status", apiHandler.OnboardingStatusHandler)

		r.Route("/chat/conversations", func(r chi.Router) {
			r.Get("/", apiHandler.ListConversationsHandler)
			r.Post("/", apiHandler.CreateConversationHandler)
			r.Patch("/{conversationID}", apiHandler.UpdateConversationHandler)
			r.Delete("/{conversationID}", apiHandler.DeleteConversationHandler)
			r.Get("/{conversationID}/messages", apiHandler.ListMessagesHandler)
			r.Post("/{conversationID}/messages", apiHandler.PostMessageHandler)
		})
	})

	return r
}
