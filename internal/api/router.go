package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(RequestLoggerMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/sessions/start", apiHandler.StartSessionHandler)
			r.Get("/sessions", apiHandler.ListSessionsHandler)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", apiHandler.GetSessionHandler)
				r.Post("/messages", apiHandler.PostMessageHandler)
				r.Post("/respond", apiHandler.RespondHandler)
				r.Post("/answer", apiHandler.RecordAnswerHandler)
				r.Post("/recording/analysis", apiHandler.RecordAnalysisHandler)
				r.Post("/complete", apiHandler.CompleteSessionHandler)
				r.Get("/conversation", apiHandler.ConversationHandler)
			})

			r.Get("/history", apiHandler.PracticeHistoryHandler)
			r.Post("/history/compare", apiHandler.CompareSessionsHandler)
		})
	})

	return r
}
