package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/classmate-app/classmate/internal/api/handlers"
	"github.com/classmate-app/classmate/internal/config"
	"github.com/classmate-app/classmate/internal/ingest"
	"github.com/classmate-app/classmate/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, log zerolog.Logger, assets *services.AssetService, chat *services.ChatService, pipeline *ingest.Pipeline) *Server {
	assetHandler := handlers.NewAssetHandler(assets)
	chatHandler := handlers.NewChatHandler(chat)
	webhookHandler := handlers.NewWebhookHandler(pipeline)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	}))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Route("/courses/{courseID}", func(course chi.Router) {
			course.Post("/assets", assetHandler.Register)
			course.Get("/assets", assetHandler.List)
			course.Post("/chat", chatHandler.Ask)
			course.Delete("/", assetHandler.DeleteCourse)
		})
		api.Post("/assets/{assetID}/retry", assetHandler.Retry)
		api.Delete("/assets/{assetID}", assetHandler.Delete)
		api.Post("/webhooks/transcription", webhookHandler.Transcription)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
