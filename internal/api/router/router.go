package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Delinahwakio/fantooo-dispatch/internal/http/handlers"
	httpmiddleware "github.com/Delinahwakio/fantooo-dispatch/internal/http/middleware"
	"github.com/Delinahwakio/fantooo-dispatch/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Dispatch           *handlers.DispatchHandler
	AdminDispatch      *handlers.AdminDispatchHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Dispatch != nil {
		r.Route("/v1", func(v1 chi.Router) {
			v1.Route("/chats/{chatID}", func(chat chi.Router) {
				chat.Post("/queue", cfg.Dispatch.Queue)
				chat.Post("/assign", cfg.Dispatch.Assign)
				chat.Post("/reassign", cfg.Dispatch.Reassign)
			})
			v1.Get("/queue/stats", cfg.Dispatch.QueueStats)
		})
	}

	if cfg.AdminDispatch != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/escalations", cfg.AdminDispatch.ListEscalations)
			admin.Get("/operators", cfg.AdminDispatch.ListOperators)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
