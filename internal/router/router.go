package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"sweetshop-rest-api/internal/handler"
	"sweetshop-rest-api/internal/middleware"
	"sweetshop-rest-api/internal/model"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	InventoryHandler *handler.InventoryHandler
	LedgerHandler    *handler.LedgerHandler
	AdminHandler     *handler.AdminHandler
	AuthHandler      *handler.AuthHandler
	AuthMiddleware   func(http.Handler) http.Handler
	AllowedOrigins   []string
	ServiceName      string
	Logger           *zap.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.Logging(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		})
	}

	if cfg.AuthHandler != nil {
		r.Post("/api/auth/register", cfg.AuthHandler.Register)
		r.Post("/api/auth/login", cfg.AuthHandler.Login)
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}
		adminOnly := middleware.RequireRole(model.RoleAdmin)

		if cfg.AuthHandler != nil {
			r.Post("/api/auth/logout", cfg.AuthHandler.Logout)
		}

		if cfg.InventoryHandler != nil {
			h := cfg.InventoryHandler
			r.Route("/api/sweets", func(r chi.Router) {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/search", h.Search)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/purchase", h.Purchase)
					r.With(adminOnly).Put("/", h.Update)
					r.With(adminOnly).Delete("/", h.Delete)
					r.With(adminOnly).Post("/restock", h.Restock)
				})
			})
		}

		if cfg.LedgerHandler != nil {
			r.Get("/api/purchases", cfg.LedgerHandler.History)
			r.With(adminOnly).Route("/api/vouchers", func(r chi.Router) {
				r.Get("/", cfg.LedgerHandler.ListVouchers)
				r.Post("/", cfg.LedgerHandler.CreateVoucher)
			})
		}

		if cfg.AdminHandler != nil {
			r.With(adminOnly).Get("/api/admin/stats", cfg.AdminHandler.GetStats)
		}
	})

	return r
}
