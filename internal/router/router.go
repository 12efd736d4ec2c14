package router

import (
	"log"
	"net/http"

	"github.com/dawaa-market/api/internal/cache"
	"github.com/dawaa-market/api/internal/config"
	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/dawaa-market/api/internal/handler"
	mw "github.com/dawaa-market/api/internal/middleware"
	"github.com/dawaa-market/api/internal/service"
	"github.com/dawaa-market/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication, company scoping, and role-based middleware as needed.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, summaryCache *cache.Cache) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "https://dashboard.dawaa.market"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`)) //nolint:errcheck
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/companies/{cid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Services shared across handlers
	promotionEngine := service.NewPromotionEngine(queries)
	settlementService := service.NewSettlementService(queries, pool, func(db database.DBTX) service.SettlementStore {
		return database.New(db)
	})
	orderService := service.NewOrderService(pool, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}, promotionEngine)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Admin-only routes (not company-scoped)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleAdmin))

			userHandler := handler.NewUserHandler(queries)
			r.Route("/users", userHandler.RegisterRoutes)
		})

		// Categories: reads for everyone, writes ADMIN only
		categoryHandler := handler.NewCategoryHandler(queries)
		r.Route("/categories", func(r chi.Router) {
			categoryHandler.RegisterRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleAdmin))
				categoryHandler.RegisterAdminRoutes(r)
			})
		})

		// Promotions: reads and cart preview for everyone, writes ADMIN only
		promotionHandler := handler.NewPromotionHandler(queries, promotionEngine)
		r.Route("/promotions", func(r chi.Router) {
			promotionHandler.RegisterRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleAdmin))
				promotionHandler.RegisterAdminRoutes(r)
			})
		})

		// Orders (company and zone scope enforced per order in the handler)
		orderHandler := handler.NewOrderHandler(queries, orderService, settlementService, hub)
		r.Route("/orders", orderHandler.RegisterRoutes)

		// Companies: collection is ADMIN only, the {cid} subtree is scoped
		// to the caller's own company (ADMIN bypasses).
		companyHandler := handler.NewCompanyHandler(queries)
		r.Route("/companies", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleAdmin))
				companyHandler.RegisterAdminRoutes(r)
			})

			r.Route("/{cid}", func(r chi.Router) {
				r.Use(mw.RequireCompany)

				r.Get("/", companyHandler.Get)
				r.With(mw.RequireRole(enum.UserRoleAdmin)).Put("/", companyHandler.Update)

				productHandler := handler.NewProductHandler(queries)
				r.Route("/products", productHandler.RegisterRoutes)

				settlementHandler := handler.NewSettlementHandler(queries, settlementService, summaryCache)
				r.Route("/settlements", func(r chi.Router) {
					r.Use(mw.RequireRole(enum.UserRoleAdmin, enum.UserRoleCompanyManager))
					settlementHandler.RegisterRoutes(r)
				})
			})
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
