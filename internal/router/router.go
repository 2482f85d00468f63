package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dapurlaras/pos-api/internal/auth"
	"github.com/dapurlaras/pos-api/internal/config"
	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
	"github.com/dapurlaras/pos-api/internal/handler"
	"github.com/dapurlaras/pos-api/internal/middleware"
	"github.com/dapurlaras/pos-api/internal/service"
	"github.com/dapurlaras/pos-api/internal/ws"
)

// New builds the HTTP router with every handler wired up.
func New(cfg *config.Config, pool *pgxpool.Pool, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	queries := database.New(pool)

	// Services
	billService := service.NewBillService(pool, func(db database.DBTX) service.BillStore {
		return database.New(db)
	})
	approvalService := service.NewApprovalService(pool, func(db database.DBTX) service.ApprovalStore {
		return database.New(db)
	}, auth.NewPinVerifier(queries))
	splitService := service.NewSplitService(pool, func(db database.DBTX) service.SplitStore {
		return database.New(db)
	})
	settlementService := service.NewSettlementService(queries, pool, func(db database.DBTX) service.SettlementStore {
		return database.New(db)
	})
	shiftService := service.NewShiftService(queries, pool, func(db database.DBTX) service.ShiftStore {
		return database.New(db)
	})

	// Handlers
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	userHandler := handler.NewUserHandler(queries)
	menuHandler := handler.NewMenuHandler(queries)
	billHandler := handler.NewBillHandler(billService, queries, hub)
	approvalHandler := handler.NewApprovalHandler(approvalService, queries, hub)
	splitHandler := handler.NewSplitHandler(splitService, queries, hub)
	settlementHandler := handler.NewSettlementHandler(settlementService, hub)
	shiftHandler := handler.NewShiftHandler(shiftService, hub)

	// Both endpoints that carry credentials get brute-force throttling.
	loginLimiter := middleware.NewRateLimiter(1, 5)
	resolveLimiter := middleware.NewRateLimiter(1, 5)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`)) //nolint:errcheck
	})

	// Public routes
	r.With(loginLimiter.Limit).Post("/auth/login", authHandler.Login)
	r.Post("/auth/refresh", authHandler.Refresh)

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, req)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.JWTSecret))

		r.Route("/menu", menuHandler.RegisterRoutes)
		r.Route("/users", userHandler.RegisterRoutes)

		r.Route("/bills", func(r chi.Router) {
			billHandler.RegisterRoutes(r)
			r.Route("/{id}/split", splitHandler.RegisterRoutes)
		})

		r.Route("/approvals", func(r chi.Router) {
			approvalHandler.RegisterRoutes(r)
			r.With(resolveLimiter.Limit).Post("/{id}/resolve", approvalHandler.Resolve)
		})
		r.With(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleManager)).
			Get("/deletion-log", approvalHandler.DeletionLog)

		r.Route("/settlements", settlementHandler.RegisterRoutes)
		r.Route("/shifts", shiftHandler.RegisterRoutes)
	})

	log.Println("Router initialized with all handlers")
	return r
}
