package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/vitawell/backend/docs"
	"github.com/vitawell/backend/internal/config"
	"github.com/vitawell/backend/internal/database"
	"github.com/vitawell/backend/internal/handlers"
	mW "github.com/vitawell/backend/internal/middleware"
	"github.com/vitawell/backend/internal/services"
)

// @title VitaWell Club Financial API
// @version 1.0
// @description Ledger, commission settlement and withdrawal API for the VitaWell partner network
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "VitaWell Club Financial API"
	docs.SwaggerInfo.Description = "Ledger, commission settlement and withdrawal API for the VitaWell partner network"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	settlementCfg := config.LoadSettlementConfig()
	withdrawalCfg := config.LoadWithdrawalConfig()
	networkCfg := config.LoadNetworkConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatalf("Failed to migrate database schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db)
	networkService := services.NewNetworkService(db, redisClient, networkCfg)
	settlementService := services.NewSettlementService(db, redisClient, ledgerService, networkService, settlementCfg)
	payoutService := services.NewPayoutService()
	bankService := services.NewBankService()
	withdrawalService := services.NewWithdrawalService(db, ledgerService, payoutService, bankService, withdrawalCfg)

	settlementHandler := handlers.NewSettlementHandler(settlementService)
	networkHandler := handlers.NewNetworkHandler(networkService)
	walletHandler := handlers.NewWalletHandler(ledgerService)

	// Queue worker drains the settlement queue until shutdown
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	worker := services.NewSettlementWorker(settlementService, redisClient, settlementCfg)
	go worker.Run(workerCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/payout-banks", bankService.GetAllBanks)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Wallet endpoints
			r.Get("/wallet/accounts", walletHandler.GetAccounts)
			r.Get("/wallet/balance", walletHandler.GetBalance)
			r.Get("/wallet/accounts/{accountID}/postings", walletHandler.GetAccountPostings)

			// Withdrawal endpoints
			r.Post("/withdrawals", withdrawalService.CreateWithdrawalHandler)
			r.Get("/withdrawals", withdrawalService.ListWithdrawalsHandler)
			r.Get("/withdrawals/{id}", withdrawalService.GetWithdrawalHandler)
			r.Post("/withdrawals/{id}/cancel", withdrawalService.CancelWithdrawalHandler)

			// Network endpoints
			r.Get("/network/upline", networkHandler.GetUpline)
			r.Get("/network/downline", networkHandler.GetDownline)
			r.Get("/network/referral-qr", networkHandler.GetReferralInvite)

			// Back office endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.AdminOnly)

				r.Post("/admin/settlements/orders", settlementHandler.EnqueueOrder)
				r.Post("/admin/settlements/orders/sync", settlementHandler.SettleOrder)
				r.Get("/admin/settlements/orders/{orderID}", settlementHandler.GetOrderStatus)

				r.Get("/admin/withdrawals", withdrawalService.AdminListWithdrawalsHandler)
				r.Post("/admin/withdrawals/{id}/review", withdrawalService.AdminReviewHandler)
				r.Post("/admin/withdrawals/{id}/approve", withdrawalService.AdminApproveHandler)
				r.Post("/admin/withdrawals/{id}/reject", withdrawalService.AdminRejectHandler)
				r.Post("/admin/withdrawals/{id}/pay", withdrawalService.AdminPayHandler)
				r.Get("/admin/withdrawals/{id}/payout-message", withdrawalService.AdminPayoutMessageHandler)

				r.Post("/admin/network/edges", networkHandler.RegisterEdge)

				r.Get("/admin/ledger/accounts", walletHandler.AdminListAccounts)
				r.Get("/admin/ledger/accounts/{accountID}/postings", walletHandler.AdminAccountPostings)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Println("Server starting on :" + port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
