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

	"github.com/corebank/backoffice/docs"
	"github.com/corebank/backoffice/internal/config"
	"github.com/corebank/backoffice/internal/database"
	mW "github.com/corebank/backoffice/internal/middleware"
	"github.com/corebank/backoffice/internal/services"
)

// @title Corebank Back Office API
// @version 1.0
// @description Back office API for fund transfer settlement and account administration
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
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Corebank Back Office API"
	docs.SwaggerInfo.Description = "Back office API for fund transfer settlement and account administration"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	bankCfg := config.LoadBankConfig()

	authService := services.NewAuthService(db, redisClient)
	notificationService := services.NewNotificationService(db, redisClient, nil)
	registrationService := services.NewRegistrationService(db, authService, notificationService)
	accountService := services.NewAccountService(db, bankCfg)
	currencyService := services.NewCurrencyService(db)
	bankService := services.NewBankService()
	iso20022Service := services.NewISO20022Service(bankCfg)
	authzService := services.NewAuthorizationService(db)
	settlementService := services.NewSettlementService(db)
	transferService := services.NewTransferService(db, bankCfg, authzService,
		settlementService, notificationService, iso20022Service)
	otpService := services.NewOTPService(db, redisClient, bankCfg, notificationService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Notification delivery worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go notificationService.Run(workerCtx)

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
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
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/banks", bankService.GetAllBanks)
		r.Get("/banks/resolve", bankService.ResolveBankByIBAN)
		r.Get("/currencies", currencyService.ListCurrencies)
		r.Get("/account-products", currencyService.ListAccountProducts)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/profile", authService.Profile)

			// Registrations
			r.Post("/customers", registrationService.CreateCustomer)
			r.Get("/customers", registrationService.ListCustomers)
			r.Post("/persons", registrationService.CreatePerson)
			r.Post("/managers", registrationService.CreateManager)
			r.Post("/accountants", registrationService.CreateAccountant)
			r.Get("/users/{id}/extended", registrationService.GetExtendedUser)

			// Accounts
			r.Post("/accounts", accountService.CreateAccount)
			r.Get("/accounts", accountService.ListAccounts)
			r.Get("/accounts/{id}", accountService.GetAccount)
			r.Put("/accounts/{id}/status", accountService.UpdateAccountStatus)
			r.Get("/accounts/{id}/statement", accountService.GetStatement)

			// Fund transfers
			r.Post("/transfers", transferService.CreateTransfer)
			r.Get("/transfers", transferService.ListTransfers)
			r.Get("/transfers/{id}", transferService.GetTransfer)
			r.Put("/transfers/{id}", transferService.UpdateTransfer)
			r.Delete("/transfers/{id}", transferService.DeleteTransfer)
			r.Post("/transfers/{id}/otp", otpService.RequestOTP)

			// Notifications
			r.Get("/notifications", notificationService.ListNotifications)

			// ISO 20022
			r.Post("/iso20022/convert", iso20022Service.ConvertToISO20022)
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
		log.Printf("Server starting on :%s", port)
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
