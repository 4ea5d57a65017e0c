package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"chapterfin/internal/handlers"
	"chapterfin/internal/middleware"
	"chapterfin/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Firebase
	credPath := os.Getenv("FIREBASE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "./firebase-service-account.json"
	}
	authClient, err := services.InitFirebase(credPath)
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Auth features will not work until valid credentials are provided")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize Redis
	cache, err := services.NewRedisCache(os.Getenv("REDIS_URL"))
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer cache.Close()

	// Stores
	records := services.NewGormRecordStore(db)
	intents := services.NewGormIntentStore(db)
	configs := services.NewGormConfigStore(db)
	members := services.NewGormMemberStore(db)
	installmentStore := services.NewGormInstallmentStore(db)
	taskQueue := services.NewGormTaskEnqueuer(db)

	// Services
	feeConfig := services.LoadFeeConfig()
	processor := services.NewStripeService()
	ledger := services.NewLedgerService(records)
	payments := services.NewPaymentService(records, intents, processor, feeConfig)
	installments := services.NewInstallmentService(records, installmentStore, payments, taskQueue)
	batch := services.NewBatchService(configs, members, records)

	// Handlers
	configHandler := handlers.NewConfigurationHandler(configs, batch, taskQueue)
	duesHandler := handlers.NewDuesHandler(records, ledger)
	paymentHandler := handlers.NewPaymentHandler(payments)
	installmentHandler := handlers.NewInstallmentHandler(installments)
	summaryHandler := handlers.NewSummaryHandler(configs, records, cache)
	webhookHandler := handlers.NewStripeWebhookHandler(payments, installments)

	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	// Stripe calls this endpoint directly; it authenticates via signature
	e.POST("/webhooks/stripe", webhookHandler.Handle)

	api := e.Group("/api")
	api.Use(middleware.RequireAuth(authClient, members))

	api.POST("/configurations", configHandler.CreateConfiguration)
	api.PUT("/configurations/:id", configHandler.UpdateConfiguration)
	api.POST("/configurations/:id/make-current", configHandler.MakeCurrent)
	api.POST("/configurations/:id/assign", configHandler.Assign)
	api.POST("/configurations/:id/late-fees", configHandler.ApplyLateFees)

	api.GET("/records/:id", duesHandler.GetRecord)
	api.POST("/records/:id/payments", duesHandler.RecordPayment)
	api.DELETE("/payments/:id", duesHandler.DeletePayment)
	api.POST("/records/:id/adjustments", duesHandler.AddAdjustment)
	api.POST("/records/:id/waive", duesHandler.Waive)
	api.POST("/records/:id/unwaive", duesHandler.Unwaive)
	api.GET("/members/:id/records", duesHandler.MemberRecords)

	api.POST("/records/:id/authorize", paymentHandler.Authorize)
	api.POST("/intents/:id/cancel", paymentHandler.CancelIntent)

	api.GET("/records/:id/installment-eligibility", installmentHandler.Eligibility)
	api.POST("/records/:id/installment-plans", installmentHandler.CreatePlan)
	api.POST("/installment-plans/:id/cancel", installmentHandler.CancelPlan)

	api.GET("/chapters/:id/configurations/current", configHandler.CurrentConfiguration)
	api.GET("/chapters/:id/summary", summaryHandler.ChapterSummary)
	api.GET("/chapters/:id/summary.csv", summaryHandler.ChapterSummaryCSV)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
