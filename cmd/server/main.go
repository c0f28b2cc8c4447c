package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chargeup/payment-engine/internal/config"
	"github.com/chargeup/payment-engine/internal/database"
	"github.com/chargeup/payment-engine/internal/handlers"
	"github.com/chargeup/payment-engine/internal/middleware"
	"github.com/chargeup/payment-engine/internal/services"
	"github.com/chargeup/payment-engine/pkg/jwt"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting payment engine")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize repositories
	orderRepo := database.NewPaymentOrderRepository(db.DB)
	transactionRepo := database.NewPaymentTransactionRepository(db.DB)
	auditRepo := database.NewWebhookAuditRepository(db.DB, logger)
	cardTokenRepo := database.NewCardTokenWebhookRepository(db.DB)
	instrumentRepo := database.NewSavedInstrumentRepository(db.DB)
	cacheRepo := database.NewCacheRepository(db.DB)
	userRepo := database.NewUserRepository(db)
	logger.Info("Repositories initialized")

	// Gateway client
	gateway := paymob.NewClient(paymob.Config{
		BaseURL:      cfg.Paymob.BaseURL,
		IntentionURL: cfg.Paymob.IntentionURL,
		APIKey:       cfg.Paymob.APIKey,
		SecretKey:    cfg.Paymob.SecretKey,
		Timeout:      cfg.Paymob.HTTPTimeout,
		Retry: paymob.RetryPolicy{
			MaxRetries: cfg.Paymob.MaxRetries,
			BaseDelay:  cfg.Paymob.RetryBaseDelay,
			MaxDelay:   cfg.Paymob.RetryMaxDelay,
		},
	}, logger)
	if cfg.Paymob.CardIntegrationID == 0 {
		logger.Warn("PAYMOB_CARD_INTEGRATION_ID is not set, card checkout will be rejected by the gateway")
	}

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)

	tokenConfig := services.DefaultAuthTokenCacheConfig()
	tokenConfig.TTL = cfg.Paymob.AuthTokenTTL
	authTokens := services.NewAuthTokenCache(cacheRepo, gateway, tokenConfig, logger)

	locks := services.NewOrderLock()
	ledger := services.NewOrderLedger(orderRepo, logger)
	binder := services.NewGatewayOrderBinder(orderRepo, gateway, authTokens, logger)
	keyIssuer := services.NewPaymentKeyIssuer(orderRepo, gateway, authTokens, logger)
	reconciler := services.NewReconciliationService(orderRepo, transactionRepo, gateway, authTokens, locks, logger)

	checkoutService := services.NewCheckoutService(
		services.CheckoutConfig{
			DefaultCurrency:       cfg.Paymob.DefaultCurrency,
			IframeID:              cfg.Paymob.IframeID,
			CardIntegrationID:     cfg.Paymob.CardIntegrationID,
			WalletIntegrationID:   cfg.Paymob.WalletIntegrationID,
			ApplePayIntegrationID: cfg.Paymob.ApplePayIntegrationID,
			MotoIntegrationID:     cfg.Paymob.MotoIntegrationID,
			PaymentKeyTTL:         cfg.Paymob.PaymentKeyTTL,
			PublicKey:             cfg.Paymob.PublicKey,
			CheckoutURL:           cfg.Paymob.CheckoutURL,
		},
		locks,
		ledger,
		binder,
		keyIssuer,
		reconciler,
		gateway,
		transactionRepo,
		instrumentRepo,
		logger,
	)

	cardTokenService := services.NewCardTokenService(cardTokenRepo, instrumentRepo, orderRepo, userRepo, logger)
	webhookService := services.NewWebhookService(cfg.Paymob.HMACSecret, auditRepo, reconciler, cardTokenService, logger)
	logger.Info("Services initialized")

	// Background reconciliation
	cronService := services.NewCronService(services.SweepConfig{
		Schedule:   cfg.Reconcile.Schedule,
		StaleAfter: cfg.Reconcile.StaleAfter,
		Lookback:   cfg.Reconcile.Lookback,
		BatchSize:  cfg.Reconcile.BatchSize,
	}, orderRepo, reconciler, cacheRepo, logger)
	if cfg.Reconcile.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	} else {
		logger.Warn("Stale order reconciliation disabled")
	}

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(checkoutService, ledger, reconciler, instrumentRepo, logger)
	webhookHandler := handlers.NewWebhookHandler(webhookService, logger)
	adminHandler := handlers.NewAdminHandler(ledger, transactionRepo, auditRepo, cronService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health and metrics endpoints
	router.GET("/health", handlers.HealthCheck(db, version))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			// Gateway callbacks (signature verified in the service)
			payments.POST("/webhook", webhookHandler.Receive)
			payments.GET("/webhook", webhookHandler.Receive)

			protected := payments.Group("")
			protected.Use(middleware.AuthMiddleware(jwtService, logger))
			{
				protected.POST("/card", paymentHandler.CheckoutCard)
				protected.POST("/wallet", paymentHandler.CheckoutWallet)
				protected.POST("/apple-pay", paymentHandler.CheckoutApplePay)
				protected.POST("/saved-card", paymentHandler.ChargeSavedCard)
				protected.POST("/intention", paymentHandler.CheckoutIntention)
				protected.GET("/orders/:merchant_order_id/status", paymentHandler.GetOrderStatus)
				protected.GET("/saved-cards", paymentHandler.ListSavedCards)
			}
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService, logger))
		admin.Use(middleware.RequireRole("admin"))
		{
			admin.GET("/orders/:merchant_order_id", adminHandler.GetOrder)
			admin.GET("/jobs", adminHandler.GetJobStatus)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if cfg.Reconcile.Enabled {
		cronService.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}
