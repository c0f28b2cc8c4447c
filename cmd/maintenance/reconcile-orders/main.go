package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/chargeup/payment-engine/internal/config"
	"github.com/chargeup/payment-engine/internal/database"
	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/internal/services"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/sirupsen/logrus"
)

// Runs the stale order sweep once, outside the server's cron schedule.
// Useful after an outage where webhooks were lost.
func main() {
	var (
		staleAfter time.Duration
		lookback   time.Duration
		batchSize  int
		listOnly   bool
		purgeCache bool
		timeout    time.Duration
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	flag.DurationVar(&staleAfter, "stale-after", cfg.Reconcile.StaleAfter, "only orders untouched for at least this long")
	flag.DurationVar(&lookback, "lookback", cfg.Reconcile.Lookback, "ignore orders created before now minus lookback")
	flag.IntVar(&batchSize, "batch", cfg.Reconcile.BatchSize, "maximum orders to poll")
	flag.BoolVar(&listOnly, "list", false, "print stale orders without polling the gateway")
	flag.BoolVar(&purgeCache, "purge-cache", false, "also delete expired gateway cache rows")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	orderRepo := database.NewPaymentOrderRepository(db.DB)
	cacheRepo := database.NewCacheRepository(db.DB)

	if listOnly {
		now := time.Now()
		stale, err := orderRepo.ListStale(ctx,
			[]models.OrderStatus{models.OrderStatusAwaitingPayment, models.OrderStatusPending},
			now.Add(-staleAfter), now.Add(-lookback), batchSize)
		if err != nil {
			log.Fatalf("failed to list stale orders: %v", err)
		}

		fmt.Printf("%d stale order(s):\n", len(stale))
		for _, order := range stale {
			gatewayID := "-"
			if order.GatewayOrderID != nil {
				gatewayID = fmt.Sprintf("%d", *order.GatewayOrderID)
			}
			fmt.Printf("  %-38s gateway=%-10s %-16s %d %s updated %s\n",
				order.MerchantOrderID, gatewayID, order.Status,
				order.AmountCents, order.Currency, order.UpdatedAt.Format(time.RFC3339))
		}
		return
	}

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

	tokenConfig := services.DefaultAuthTokenCacheConfig()
	tokenConfig.TTL = cfg.Paymob.AuthTokenTTL
	authTokens := services.NewAuthTokenCache(cacheRepo, gateway, tokenConfig, logger)

	transactionRepo := database.NewPaymentTransactionRepository(db.DB)
	reconciler := services.NewReconciliationService(orderRepo, transactionRepo, gateway, authTokens, services.NewOrderLock(), logger)

	sweeper := services.NewCronService(services.SweepConfig{
		StaleAfter: staleAfter,
		Lookback:   lookback,
		BatchSize:  batchSize,
		JobTimeout: timeout,
	}, orderRepo, reconciler, cacheRepo, logger)

	if err := sweeper.ReconcileStale(ctx); err != nil {
		log.Fatalf("stale order sweep failed: %v", err)
	}

	if purgeCache {
		if err := sweeper.PurgeCache(ctx); err != nil {
			log.Fatalf("cache purge failed: %v", err)
		}
	}

	fmt.Println("Done.")
}
