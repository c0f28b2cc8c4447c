package services

import (
	"context"
	"fmt"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// OrderPoller refreshes one order from the gateway
type OrderPoller interface {
	PollOrder(ctx context.Context, merchantOrderID string) (*ReconcileResult, error)
}

// CachePurger removes expired shared cache rows
type CachePurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// SweepConfig controls the stale order sweep
type SweepConfig struct {
	Schedule   string // cron spec with seconds field
	StaleAfter time.Duration
	Lookback   time.Duration
	BatchSize  int
	JobTimeout time.Duration
}

// cachePurgeSchedule runs at minute 30 of every hour
const cachePurgeSchedule = "0 30 * * * *"

// CronService manages scheduled background jobs
type CronService struct {
	cron   *cron.Cron
	config SweepConfig
	orders OrderStore
	poller OrderPoller
	cache  CachePurger
	now    func() time.Time
	logger *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(config SweepConfig, orders OrderStore, poller OrderPoller, cache CachePurger, logger *logrus.Logger) *CronService {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 2 * time.Minute
	}

	return &CronService{
		cron:   cron.New(cron.WithSeconds()),
		config: config,
		orders: orders,
		poller: poller,
		cache:  cache,
		now:    time.Now,
		logger: logger,
	}
}

// Start schedules all jobs and starts the scheduler
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.runJob("reconcile_stale_orders", s.ReconcileStale) }); err != nil {
		return fmt.Errorf("failed to schedule stale order sweep: %w", err)
	}
	s.logger.WithField("schedule", s.config.Schedule).Info("Scheduled: stale order sweep")

	if s.cache != nil {
		if _, err := s.cron.AddFunc(cachePurgeSchedule, func() { s.runJob("purge_gateway_cache", s.PurgeCache) }); err != nil {
			return fmt.Errorf("failed to schedule cache purge: %w", err)
		}
		s.logger.WithField("schedule", cachePurgeSchedule).Info("Scheduled: gateway cache purge")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) runJob(name string, job func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	log := s.logger.WithField("job", name)
	startTime := time.Now()
	if err := job(ctx); err != nil {
		log.WithError(err).Error("Cron job failed")
		return
	}
	log.WithField("duration", time.Since(startTime).String()).Debug("Cron job finished")
}

// ReconcileStale polls the gateway for bound orders stuck awaiting an outcome
func (s *CronService) ReconcileStale(ctx context.Context) error {
	now := s.now()
	stale, err := s.orders.ListStale(ctx,
		[]models.OrderStatus{models.OrderStatusAwaitingPayment, models.OrderStatusPending},
		now.Add(-s.config.StaleAfter),
		now.Add(-s.config.Lookback),
		s.config.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to list stale orders: %w", err)
	}

	var changed, failed int
	for _, order := range stale {
		if ctx.Err() != nil {
			break
		}
		res, err := s.poller.PollOrder(ctx, order.MerchantOrderID)
		if err != nil {
			failed++
			s.logger.WithError(err).WithField("merchant_order_id", order.MerchantOrderID).Warn("Stale order poll failed")
			continue
		}
		if res.StatusChanged {
			changed++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"checked": len(stale),
		"changed": changed,
		"failed":  failed,
	}).Info("Stale order sweep finished")
	return ctx.Err()
}

// PurgeCache deletes expired gateway cache rows
func (s *CronService) PurgeCache(ctx context.Context) error {
	removed, err := s.cache.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge gateway cache: %w", err)
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Purged expired gateway cache rows")
	}
	return nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
