package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/config"
	"github.com/unclebandit/wa-broadcast/internal/db"
	"github.com/unclebandit/wa-broadcast/internal/logger"
	"github.com/unclebandit/wa-broadcast/internal/queue"
	"github.com/unclebandit/wa-broadcast/internal/repository"
	"github.com/unclebandit/wa-broadcast/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer conn.Close()

	q, err := queue.DialAMQP(cfg.AMQPURL, log, cfg.QueueMaxRetries)
	if err != nil {
		return err
	}
	defer q.Close()

	updater := &service.StatusUpdater{
		Recipients: &repository.RecipientRepository{DB: conn},
		Campaigns:  &repository.CampaignRepository{DB: conn},
		Log:        log,
	}
	if err := subscribe(q, cfg, updater, log); err != nil {
		return err
	}

	log.Info("Worker running, waiting for messages...",
		zap.String("status_queue", cfg.StatusQueue),
		zap.String("events_queue", cfg.EventsQueue))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case amqpErr := <-q.NotifyClose():
		if amqpErr == nil {
			return nil
		}
		return fmt.Errorf("rabbitmq connection closed: %w", amqpErr)
	}
}

// subscribe registers the worker's consumers: delivery status feedback and
// the campaign event log.
func subscribe(q queue.Queue, cfg *config.Config, updater *service.StatusUpdater, log *zap.Logger) error {
	if err := updater.Start(q, cfg.StatusQueue); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.StatusQueue, err)
	}
	if err := queue.StartCampaignEventLogger(q, cfg.EventsQueue, log); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.EventsQueue, err)
	}
	return nil
}
